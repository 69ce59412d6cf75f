// Package provider implements the streaming provider adapter: request
// shaping against a chat-completions endpoint, the SSE decoder that turns
// a byte stream into typed StreamEvents, and the non-streaming completion
// path.
package provider

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/nexuscore/agentgate/internal/agent"
)

const ssePrefix = "data: "
const sseDone = "[DONE]"

// chunkDelta mirrors a single chat-completion SSE chunk's relevant fields.
// Every field is optional; a chunk may carry any subset.
type chunkDelta struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []chunkToolCall  `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		PromptTokensDetails *struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

type chunkToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Decoder turns a byte-stream HTTP response body into a sequence of typed
// agent.StreamEvents. It owns the tool-call reassembly state for the
// duration of one stream; a fresh Decoder must be created per request.
//
// MaxMalformedChunks, when positive, escalates a persistent run of
// malformed-JSON chunks to a StreamError instead of silently skipping them
// forever (see the Open Question in the design notes). Zero — the
// default — disables the threshold and mirrors the lenient default: every
// malformed chunk is simply skipped.
type Decoder struct {
	reassembly         *agent.ToolCallReassembly
	usage              agent.Usage
	MaxMalformedChunks int
	malformedRun       int
}

// NewDecoder returns a Decoder ready to consume one SSE stream.
func NewDecoder() *Decoder {
	return &Decoder{reassembly: agent.NewToolCallReassembly()}
}

// Decode reads body line by line, emitting StreamEvents on the returned
// channel as they're produced. The channel is closed when the stream
// terminates (on [DONE], EOF, or an Error event). Decode itself returns
// once the goroutine that feeds the channel has been started; callers
// range over the channel to consume events.
func (d *Decoder) Decode(body io.ReadCloser) <-chan agent.StreamEvent {
	out := make(chan agent.StreamEvent)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !strings.HasPrefix(line, ssePrefix) {
				continue
			}
			payload := strings.TrimPrefix(line, ssePrefix)

			if payload == sseDone {
				d.finalize(out)
				return
			}

			if !d.processChunk(payload, out) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			out <- agent.StreamEvent{Kind: agent.StreamError, Message: err.Error()}
			return
		}

		// Upstream EOF without an explicit [DONE]: finalize per the same
		// contract.
		d.finalize(out)
	}()
	return out
}

// processChunk decodes a single SSE data payload and emits the
// corresponding events. Returns false if the stream should terminate
// (malformed-chunk threshold exceeded).
func (d *Decoder) processChunk(payload string, out chan<- agent.StreamEvent) bool {
	var chunk chunkDelta
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		d.malformedRun++
		if d.MaxMalformedChunks > 0 && d.malformedRun > d.MaxMalformedChunks {
			out <- agent.StreamEvent{Kind: agent.StreamError, Message: "too many malformed stream chunks"}
			return false
		}
		return true
	}
	d.malformedRun = 0

	if chunk.Usage != nil {
		d.usage.InputTokens += chunk.Usage.PromptTokens
		d.usage.OutputTokens += chunk.Usage.CompletionTokens
		if chunk.Usage.PromptTokensDetails != nil {
			d.usage.CacheReadTokens += chunk.Usage.PromptTokensDetails.CachedTokens
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			out <- agent.StreamEvent{Kind: agent.StreamDelta, Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			if tc.ID != "" && tc.Function.Name != "" {
				if d.reassembly.Start(tc.Index, tc.ID, tc.Function.Name) {
					out <- agent.StreamEvent{Kind: agent.StreamToolCallStart, ID: tc.ID, Name: tc.Function.Name, Index: tc.Index}
				}
			}
			if tc.Function.Arguments != "" {
				d.reassembly.AppendArgs(tc.Index, tc.Function.Arguments)
				out <- agent.StreamEvent{Kind: agent.StreamToolCallArgsDelta, Index: tc.Index, Chunk: tc.Function.Arguments}
			}
		}

		if choice.FinishReason == "tool_calls" {
			d.completeOpenToolCalls(out)
		}
	}
	return true
}

func (d *Decoder) completeOpenToolCalls(out chan<- agent.StreamEvent) {
	for _, idx := range d.reassembly.OpenIndexes() {
		d.reassembly.Close(idx)
		out <- agent.StreamEvent{Kind: agent.StreamToolCallComplete, Index: idx}
	}
}

// finalize emits completion events for every tool call still open, then a
// terminal Done event with whatever usage has accumulated. Called on
// [DONE] or upstream EOF.
func (d *Decoder) finalize(out chan<- agent.StreamEvent) {
	d.completeOpenToolCalls(out)
	out <- agent.StreamEvent{Kind: agent.StreamDone, Usage: d.usage}
}
