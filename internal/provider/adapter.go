package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexuscore/agentgate/internal/agent"
)

// moonshotMarker is matched case-insensitively against both ProviderName and
// the host of BaseURL, mirroring the upstream quirk: Moonshot's Kimi models reject an
// assistant turn carrying tool_calls unless reasoning_content is present and
// mirrors content.
const moonshotMarker = "moonshot"

// Config configures a ChatCompletionsProvider.
type Config struct {
	// BaseURL is the provider's OpenAI-compatible endpoint, e.g.
	// "https://api.openai.com/v1".
	BaseURL string
	// APIKey is sent as a Bearer token. Never logged.
	APIKey SecretString
	// Model is the model identifier sent on every request.
	Model string
	// ProviderName is used only to detect provider-specific quirks (the
	// moonshot reasoning_content mirror). Purely advisory.
	ProviderName string

	// HTTPClient, if nil, defaults to a client with a 2-minute overall
	// timeout and a 30-second response-header timeout.
	HTTPClient *http.Client

	// MaxRetries bounds the total number of attempts, the first one
	// included, when transport-level failures occur. Defaults to 3.
	MaxRetries int
	// RetryDelay is the base backoff unit; attempt N waits RetryDelay*N.
	// Defaults to one second.
	RetryDelay time.Duration

	// MaxMalformedChunks is forwarded to the Decoder for each stream.
	MaxMalformedChunks int
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

func (c Config) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return 3
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return time.Second
}

func (c Config) needsReasoningContentQuirk() bool {
	name := strings.ToLower(c.ProviderName)
	host := ""
	if u, err := url.Parse(c.BaseURL); err == nil {
		host = strings.ToLower(u.Host)
	}
	return strings.Contains(name, moonshotMarker) || strings.Contains(host, moonshotMarker)
}

// ChatCompletionsProvider implements agent.LLMProvider and
// agent.StreamingProvider against an OpenAI-compatible chat-completions
// endpoint.
type ChatCompletionsProvider struct {
	config Config
}

// New constructs a ChatCompletionsProvider.
func New(config Config) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{config: config}
}

// wireMessage is the chat-completions wire shape for one history entry.
type wireMessage struct {
	Role             string          `json:"role"`
	Content          string          `json:"content"`
	ToolCalls        []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID       string          `json:"tool_call_id,omitempty"`
	ReasoningContent *string         `json:"reasoning_content,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []wireMessage  `json:"messages"`
	Tools         []wireTool     `json:"tools,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string          `json:"content"`
			ToolCalls []wireToolCall  `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *ChatCompletionsProvider) buildMessages(history []agent.Message) []wireMessage {
	quirk := p.config.needsReasoningContentQuirk()
	out := make([]wireMessage, 0, len(history))
	for _, m := range history {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolCallFunc{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		if quirk && m.Role == agent.RoleAssistant && len(wm.ToolCalls) > 0 {
			reasoning := wm.Content
			wm.ReasoningContent = &reasoning
		}
		out = append(out, wm)
	}
	return out
}

func (p *ChatCompletionsProvider) buildTools(tools []agent.ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParametersSchema,
			},
		})
	}
	return out
}

func (p *ChatCompletionsProvider) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if !p.config.APIKey.Empty() {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey.Reveal())
	}
	return req, nil
}

// doWithRetry sends body (building a fresh *http.Request per attempt, since
// a request body can only be read once) and retries only transport-level
// failures — a non-2xx HTTP response is never retried, it is returned
// immediately and the caller turns it into a *agent.ProviderError.
func (p *ChatCompletionsProvider) doWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	client := p.config.httpClient()
	var lastErr error

	for attempt := 0; attempt < p.config.maxRetries(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.retryDelay() * time.Duration(attempt)):
			}
		}

		req, err := p.newRequest(ctx, body)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func readProviderError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	return &agent.ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
}

// Complete implements agent.LLMProvider.
func (p *ChatCompletionsProvider) Complete(ctx context.Context, history []agent.Message, tools []agent.ToolSchema) (*agent.CompletionResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:    p.config.Model,
		Messages: p.buildMessages(history),
		Tools:    p.buildTools(tools),
		Stream:   false,
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readProviderError(resp)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return &agent.CompletionResponse{}, nil
	}

	choice := parsed.Choices[0].Message
	out := &agent.CompletionResponse{
		Text: choice.Content,
		Usage: agent.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// CompleteStream implements agent.StreamingProvider.
func (p *ChatCompletionsProvider) CompleteStream(ctx context.Context, history []agent.Message, tools []agent.ToolSchema) (<-chan agent.StreamEvent, error) {
	body, err := json.Marshal(chatRequest{
		Model:         p.config.Model,
		Messages:      p.buildMessages(history),
		Tools:         p.buildTools(tools),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.doWithRetry(ctx, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readProviderError(resp)
	}

	decoder := NewDecoder()
	decoder.MaxMalformedChunks = p.config.MaxMalformedChunks
	return decoder.Decode(resp.Body), nil
}

// DrainStream assembles a channel of StreamEvents back into a single
// CompletionResponse, for callers of agent.LLMProvider.Complete that only
// have a StreamingProvider available. A StreamError event surfaces as a
// KindStream LoopError.
func DrainStream(events <-chan agent.StreamEvent) (*agent.CompletionResponse, error) {
	var text strings.Builder
	reassembly := agent.NewToolCallReassembly()
	var completed []agent.ToolCallRequest
	var usage agent.Usage

	for ev := range events {
		switch ev.Kind {
		case agent.StreamDelta:
			text.WriteString(ev.Text)
		case agent.StreamToolCallStart:
			reassembly.Start(ev.Index, ev.ID, ev.Name)
		case agent.StreamToolCallArgsDelta:
			reassembly.AppendArgs(ev.Index, ev.Chunk)
		case agent.StreamToolCallComplete:
			if b, ok := reassembly.Close(ev.Index); ok {
				completed = append(completed, agent.ToolCallRequest{
					ID: b.ID, Name: b.Name, Arguments: json.RawMessage(b.Buffer),
				})
			}
		case agent.StreamDone:
			usage = ev.Usage
		case agent.StreamError:
			return nil, agent.NewLoopError(agent.KindStream, errors.New(ev.Message))
		}
	}

	return &agent.CompletionResponse{
		Text:      text.String(),
		ToolCalls: completed,
		Usage:     usage,
	}, nil
}
