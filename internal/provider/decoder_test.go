package provider

import (
	"io"
	"strings"
	"testing"

	"github.com/nexuscore/agentgate/internal/agent"
)

func sseBody(lines ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func collect(events <-chan agent.StreamEvent) []agent.StreamEvent {
	var out []agent.StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestDecoderDeltaThenDone(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	)

	events := collect(NewDecoder().Decode(body))
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Kind != agent.StreamDelta || events[0].Text != "hel" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != agent.StreamDelta || events[1].Text != "lo" {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != agent.StreamDone {
		t.Fatalf("expected a final Done event, got %+v", events[2])
	}
}

func TestDecoderSingleToolCallAcrossChunks(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"exec","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"command\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ls\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)

	events := collect(NewDecoder().Decode(body))
	var kinds []agent.StreamEventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}

	want := []agent.StreamEventKind{
		agent.StreamToolCallStart,
		agent.StreamToolCallArgsDelta,
		agent.StreamToolCallArgsDelta,
		agent.StreamToolCallComplete,
		agent.StreamDone,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}

	if events[0].ID != "call_1" || events[0].Name != "exec" {
		t.Fatalf("unexpected start event: %+v", events[0])
	}
	assembled := events[1].Chunk + events[2].Chunk
	if assembled != `{"command":"ls"}` {
		t.Fatalf("expected concatenated argument chunks to form the full JSON, got %q", assembled)
	}
}

func TestDecoderTwoParallelToolCalls(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"a","arguments":""}},{"index":1,"id":"call_2","function":{"name":"b","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}},{"index":1,"function":{"arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)

	events := collect(NewDecoder().Decode(body))
	completeIndexes := map[int]bool{}
	for _, e := range events {
		if e.Kind == agent.StreamToolCallComplete {
			completeIndexes[e.Index] = true
		}
	}
	if !completeIndexes[0] || !completeIndexes[1] {
		t.Fatalf("expected both tool calls to complete, got %+v", events)
	}
}

func TestDecoderFinalizesOnEOFWithoutDone(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"exec","arguments":"{}"}}]}}]}`,
	)

	events := collect(NewDecoder().Decode(body))
	last := events[len(events)-1]
	if last.Kind != agent.StreamDone {
		t.Fatalf("expected the stream to finalize with Done even without [DONE], got %+v", last)
	}

	sawComplete := false
	for _, e := range events {
		if e.Kind == agent.StreamToolCallComplete && e.Index == 0 {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Fatal("expected the still-open tool call to be force-completed on EOF")
	}
}

func TestDecoderAccumulatesUsage(t *testing.T) {
	body := sseBody(
		`data: {"choices":[{"delta":{"content":"hi"}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"prompt_tokens_details":{"cached_tokens":2}}}`,
		`data: [DONE]`,
	)

	events := collect(NewDecoder().Decode(body))
	last := events[len(events)-1]
	if last.Kind != agent.StreamDone {
		t.Fatalf("expected final event to be Done, got %+v", last)
	}
	if last.Usage.InputTokens != 10 || last.Usage.OutputTokens != 5 || last.Usage.CacheReadTokens != 2 {
		t.Fatalf("unexpected usage accounting: %+v", last.Usage)
	}
}

func TestDecoderMalformedChunksLenientByDefault(t *testing.T) {
	body := sseBody(
		`data: not-json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	)

	events := collect(NewDecoder().Decode(body))
	if len(events) != 2 {
		t.Fatalf("expected the malformed chunk to be skipped silently, got %+v", events)
	}
	if events[0].Kind != agent.StreamDelta || events[0].Text != "ok" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestDecoderMalformedChunksEscalateWhenThresholdSet(t *testing.T) {
	body := sseBody(
		`data: not-json-1`,
		`data: not-json-2`,
		`data: not-json-3`,
	)

	d := NewDecoder()
	d.MaxMalformedChunks = 2
	events := collect(d.Decode(body))

	last := events[len(events)-1]
	if last.Kind != agent.StreamError {
		t.Fatalf("expected the decoder to give up and emit StreamError, got %+v", events)
	}
}
