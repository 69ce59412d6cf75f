package agent

// LoopEventKind discriminates the advisory events the agent loop emits to
// its optional event sink. Events are pure notifications — dropping them,
// or a sink that's absent entirely, must not affect correctness.
type LoopEventKind string

const (
	EventIteration    LoopEventKind = "iteration"
	EventThinking     LoopEventKind = "thinking"
	EventThinkingDone LoopEventKind = "thinking_done"
	EventToolStart    LoopEventKind = "tool_call_start"
	EventToolEnd      LoopEventKind = "tool_call_end"
	EventTextDelta    LoopEventKind = "text_delta"
)

// LoopEvent is a single advisory notification from a running agent loop.
// Sequence is monotonic within one Run call, so a caller reading events off
// a buffered channel can always detect drops or reordering even though
// delivery itself is best-effort.
type LoopEvent struct {
	Kind     LoopEventKind
	Sequence uint64

	Iteration int    // EventIteration
	Text      string // EventTextDelta

	ToolCallID  string // EventToolStart, EventToolEnd
	ToolName    string // EventToolStart, EventToolEnd
	ToolSuccess bool   // EventToolEnd
}

// EventSink receives LoopEvents. Emit must not block the loop for long;
// implementations that need durability should buffer internally.
type EventSink interface {
	Emit(event LoopEvent)
}

// EventSinkFunc adapts a plain function to an EventSink.
type EventSinkFunc func(LoopEvent)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(event LoopEvent) { f(event) }

// sequencedSink wraps a sink and stamps each event with a monotonically
// increasing sequence number before forwarding it.
type sequencedSink struct {
	sink EventSink
	next uint64
}

func newSequencedSink(sink EventSink) *sequencedSink {
	return &sequencedSink{sink: sink}
}

func (s *sequencedSink) emit(event LoopEvent) {
	if s == nil || s.sink == nil {
		return
	}
	s.next++
	event.Sequence = s.next
	s.sink.Emit(event)
}
