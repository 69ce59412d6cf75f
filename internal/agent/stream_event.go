package agent

// StreamEventKind discriminates the tagged StreamEvent variant produced by
// a streaming provider adapter and consumed by the agent loop.
type StreamEventKind string

const (
	StreamDelta             StreamEventKind = "delta"
	StreamToolCallStart     StreamEventKind = "tool_call_start"
	StreamToolCallArgsDelta StreamEventKind = "tool_call_args_delta"
	StreamToolCallComplete  StreamEventKind = "tool_call_complete"
	StreamDone              StreamEventKind = "done"
	StreamError             StreamEventKind = "error"
)

// StreamEvent is a single decoded event from the SSE stream. Exactly the
// fields relevant to Kind are populated; the rest are zero.
type StreamEvent struct {
	Kind StreamEventKind

	// StreamDelta
	Text string

	// StreamToolCallStart / StreamToolCallArgsDelta / StreamToolCallComplete
	Index int
	ID    string
	Name  string
	Chunk string

	// StreamDone
	Usage Usage

	// StreamError
	Message string
}

// ToolCallBuild is the per-index reassembly record the decoder accumulates
// across ToolCallArgumentsDelta events: {id, name, argument_buffer} keyed by
// the stream's tool-call index. Populated incrementally; consumed at stream
// termination to emit completion events.
type ToolCallBuild struct {
	ID     string
	Name   string
	Buffer string
}

// ToolCallReassembly is the mapping index -> ToolCallBuild the SSE decoder
// owns for the duration of one stream. Created empty at stream start,
// mutated only by the decoder, consumed on [DONE] or EOF to emit completion
// events for every index still open.
type ToolCallReassembly struct {
	order   []int
	entries map[int]*ToolCallBuild
}

// NewToolCallReassembly returns an empty reassembly state.
func NewToolCallReassembly() *ToolCallReassembly {
	return &ToolCallReassembly{entries: make(map[int]*ToolCallBuild)}
}

// Start seeds the reassembly state for index with its id/name, if not
// already started. Returns false if the index was already open.
func (r *ToolCallReassembly) Start(index int, id, name string) bool {
	if _, ok := r.entries[index]; ok {
		return false
	}
	r.entries[index] = &ToolCallBuild{ID: id, Name: name}
	r.order = append(r.order, index)
	return true
}

// AppendArgs appends a raw argument fragment to the buffer for index. The
// index must already have been started; if it has not, the fragment is
// dropped (malformed provider framing — decoding stays lenient).
func (r *ToolCallReassembly) AppendArgs(index int, chunk string) {
	if b, ok := r.entries[index]; ok {
		b.Buffer += chunk
	}
}

// Get returns the build record for index, if open.
func (r *ToolCallReassembly) Get(index int) (*ToolCallBuild, bool) {
	b, ok := r.entries[index]
	return b, ok
}

// Close removes index from the open set and returns its final state.
func (r *ToolCallReassembly) Close(index int) (*ToolCallBuild, bool) {
	b, ok := r.entries[index]
	if ok {
		delete(r.entries, index)
	}
	return b, ok
}

// OpenIndexes returns the indexes that are still open, in the order they
// were first started (Start-call order), for deterministic finalization.
func (r *ToolCallReassembly) OpenIndexes() []int {
	open := make([]int, 0, len(r.order))
	for _, idx := range r.order {
		if _, ok := r.entries[idx]; ok {
			open = append(open, idx)
		}
	}
	return open
}
