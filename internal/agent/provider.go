package agent

import "context"

// LLMProvider is the interface the agent loop drives. Implementations
// handle the specifics of talking to a chat-completions-style backend
// while presenting this single call shape to the loop. Implementations
// must be safe for concurrent use.
type LLMProvider interface {
	// Complete sends the given history and tool schemas to the backend and
	// returns a single completion. Implementations that only support
	// streaming transparently drain the stream and assemble the result.
	Complete(ctx context.Context, history []Message, tools []ToolSchema) (*CompletionResponse, error)
}

// StreamingProvider is implemented by providers that can also yield
// incremental StreamEvents rather than a single assembled response.
type StreamingProvider interface {
	LLMProvider

	// CompleteStream behaves like Complete but yields StreamEvents on the
	// returned channel as they are decoded. The channel is closed after a
	// StreamDone or StreamError event.
	CompleteStream(ctx context.Context, history []Message, tools []ToolSchema) (<-chan StreamEvent, error)
}
