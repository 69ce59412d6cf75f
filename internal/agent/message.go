// Package agent implements the tool-using agent loop: message history,
// tool-call dispatch, and the turn-by-turn driver that talks to an LLM
// provider until a turn terminates.
package agent

import "encoding/json"

// Role identifies who authored a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRequest is a single function-call request emitted by the model.
// ID is opaque and provider-assigned; Arguments holds the model's JSON
// argument value (object/array/scalar) as raw JSON text. It is not parsed or
// validated here; each tool decodes it.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single entry in the chat history. Every message carries text
// content (possibly empty for assistant messages that are pure tool-call
// requests). Assistant messages may additionally carry a non-empty ordered
// ToolCalls slice. Tool messages carry ToolCallID linking them back to the
// assistant tool call they answer.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
}

// Usage accounts token consumption for a single model response.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// CompletionResponse is the result of a non-streaming completion call. When
// ToolCalls is non-empty, Text may be absent or hold auxiliary "reasoning"
// prose the model produced alongside the tool-call request.
type CompletionResponse struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Usage     Usage             `json:"usage"`
}

// NewSystemMessage builds a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage builds a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage builds an assistant message, optionally carrying tool
// call requests.
func NewAssistantMessage(content string, toolCalls []ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage builds a tool-result message answering toolCallID.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}
