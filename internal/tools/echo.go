// Package tools provides the agent.Tool implementations wired into the
// gateway's default tool registry.
package tools

import (
	"context"
	"encoding/json"

	"github.com/nexuscore/agentgate/internal/agent"
)

// EchoTool returns its arguments back verbatim as the result content. It
// exists primarily as a minimal, dependency-free tool for exercising the
// loop's tool-call dispatch path.
type EchoTool struct{}

// NewEchoTool constructs an EchoTool.
func NewEchoTool() *EchoTool { return &EchoTool{} }

func (t *EchoTool) Name() string { return "echo_tool" }

func (t *EchoTool) Description() string {
	return "Echoes its input arguments back verbatim."
}

func (t *EchoTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "Text to echo back"}
		},
		"required": ["text"]
	}`)
}

func (t *EchoTool) Execute(ctx context.Context, arguments json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: string(arguments)}, nil
}
