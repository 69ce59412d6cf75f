package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexuscore/agentgate/internal/agent"
	execsafety "github.com/nexuscore/agentgate/internal/exec"
	"github.com/nexuscore/agentgate/internal/sandbox"
)

// defaultTimeoutSeconds and defaultMaxOutputBytes apply when an exec
// request doesn't specify them.
const (
	defaultTimeoutSeconds  = 30
	defaultMaxOutputBytes  = 64 << 10
)

// ExecTool runs a shell command through a sandbox.Router, respecting
// whatever is-sandboxed/image-resolution decision the router makes for the
// calling session.
type ExecTool struct {
	router    *sandbox.Router
	sessionID string
}

// NewExecTool constructs an ExecTool bound to one session key. The sandbox
// router's is-sandboxed and image-resolution decisions are all keyed by
// this identifier.
func NewExecTool(router *sandbox.Router, sessionID string) *ExecTool {
	return &ExecTool{router: router, sessionID: sessionID}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Runs a shell command and returns its stdout, stderr, and exit code."
}

func (t *ExecTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "The shell command to run"},
			"working_dir": {"type": "string", "description": "Optional working directory"},
			"timeout": {"type": "integer", "description": "Wall-clock timeout in seconds (default 30)"},
			"env": {
				"type": "object",
				"additionalProperties": {"type": "string"},
				"description": "Optional environment variables"
			}
		},
		"required": ["command"]
	}`)
}

type execParams struct {
	Command    string            `json:"command"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Timeout    int               `json:"timeout,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

type execResultPayload struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (t *ExecTool) Execute(ctx context.Context, arguments json.RawMessage) (*agent.ToolResult, error) {
	var params execParams
	if err := json.Unmarshal(arguments, &params); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if params.Command == "" {
		return &agent.ToolResult{Content: "command must not be empty", IsError: true}, nil
	}
	if err := execsafety.ValidateWorkingDir(params.WorkingDir); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if err := execsafety.ValidateEnv(params.Env); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	result, err := t.router.Exec(ctx, t.sessionID, "", params.Command, sandbox.ExecOpts{
		WorkingDir:     params.WorkingDir,
		Env:            params.Env,
		Timeout:        timeout,
		MaxOutputBytes: defaultMaxOutputBytes,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("exec failed: %v", err), IsError: true}, nil
	}

	payload, err := json.Marshal(execResultPayload{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode result: %v", err), IsError: true}, nil
	}

	return &agent.ToolResult{Content: string(payload), IsError: result.ExitCode != 0}, nil
}
