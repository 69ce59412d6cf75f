package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MaxIterations bounds the number of {call provider -> dispatch tool calls}
// round trips a single Run performs before failing with ErrMaxIterations.
const MaxIterations = 25

// LoopConfig configures an agent loop run.
type LoopConfig struct {
	// MaxIterations overrides MaxIterations when positive.
	MaxIterations int

	// MaxWallTime bounds the whole run's wall-clock duration in addition to
	// the iteration cap. Zero means unlimited.
	MaxWallTime time.Duration

	// ResultGuard, if set, is applied to every tool result before it is
	// serialized into history — e.g. to redact secrets a tool echoed back.
	// Defaults to identity.
	ResultGuard func(toolName string, result ToolResult) ToolResult

	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Sink receives advisory LoopEvents. May be nil.
	Sink EventSink
}

func (c LoopConfig) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return MaxIterations
}

func (c LoopConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c LoopConfig) guard(toolName string, result ToolResult) ToolResult {
	if c.ResultGuard == nil {
		return result
	}
	return c.ResultGuard(toolName, result)
}

// Loop is the turn-by-turn driver: it sends the message history and tool
// schemas to a provider, consumes either a textual completion or a set of
// tool-call requests, dispatches those tool calls through the registry,
// appends their results to history, and iterates until the model emits
// text with no further tool calls or the iteration cap is hit.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	config   LoopConfig
}

// NewLoop constructs a Loop over the given provider and tool registry.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config LoopConfig) *Loop {
	return &Loop{provider: provider, registry: registry, config: config}
}

// Result is the outcome of a completed Run.
type Result struct {
	Text          string
	Iterations    int
	ToolCallsMade int
}

// Run drives the loop for a single turn, starting from
// [system(systemPrompt), user(userMessage)] and returning once the model
// emits text with no further tool calls.
func (l *Loop) Run(ctx context.Context, systemPrompt, userMessage string) (*Result, error) {
	history := []Message{
		NewSystemMessage(systemPrompt),
		NewUserMessage(userMessage),
	}
	return l.RunHistory(ctx, history)
}

// RunHistory drives the loop over a caller-supplied starting history
// (e.g. to continue a prior conversation). The history is owned exclusively
// by this call; no other goroutine should mutate it concurrently.
func (l *Loop) RunHistory(ctx context.Context, history []Message) (*Result, error) {
	if l.config.MaxWallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.MaxWallTime)
		defer cancel()
	}

	sink := newSequencedSink(l.config.Sink)
	logger := l.config.logger().With("run_id", newRunID())
	maxIter := l.config.maxIterations()

	totalToolCalls := 0
	iter := 0

	for {
		iter++
		if iter > maxIter {
			return nil, NewLoopError(KindIteration, fmt.Errorf("%w: limit %d", ErrMaxIterations, maxIter))
		}

		select {
		case <-ctx.Done():
			return nil, NewLoopError(KindCancelled, ctx.Err())
		default:
		}

		sink.emit(LoopEvent{Kind: EventIteration, Iteration: iter})
		logger.Debug("agent loop iteration", "iteration", iter)
		sink.emit(LoopEvent{Kind: EventThinking})

		response, err := l.provider.Complete(ctx, history, l.registry.ListSchemas())
		if err != nil {
			return nil, wrapProviderErr(ctx, err)
		}

		sink.emit(LoopEvent{Kind: EventThinkingDone})
		if response.Text != "" {
			sink.emit(LoopEvent{Kind: EventTextDelta, Text: response.Text})
		}

		if len(response.ToolCalls) == 0 {
			return &Result{
				Text:          response.Text,
				Iterations:    iter,
				ToolCallsMade: totalToolCalls,
			}, nil
		}

		history = append(history, NewAssistantMessage(response.Text, response.ToolCalls))

		// Tool executions within a turn run strictly sequentially in
		// request order; their result messages are appended in that order.
		for _, call := range response.ToolCalls {
			totalToolCalls++
			sink.emit(LoopEvent{Kind: EventToolStart, ToolCallID: call.ID, ToolName: call.Name})

			result, execErr := l.dispatch(ctx, call)
			success := execErr == nil && !result.IsError
			sink.emit(LoopEvent{
				Kind:        EventToolEnd,
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				ToolSuccess: success,
			})

			content := l.serializeResult(result, execErr)
			history = append(history, NewToolMessage(call.ID, content))

			logger.Debug("tool call completed",
				"tool", call.Name, "tool_call_id", call.ID, "success", success, "iteration", iter)
		}
	}
}

// dispatch looks the call up in the registry and executes it. Tool
// failures, unknown-tool requests, and execution errors are all recovered
// locally: they never abort the loop.
func (l *Loop) dispatch(ctx context.Context, call ToolCallRequest) (*ToolResult, error) {
	result, err := l.registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		result = &ToolResult{Content: err.Error(), IsError: true}
	}
	if result == nil {
		result = &ToolResult{}
	}
	guarded := l.config.guard(call.Name, *result)
	return &guarded, nil
}

// serializeResult renders a tool result (or dispatch error) as the wire
// content of a tool message: {"result": value} on success, {"error":
// message} on failure.
func (l *Loop) serializeResult(result *ToolResult, execErr error) string {
	if execErr != nil {
		b, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		return string(b)
	}
	if result.IsError {
		b, _ := json.Marshal(map[string]string{"error": result.Content})
		return string(b)
	}
	var value any
	if err := json.Unmarshal([]byte(result.Content), &value); err != nil {
		value = result.Content
	}
	b, err := json.Marshal(map[string]any{"result": value})
	if err != nil {
		return fmt.Sprintf(`{"result":%q}`, result.Content)
	}
	return string(b)
}

func wrapProviderErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewLoopError(KindCancelled, ctx.Err())
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return NewLoopError(KindProvider, err)
	}
	var loopErr *LoopError
	if errors.As(err, &loopErr) {
		return loopErr
	}
	return NewLoopError(KindTransport, err)
}

// newRunID generates an opaque identifier for a run, e.g. for log
// correlation by callers that track many concurrent loop runs.
func newRunID() string {
	return uuid.NewString()
}
