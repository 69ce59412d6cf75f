// Package main provides a minimal operator-facing CLI for exercising the
// agent loop, provider adapter, and sandbox router from a terminal. It is
// not the gateway's transport layer — bringing up a persistent
// multi-client server is out of scope here; this is a harness for running
// one turn and inspecting what happened.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexuscore/agentgate/internal/agent"
	"github.com/nexuscore/agentgate/internal/provider"
	"github.com/nexuscore/agentgate/internal/sandbox"
	"github.com/nexuscore/agentgate/internal/tools"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// sessionLocks serializes concurrent "run" invocations that share a
// --session key, across the whole process lifetime of this CLI.
var sessionLocks = agent.NewSessionLocks()

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "agentgate - a tool-using agent loop over an OpenAI-compatible chat API",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd(), buildSandboxCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var (
		baseURL      string
		model        string
		providerName string
		systemPrompt string
		sandboxMode  string
		sandboxBack  string
		sessionID    string
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run a single agent-loop turn against a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := os.Getenv("AGENTGATE_API_KEY")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			unlock := sessionLocks.Lock(sessionID)
			defer unlock()

			llm := provider.New(provider.Config{
				BaseURL:      baseURL,
				APIKey:       provider.NewSecretString(apiKey),
				Model:        model,
				ProviderName: providerName,
			})

			router := sandbox.NewRouter(sandbox.Config{
				Mode:    sandbox.Mode(sandboxMode),
				Scope:   sandbox.ScopeSession,
				Backend: sandboxBack,
			}, slog.Default())

			registry := agent.NewToolRegistry()
			registry.Register(tools.NewEchoTool())
			registry.Register(tools.NewExecTool(router, sessionID))

			var events []agent.LoopEvent
			sink := agent.EventSinkFunc(func(e agent.LoopEvent) { events = append(events, e) })

			loop := agent.NewLoop(llm, registry, agent.LoopConfig{
				MaxWallTime: 5 * time.Minute,
				Logger:      slog.Default(),
				Sink:        sink,
			})

			result, err := loop.Run(ctx, systemPrompt, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", result.Text)
			fmt.Fprintf(out, "iterations=%d tool_calls=%d\n", result.Iterations, result.ToolCallsMade)

			if slog.Default().Enabled(ctx, slog.LevelDebug) {
				payload, _ := json.Marshal(events)
				fmt.Fprintln(out, string(payload))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "https://api.openai.com/v1", "Chat-completions base URL")
	cmd.Flags().StringVar(&model, "model", "gpt-4o-mini", "Model identifier")
	cmd.Flags().StringVar(&providerName, "provider-name", "openai", "Provider label, used for quirk detection")
	cmd.Flags().StringVar(&systemPrompt, "system", "You are a helpful assistant.", "System prompt")
	cmd.Flags().StringVar(&sandboxMode, "sandbox-mode", string(sandbox.ModeOff), "Sandbox mode: off, all, non-main")
	cmd.Flags().StringVar(&sandboxBack, "sandbox-backend", "auto", "Sandbox backend: auto, docker, apple-container, cgroup, direct")
	cmd.Flags().StringVar(&sessionID, "session", "main", "Session key used for sandbox scoping")
	return cmd
}

func buildSandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Inspect and exercise the sandbox router directly",
	}
	cmd.AddCommand(buildSandboxExecCmd(), buildSandboxCleanupCmd())
	return cmd
}

func buildSandboxExecCmd() *cobra.Command {
	var (
		sandboxMode string
		sandboxBack string
		sessionID   string
		image       string
		timeout     int
	)

	cmd := &cobra.Command{
		Use:   "exec [command]",
		Short: "Run a command through the sandbox router",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			router := sandbox.NewRouter(sandbox.Config{
				Mode:    sandbox.Mode(sandboxMode),
				Scope:   sandbox.ScopeSession,
				Backend: sandboxBack,
			}, slog.Default())

			result, err := router.Exec(context.Background(), sessionID, image, args[0], sandbox.ExecOpts{
				Timeout:        timeout,
				MaxOutputBytes: 64 << 10,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "exit_code=%d\n", result.ExitCode)
			fmt.Fprintln(out, result.Stdout)
			if result.Stderr != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Stderr)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sandboxMode, "sandbox-mode", string(sandbox.ModeAll), "Sandbox mode: off, all, non-main")
	cmd.Flags().StringVar(&sandboxBack, "sandbox-backend", "auto", "Sandbox backend: auto, docker, apple-container, cgroup, direct")
	cmd.Flags().StringVar(&sessionID, "session", "main", "Session key used for sandbox scoping")
	cmd.Flags().StringVar(&image, "image", "", "Optional image override for this exec")
	cmd.Flags().IntVar(&timeout, "timeout", 30, "Wall-clock timeout in seconds")
	return cmd
}

func buildSandboxCleanupCmd() *cobra.Command {
	var (
		sandboxBack string
		sessionID   string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Tear down a session's sandbox and clear its overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			router := sandbox.NewRouter(sandbox.Config{
				Mode:    sandbox.ModeAll,
				Scope:   sandbox.ScopeSession,
				Backend: sandboxBack,
			}, slog.Default())
			return router.CleanupSession(context.Background(), sessionID)
		},
	}

	cmd.Flags().StringVar(&sandboxBack, "sandbox-backend", "auto", "Sandbox backend: auto, docker, apple-container, cgroup, direct")
	cmd.Flags().StringVar(&sessionID, "session", "main", "Session key used for sandbox scoping")
	return cmd
}
