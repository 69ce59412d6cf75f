package sandbox

import (
	"context"
	"strings"
	"testing"
)

func TestDirectBackendExecCapturesStdoutAndExitCode(t *testing.T) {
	b := NewDirectBackend()
	result, err := b.Exec(context.Background(), Identity{Key: "t"}, "echo hello", ExecOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hello" {
		t.Fatalf("expected stdout %q, got %q", "hello", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestDirectBackendExecNonZeroExitCode(t *testing.T) {
	b := NewDirectBackend()
	result, err := b.Exec(context.Background(), Identity{Key: "t"}, "exit 3", ExecOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", result.ExitCode)
	}
}

func TestDirectBackendExecTimeout(t *testing.T) {
	b := NewDirectBackend()
	_, err := b.Exec(context.Background(), Identity{Key: "t"}, "sleep 5", ExecOpts{Timeout: 1})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected a *TimeoutError, got %T: %v", err, err)
	}
}

func TestDirectBackendExecEnvPassedThrough(t *testing.T) {
	b := NewDirectBackend()
	result, err := b.Exec(context.Background(), Identity{Key: "t"}, "echo $GREETING", ExecOpts{
		Env: map[string]string{"GREETING": "hi-there"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hi-there" {
		t.Fatalf("expected the injected env var to be visible, got %q", result.Stdout)
	}
}

func TestDirectBackendExecInheritsHostEnvironment(t *testing.T) {
	b := NewDirectBackend()
	result, err := b.Exec(context.Background(), Identity{Key: "t"}, "echo $PATH", ExecOpts{
		Env: map[string]string{"EXTRA": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(result.Stdout) == "" {
		t.Fatal("expected PATH to still be set when custom env vars are supplied")
	}
}

func TestDirectBackendExecTruncatesOutput(t *testing.T) {
	b := NewDirectBackend()
	result, err := b.Exec(context.Background(), Identity{Key: "t"}, "printf '0123456789'", ExecOpts{MaxOutputBytes: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(result.Stdout, "0123") || !strings.HasSuffix(result.Stdout, truncationMarker) {
		t.Fatalf("expected truncated output with marker, got %q", result.Stdout)
	}
}

func TestDirectBackendIsNoOpForReadyAndCleanup(t *testing.T) {
	b := NewDirectBackend()
	if err := b.EnsureReady(context.Background(), Identity{Key: "t"}, ""); err != nil {
		t.Fatalf("expected EnsureReady to be a no-op, got %v", err)
	}
	if err := b.Cleanup(context.Background(), Identity{Key: "t"}); err != nil {
		t.Fatalf("expected Cleanup to be a no-op, got %v", err)
	}
}
