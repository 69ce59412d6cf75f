package sandbox

import (
	"context"
	"errors"
	"testing"
)

func TestRouterIsSandboxedByMode(t *testing.T) {
	tests := []struct {
		mode     Mode
		key      string
		expected bool
	}{
		{ModeOff, "main", false},
		{ModeOff, "other", false},
		{ModeAll, "main", true},
		{ModeAll, "other", true},
		{ModeNonMain, "main", false},
		{ModeNonMain, "other", true},
	}

	for _, tc := range tests {
		r := NewRouter(Config{Mode: tc.mode, Backend: "direct"}, nil)
		if got := r.IsSandboxed(tc.key); got != tc.expected {
			t.Errorf("mode=%s key=%q: expected %v, got %v", tc.mode, tc.key, tc.expected, got)
		}
	}
}

func TestRouterSandboxOverrideTakesPrecedenceOverMode(t *testing.T) {
	r := NewRouter(Config{Mode: ModeOff, Backend: "direct"}, nil)
	r.SetSandboxOverride("session-1", true)
	if !r.IsSandboxed("session-1") {
		t.Fatal("expected the override to force sandboxing on")
	}
	r.ClearSandboxOverride("session-1")
	if r.IsSandboxed("session-1") {
		t.Fatal("expected clearing the override to fall back to mode=off")
	}
}

func TestRouterResolveImagePriority(t *testing.T) {
	r := NewRouter(Config{Image: "config-image", Backend: "direct"}, nil)

	if got := r.ResolveImage("k", ""); got != "config-image" {
		t.Fatalf("expected config image as the base default, got %q", got)
	}

	r.SetRuntimeDefaultImage("runtime-image")
	if got := r.ResolveImage("k", ""); got != "runtime-image" {
		t.Fatalf("expected runtime-global override to beat config image, got %q", got)
	}

	r.SetImageOverride("k", "session-image")
	if got := r.ResolveImage("k", ""); got != "session-image" {
		t.Fatalf("expected per-session override to beat runtime-global, got %q", got)
	}

	if got := r.ResolveImage("k", "skill-image"); got != "skill-image" {
		t.Fatalf("expected a skill-supplied image to win over everything, got %q", got)
	}
}

func TestRouterResolveImageDefaultsWhenNothingConfigured(t *testing.T) {
	r := NewRouter(Config{Backend: "direct"}, nil)
	if got := r.ResolveImage("k", ""); got != DefaultImage {
		t.Fatalf("expected DefaultImage fallback, got %q", got)
	}
}

func TestRouterExecUsesDirectExecutionWhenNotSandboxed(t *testing.T) {
	r := NewRouter(Config{Mode: ModeOff, Backend: "direct"}, nil)
	result, err := r.Exec(context.Background(), "main", "", "echo hi", ExecOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRouterExecRunsThroughBackendWhenSandboxed(t *testing.T) {
	r := NewRouter(Config{Mode: ModeAll, Backend: "direct"}, nil)
	result, err := r.Exec(context.Background(), "main", "", "echo hi", ExecOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

type alwaysFailsReadyBackend struct{}

func (alwaysFailsReadyBackend) BackendName() string { return "broken" }
func (alwaysFailsReadyBackend) EnsureReady(ctx context.Context, id Identity, image string) error {
	return errors.New("image pull failed")
}
func (alwaysFailsReadyBackend) Exec(ctx context.Context, id Identity, command string, opts ExecOpts) (*ExecResult, error) {
	return nil, errors.New("Exec should never be reached when EnsureReady fails")
}
func (alwaysFailsReadyBackend) Cleanup(ctx context.Context, id Identity) error { return nil }

func TestRouterExecSurfacesNotReadyAsToolError(t *testing.T) {
	r := NewRouter(Config{Mode: ModeAll, Backend: "direct"}, nil)
	r.backend = alwaysFailsReadyBackend{}

	_, err := r.Exec(context.Background(), "main", "", "echo hi", ExecOpts{})
	if !errors.Is(err, ErrSandboxNotReady) {
		t.Fatalf("expected ErrSandboxNotReady, got %v", err)
	}
}

func TestRouterCleanupSessionClearsOverrides(t *testing.T) {
	r := NewRouter(Config{Backend: "direct"}, nil)
	r.SetSandboxOverride("s", true)
	r.SetImageOverride("s", "img")

	if err := r.CleanupSession(context.Background(), "s"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.mu.RLock()
	_, sandboxOverrideExists := r.sandboxOverrides["s"]
	_, imageOverrideExists := r.imageOverrides["s"]
	r.mu.RUnlock()

	if sandboxOverrideExists || imageOverrideExists {
		t.Fatal("expected CleanupSession to clear both overrides")
	}
}
