package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
)

// Router arbitrates whether and where a session's commands run sandboxed.
// It owns one backend (chosen at construction) and the mutable per-session
// override state: sandbox on/off overrides and per-session/runtime-global
// image overrides. The override maps are guarded by an RWMutex since reads
// (is-sandboxed / resolve-image checks on the hot exec path) vastly
// outnumber writes (operator toggling a session).
type Router struct {
	backend Backend
	config  Config
	logger  *slog.Logger

	mu                   sync.RWMutex
	sandboxOverrides     map[string]bool
	imageOverrides       map[string]string
	runtimeDefaultImage  string
}

// NewRouter selects a backend per config.Backend and constructs a Router.
// Backends are created even when config.Mode is ModeOff, since a runtime
// override can later enable sandboxing for a session dynamically.
func NewRouter(config Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		backend:          selectBackend(config, logger),
		config:           config,
		logger:           logger,
		sandboxOverrides: make(map[string]bool),
		imageOverrides:   make(map[string]string),
	}
}

func selectBackend(config Config, logger *slog.Logger) Backend {
	switch config.Backend {
	case "docker":
		return NewContainerBackend("docker", config)
	case "apple-container":
		return NewContainerBackend("container", config)
	case "cgroup":
		return NewCgroupBackend(config)
	case "direct":
		return NewDirectBackend()
	case "auto", "":
		if _, err := exec.LookPath("container"); err == nil {
			return NewContainerBackend("container", config)
		}
		if _, err := exec.LookPath("docker"); err == nil {
			return NewContainerBackend("docker", config)
		}
		logger.Warn("no container runtime found, falling back to direct sandbox backend")
		return NewDirectBackend()
	default:
		logger.Warn("unknown sandbox backend, falling back to direct", "backend", config.Backend)
		return NewDirectBackend()
	}
}

// Backend returns the router's single backend instance.
func (r *Router) Backend() Backend { return r.backend }

// IsSandboxed decides whether session key k should run sandboxed.
func (r *Router) IsSandboxed(k string) bool {
	r.mu.RLock()
	override, ok := r.sandboxOverrides[k]
	r.mu.RUnlock()
	if ok {
		return override
	}

	switch r.config.Mode {
	case ModeOff:
		return false
	case ModeAll:
		return true
	case ModeNonMain:
		return k != "main"
	default:
		return false
	}
}

// ResolveImage resolves the container image for session key k, given an
// optional skill-supplied image. Priority: skill > per-session override >
// runtime-global override > config.Image > DefaultImage.
func (r *Router) ResolveImage(k, skillImage string) string {
	if skillImage != "" {
		return skillImage
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if img, ok := r.imageOverrides[k]; ok {
		return img
	}
	if r.runtimeDefaultImage != "" {
		return r.runtimeDefaultImage
	}
	if r.config.Image != "" {
		return r.config.Image
	}
	return DefaultImage
}

// IdentityFor returns the sandbox Identity for session key k under this
// router's configured scope.
func (r *Router) IdentityFor(k string) Identity {
	return IdentityFor(r.config.Scope, k)
}

// SetSandboxOverride forces session k's is-sandboxed decision to the value
// of on (true or false), bypassing Mode.
func (r *Router) SetSandboxOverride(k string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sandboxOverrides[k] = on
}

// ClearSandboxOverride removes any override for session k, reverting to
// Mode-derived behavior.
func (r *Router) ClearSandboxOverride(k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sandboxOverrides, k)
}

// SetImageOverride pins session k's image, ahead of the runtime-global and
// config defaults but behind a skill-supplied image.
func (r *Router) SetImageOverride(k, image string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imageOverrides[k] = image
}

// ClearImageOverride removes session k's image override.
func (r *Router) ClearImageOverride(k string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.imageOverrides, k)
}

// SetRuntimeDefaultImage sets the process-wide fallback image, used when no
// skill or per-session override applies.
func (r *Router) SetRuntimeDefaultImage(image string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimeDefaultImage = image
}

// ErrSandboxNotReady wraps a backend readiness failure (container runtime
// absent, image pull error). The caller (the exec tool) surfaces this as a
// tool-execution error, never a loop-fatal one.
var ErrSandboxNotReady = errors.New("sandbox not ready")

// Exec runs command for session key k, sandboxing it per IsSandboxed and
// ResolveImage, and returns the result. Readiness failures are wrapped in
// ErrSandboxNotReady.
func (r *Router) Exec(ctx context.Context, k, skillImage, command string, opts ExecOpts) (*ExecResult, error) {
	id := r.IdentityFor(k)

	if !r.IsSandboxed(k) {
		direct := NewDirectBackend()
		return direct.Exec(ctx, id, command, opts)
	}

	image := r.ResolveImage(k, skillImage)
	if err := r.backend.EnsureReady(ctx, id, image); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxNotReady, err)
	}
	return r.backend.Exec(ctx, id, command, opts)
}

// CleanupSession tears down session k's sandbox (idempotent) and clears any
// per-session override for its key. The caller is responsible for invoking
// this after cancellation, since cancelled sandboxed execs otherwise leak
// their container/cgroup.
func (r *Router) CleanupSession(ctx context.Context, k string) error {
	id := r.IdentityFor(k)
	err := r.backend.Cleanup(ctx, id)

	r.mu.Lock()
	delete(r.sandboxOverrides, k)
	delete(r.imageOverrides, k)
	r.mu.Unlock()

	return err
}
