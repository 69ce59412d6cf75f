// Package sandbox implements the sandbox router and its backends: the
// decision logic for whether and where a tool's shell command runs
// isolated from the host, and the backend implementations themselves
// (direct, container, cgroup-scope).
package sandbox

import (
	"context"
	"strings"
)

// Mode determines which sessions get sandboxed at all.
type Mode string

const (
	// ModeOff disables sandboxing entirely.
	ModeOff Mode = "off"
	// ModeAll sandboxes every session.
	ModeAll Mode = "all"
	// ModeNonMain sandboxes every session except the one keyed "main".
	ModeNonMain Mode = "non-main"
)

// Scope is recorded on every Identity. Backends name a sandbox from
// Identity.Key alone, and IdentityFor always derives that key from the
// session key, so each distinct session key gets its own sandbox whatever
// the scope.
type Scope string

const (
	// ScopeAgent marks agent-scoped identities.
	ScopeAgent Scope = "agent"
	// ScopeSession marks session-scoped identities.
	ScopeSession Scope = "session"
	// ScopeShared marks shared-scope identities.
	ScopeShared Scope = "shared"
)

// ResourceLimits bounds what a sandboxed command may consume. Backends
// translate these into their own flags (Docker --memory/--cpus/--pids-limit,
// systemd-run --property MemoryMax=.../CPUQuota=.../TasksMax=...).
type ResourceLimits struct {
	// MemoryLimitMB is the memory ceiling in megabytes. Zero means no limit.
	MemoryLimitMB int
	// CPUQuota is the CPU ceiling as a fraction of one core (1.0 == one
	// core). Zero means no limit.
	CPUQuota float64
	// PIDsMax bounds the number of processes/threads. Zero means no limit.
	PIDsMax int
}

// Config is the static configuration the router is constructed with.
type Config struct {
	Mode  Mode
	Scope Scope

	// Backend selects the execution backend: "docker", "apple-container",
	// "cgroup", "direct", or "auto" to probe for the best available.
	Backend string

	// Image is the default container image when the backend is
	// container-based and no other override applies.
	Image string
	// ContainerPrefix names the backend's containers as
	// "{prefix}-{identity.Key}".
	ContainerPrefix string
	// NoNetwork disables container networking (--network=none).
	NoNetwork bool
	// WorkspaceMount, if set, is bind-mounted into the container at the
	// same host path.
	WorkspaceMount string
	// WorkspaceReadWrite controls the bind-mount's access mode.
	WorkspaceReadWrite bool

	Limits ResourceLimits
}

// DefaultImage is used when neither a skill, per-session, runtime-global,
// nor config image applies.
const DefaultImage = "alpine:latest"

// Identity names a single sandbox instance.
type Identity struct {
	Scope Scope
	Key   string
}

// sanitize maps every rune outside [A-Za-z0-9._-] to '-', so an arbitrary
// session/agent key is always safe to embed in a container or cgroup-scope
// name.
func sanitize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// IdentityFor builds the Identity for session/agent key k under scope.
func IdentityFor(scope Scope, k string) Identity {
	return Identity{Scope: scope, Key: sanitize(k)}
}

// ExecOpts parameterizes a single command execution.
type ExecOpts struct {
	WorkingDir     string
	Env            map[string]string
	Timeout        int // seconds
	MaxOutputBytes int
}

// ExecResult is the outcome of one backend.Exec call.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int // -1 when the process was signalled or its exit code is unknown
}

// Backend is the capability set every sandbox backend implements: bring an
// identity's environment up, run a command in it, and tear it down.
// Implementations must never block past opts.Timeout.
type Backend interface {
	BackendName() string
	EnsureReady(ctx context.Context, id Identity, imageOverride string) error
	Exec(ctx context.Context, id Identity, command string, opts ExecOpts) (*ExecResult, error)
	Cleanup(ctx context.Context, id Identity) error
}
