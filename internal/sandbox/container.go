package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ContainerBackend runs commands inside a long-lived container per
// identity, using a CLI binary (docker, or Apple's container tool) that
// speaks a docker-compatible run/exec/rm surface.
type ContainerBackend struct {
	cli             string // "docker" or "container"
	containerPrefix string
	noNetwork       bool
	workspaceMount  string
	workspaceRW     bool
	limits          ResourceLimits
	defaultImage    string
}

// NewContainerBackend constructs a ContainerBackend driving cli (docker or
// the Apple Container CLI).
func NewContainerBackend(cli string, cfg Config) *ContainerBackend {
	prefix := cfg.ContainerPrefix
	if prefix == "" {
		prefix = "agentgate"
	}
	image := cfg.Image
	if image == "" {
		image = DefaultImage
	}
	return &ContainerBackend{
		cli:             cli,
		containerPrefix: prefix,
		noNetwork:       cfg.NoNetwork,
		workspaceMount:  cfg.WorkspaceMount,
		workspaceRW:     cfg.WorkspaceReadWrite,
		limits:          cfg.Limits,
		defaultImage:    image,
	}
}

func (b *ContainerBackend) BackendName() string { return b.cli }

func (b *ContainerBackend) containerName(id Identity) string {
	return fmt.Sprintf("%s-%s", b.containerPrefix, id.Key)
}

func (b *ContainerBackend) resourceArgs() []string {
	var args []string
	if b.noNetwork {
		args = append(args, "--network=none")
	}
	if b.limits.MemoryLimitMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", b.limits.MemoryLimitMB))
	}
	if b.limits.CPUQuota > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%.2f", b.limits.CPUQuota))
	}
	if b.limits.PIDsMax > 0 {
		args = append(args, "--pids-limit", fmt.Sprintf("%d", b.limits.PIDsMax))
	}
	return args
}

// isRunning reports whether a container with this name is already up.
func (b *ContainerBackend) isRunning(ctx context.Context, name string) bool {
	out, err := exec.CommandContext(ctx, b.cli, "ps", "--filter", "name=^"+name+"$", "--format", "{{.Names}}").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == name
}

func (b *ContainerBackend) EnsureReady(ctx context.Context, id Identity, imageOverride string) error {
	name := b.containerName(id)
	if b.isRunning(ctx, name) {
		return nil
	}

	image := b.defaultImage
	if imageOverride != "" {
		image = imageOverride
	}

	args := []string{"run", "-d", "--name", name}
	args = append(args, b.resourceArgs()...)
	if b.workspaceMount != "" {
		mode := "ro"
		if b.workspaceRW {
			mode = "rw"
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", b.workspaceMount, b.workspaceMount, mode))
	}
	args = append(args, image, "sleep", "infinity")

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.cli, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s run %s: %w: %s", b.cli, name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (b *ContainerBackend) Exec(ctx context.Context, id Identity, command string, opts ExecOpts) (*ExecResult, error) {
	timeout := time.Duration(opts.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"exec"}
	if opts.WorkingDir != "" {
		args = append(args, "-w", opts.WorkingDir)
	}
	for k, v := range opts.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, b.containerName(id), "sh", "-c", command)

	cmd := exec.CommandContext(execCtx, b.cli, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &ExecResult{
		Stdout: truncate(stdout.String(), opts.MaxOutputBytes),
		Stderr: truncate(stderr.String(), opts.MaxOutputBytes),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, errTimeout(command)
	}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	result.ExitCode = -1
	return result, nil
}

func (b *ContainerBackend) Cleanup(ctx context.Context, id Identity) error {
	name := b.containerName(id)
	return exec.CommandContext(ctx, b.cli, "rm", "-f", name).Run()
}
