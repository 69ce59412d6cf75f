package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CgroupBackend runs commands under a user-scope systemd transient unit,
// giving resource accounting/limits via cgroups without a container image.
// Linux only: EnsureReady fails fast elsewhere by way of systemd-run simply
// not existing on the PATH.
type CgroupBackend struct {
	unitPrefix string
	limits     ResourceLimits
}

// NewCgroupBackend constructs a CgroupBackend.
func NewCgroupBackend(cfg Config) *CgroupBackend {
	prefix := cfg.ContainerPrefix
	if prefix == "" {
		prefix = "agentgate"
	}
	return &CgroupBackend{unitPrefix: prefix, limits: cfg.Limits}
}

func (b *CgroupBackend) BackendName() string { return "cgroup" }

func (b *CgroupBackend) unitName(id Identity) string {
	return fmt.Sprintf("%s-%s", b.unitPrefix, id.Key)
}

func (b *CgroupBackend) EnsureReady(ctx context.Context, id Identity, imageOverride string) error {
	if _, err := exec.LookPath("systemd-run"); err != nil {
		return errors.New("systemd-run not found on PATH")
	}
	return nil
}

func (b *CgroupBackend) propertyArgs() []string {
	var args []string
	if b.limits.MemoryLimitMB > 0 {
		args = append(args, "--property", fmt.Sprintf("MemoryMax=%dM", b.limits.MemoryLimitMB))
	}
	if b.limits.CPUQuota > 0 {
		args = append(args, "--property", fmt.Sprintf("CPUQuota=%.0f%%", b.limits.CPUQuota*100))
	}
	if b.limits.PIDsMax > 0 {
		args = append(args, "--property", fmt.Sprintf("TasksMax=%d", b.limits.PIDsMax))
	}
	return args
}

func (b *CgroupBackend) Exec(ctx context.Context, id Identity, command string, opts ExecOpts) (*ExecResult, error) {
	timeout := time.Duration(opts.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	unit := b.unitName(id)
	args := []string{"--user", "--scope", "--unit", unit}
	args = append(args, b.propertyArgs()...)
	for k, v := range opts.Env {
		args = append(args, "--setenv", k+"="+v)
	}
	args = append(args, "sh", "-c", command)

	cmd := exec.CommandContext(execCtx, "systemd-run", args...)
	// Stop waiting on output pipes that the command's own children still
	// hold open shortly after the timeout fires or the command exits.
	cmd.WaitDelay = 100 * time.Millisecond
	if opts.WorkingDir != "" {
		cmd.Dir = opts.WorkingDir
	}
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

	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
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

func (b *CgroupBackend) Cleanup(ctx context.Context, id Identity) error {
	unit := b.unitName(id)
	cmd := exec.CommandContext(ctx, "systemctl", "--user", "stop", unit+".scope")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil && !strings.Contains(stderr.String(), "not loaded") {
		return fmt.Errorf("systemctl --user stop %s: %w: %s", unit, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
