package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// HostExecutor runs toolchain commands directly on the host
type HostExecutor struct {
	logger io.Writer
}

// NewHostExecutor creates a new host executor
func NewHostExecutor(logger io.Writer) *HostExecutor {
	return &HostExecutor{logger: logger}
}

// Run executes a command on the host. Mounts are ignored.
func (e *HostExecutor) Run(ctx context.Context, opts RunOpts) error {
	if len(opts.Command) == 0 {
		return fmt.Errorf("no command specified")
	}

	argv := sourcedCommand(opts)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	if opts.WorkDir != "" {
		cmd.Dir = opts.WorkDir
	}

	// Inherit host env + overrides
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stderr bytes.Buffer

	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else if e.logger != nil {
		cmd.Stdout = e.logger
	}

	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, opts.Stderr)
	} else if e.logger != nil {
		cmd.Stderr = io.MultiWriter(&stderr, e.logger)
	} else {
		cmd.Stderr = &stderr
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s failed: %w\nstderr: %s", opts.Command[0], err, tail(stderr.String(), 20))
	}

	return nil
}

// IsAvailable always returns true for host execution
func (e *HostExecutor) IsAvailable() bool {
	return true
}

// RuntimeType returns RuntimeHost
func (e *HostExecutor) RuntimeType() RuntimeType {
	return RuntimeHost
}

// tail returns the last n lines of s
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
