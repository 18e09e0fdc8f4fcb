package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
)

// ContainerExecutor runs toolchain commands inside an OCI container
// (podman or docker) built with the PetaLinux host dependencies
type ContainerExecutor struct {
	runtime RuntimeType
	image   string
	logger  io.Writer
}

// NewContainerExecutor creates a new container executor
func NewContainerExecutor(runtime RuntimeType, image string, logger io.Writer) *ContainerExecutor {
	return &ContainerExecutor{
		runtime: runtime,
		image:   image,
		logger:  logger,
	}
}

// args builds the runtime command line for opts
func (e *ContainerExecutor) args(opts RunOpts) []string {
	args := []string{"run", "--rm"}

	for _, m := range opts.Mounts {
		mountStr := fmt.Sprintf("%s:%s", m.Source, m.Target)
		if m.ReadOnly {
			mountStr += ":ro"
		}
		args = append(args, "-v", mountStr)
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}

	args = append(args, e.image)
	return append(args, sourcedCommand(opts)...)
}

// Run executes a command inside a container with the given options
func (e *ContainerExecutor) Run(ctx context.Context, opts RunOpts) error {
	if len(opts.Command) == 0 {
		return fmt.Errorf("no command specified")
	}

	cmd := exec.CommandContext(ctx, string(e.runtime), e.args(opts)...)

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
		return fmt.Errorf("%s failed in %s container: %w\nstderr: %s", opts.Command[0], e.runtime, err, tail(stderr.String(), 20))
	}

	return nil
}

// IsAvailable checks if the runtime binary is installed and accessible
func (e *ContainerExecutor) IsAvailable() bool {
	return exec.Command(string(e.runtime), "version").Run() == nil
}

// RuntimeType returns the container runtime
func (e *ContainerExecutor) RuntimeType() RuntimeType {
	return e.runtime
}

// Image returns the container image
func (e *ContainerExecutor) Image() string {
	return e.image
}
