package build

import (
	"context"
	"fmt"
	"io"
)

// RuntimeType represents an execution runtime for toolchain commands
type RuntimeType string

const (
	RuntimeHost   RuntimeType = "host"
	RuntimePodman RuntimeType = "podman"
	RuntimeDocker RuntimeType = "docker"
)

// ValidRuntimes returns all valid runtime type values
func ValidRuntimes() []RuntimeType {
	return []RuntimeType{RuntimeHost, RuntimePodman, RuntimeDocker}
}

// IsContainerRuntime returns true if the runtime uses OCI containers
func (r RuntimeType) IsContainerRuntime() bool {
	return r == RuntimePodman || r == RuntimeDocker
}

// Mount represents a container volume mount
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunOpts holds options for running a toolchain command
type RunOpts struct {
	Command []string
	Source  string // Shell script sourced before Command (toolchain settings)
	WorkDir string
	Env     map[string]string
	Mounts  []Mount // Honoured by container runtimes only
	Stdout  io.Writer
	Stderr  io.Writer
}

// Executor is the interface for running toolchain commands.
// Implementations include direct host execution and OCI container
// runtimes (podman, docker).
type Executor interface {
	// Run executes a command with the given options
	Run(ctx context.Context, opts RunOpts) error

	// IsAvailable checks if the runtime is installed and functional
	IsAvailable() bool

	// RuntimeType returns the type of this executor
	RuntimeType() RuntimeType
}

// NewExecutor creates an Executor for the given runtime type
func NewExecutor(runtime RuntimeType, image string, logger io.Writer) (Executor, error) {
	switch runtime {
	case RuntimeHost, "":
		return NewHostExecutor(logger), nil
	case RuntimePodman, RuntimeDocker:
		if image == "" {
			return nil, fmt.Errorf("runtime %s requires a container image", runtime)
		}
		return NewContainerExecutor(runtime, image, logger), nil
	default:
		return nil, fmt.Errorf("unsupported runtime: %s", runtime)
	}
}

// sourcedCommand wraps opts.Command so that opts.Source is sourced into
// the shell before the command is exec'd. Arguments are passed positionally
// and never re-parsed by the shell.
func sourcedCommand(opts RunOpts) []string {
	if opts.Source == "" {
		return opts.Command
	}
	argv := []string{"bash", "-c", `source "$0" && exec "$@"`, opts.Source}
	return append(argv, opts.Command...)
}
