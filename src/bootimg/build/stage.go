// Package build drives the PetaLinux toolchain through the boot image
// pipeline: provision, init, configure, components, devicetree, package
// and an optional publish stage.
//
// A Project must not be driven by two concurrent pipeline runs; the
// toolchain keeps mutable state inside the project tree.
package build

import (
	"context"
	"io"
	"path/filepath"

	"github.com/bitswalk/bootimg/src/bootimg/db"
)

// Stage defines the interface for a single build pipeline stage
type Stage interface {
	// Name returns the stage name
	Name() db.BuildStageName

	// Validate checks whether this stage can run given the current context
	Validate(ctx context.Context, sc *StageContext) error

	// Execute runs the stage, updating progress via the callback
	Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error
}

// ProgressFunc reports stage progress (0-100) with an optional message
type ProgressFunc func(percent int, message string)

// StageContext holds shared state passed through the pipeline
type StageContext struct {
	RunID           string
	WorkspacePath   string // Root working tree for this run
	HardwareSource  string // Location the hardware description is fetched from
	ToolchainSource string // Location the toolchain is fetched from
	LogWriter       io.Writer
	BuilderVersion  string // Recorded in the manifest

	// Populated by the provision stage
	HardwareDescription string // Absolute path to the staged .xsa
	Toolchain           *Toolchain

	Project *Project

	// Populated by the components stage
	Artifacts map[Component]string

	// Populated by the devicetree stage
	DeviceTreeDigest string

	// Populated by the package stage
	BootImagePath     string
	BootImageChecksum string
	BootImageSize     int64
	ManifestPath      string

	// Populated by the publish stage
	PublishedKeys []string
}

// ArtifactsDir is where fetched inputs are staged inside the workspace
func (sc *StageContext) ArtifactsDir() string {
	return filepath.Join(sc.WorkspacePath, artifactsDirName)
}

// ToolchainDir is where the toolchain is staged inside the workspace
func (sc *StageContext) ToolchainDir() string {
	return filepath.Join(sc.WorkspacePath, toolchainDirName)
}

// toolchainCommand returns run options for argv inside workDir with the
// toolchain environment sourced and the workspace mounted at its own path
func (sc *StageContext) toolchainCommand(workDir string, argv ...string) RunOpts {
	opts := sc.Toolchain.Command(workDir, argv...)
	opts.Mounts = []Mount{{Source: sc.WorkspacePath, Target: sc.WorkspacePath}}
	opts.Stdout = sc.LogWriter
	opts.Stderr = sc.LogWriter
	return opts
}
