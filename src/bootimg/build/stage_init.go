package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// DefaultTemplate is the PetaLinux platform template for Zynq UltraScale+
const DefaultTemplate = "zynqMP"

// OnExisting selects what happens when the project directory already exists
type OnExisting string

const (
	// OnExistingFail refuses to reuse a stale project
	OnExistingFail OnExisting = "fail"
	// OnExistingClean removes the stale project before creating a new one
	OnExistingClean OnExisting = "clean"
)

// ParseOnExisting validates a policy name; empty selects OnExistingFail
func ParseOnExisting(s string) (OnExisting, error) {
	switch OnExisting(s) {
	case "", OnExistingFail:
		return OnExistingFail, nil
	case OnExistingClean:
		return OnExistingClean, nil
	default:
		return "", errors.ErrInvalidFieldValue.WithMessagef("project.on_existing must be %q or %q, got %q",
			OnExistingFail, OnExistingClean, s)
	}
}

// InitStage creates the PetaLinux project and imports the hardware description
type InitStage struct {
	executor   Executor
	template   string
	onExisting OnExisting
}

// NewInitStage creates a new init stage
func NewInitStage(executor Executor, template string, onExisting OnExisting) *InitStage {
	if template == "" {
		template = DefaultTemplate
	}
	if onExisting == "" {
		onExisting = OnExistingFail
	}
	return &InitStage{
		executor:   executor,
		template:   template,
		onExisting: onExisting,
	}
}

// Name returns the stage name
func (s *InitStage) Name() db.BuildStageName {
	return db.StageInit
}

// Validate checks the staged inputs and the stale project policy
func (s *InitStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Project == nil {
		return errors.ErrInternal.WithMessage("build project not set")
	}
	if err := s.checkProjectRoot(sc); err != nil {
		return err
	}
	if sc.Toolchain == nil {
		return errors.ErrToolchainInvalid.WithMessage("toolchain not staged")
	}
	if !paths.IsFile(sc.HardwareDescription) {
		return errors.ErrPathResolution.WithMessagef("hardware description not staged: %q", sc.HardwareDescription)
	}
	if sc.Project.Exists() && s.onExisting == OnExistingFail {
		return errors.ErrProjectExists.WithMessagef("build project already exists at %s", sc.Project.Root)
	}
	return nil
}

// Execute runs petalinux-create and petalinux-config
func (s *InitStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	project := sc.Project
	if err := s.checkProjectRoot(sc); err != nil {
		return err
	}

	if project.Exists() {
		log.Warn("Removing stale build project", "path", project.Root)
		if err := os.RemoveAll(project.Root); err != nil {
			return errors.ErrProjectCreate.WithMessagef("failed to remove stale project %s", project.Root).WithCause(err)
		}
	}

	progress(0, fmt.Sprintf("Creating project %s from template %s", project.Name, s.template))

	create := sc.toolchainCommand(sc.WorkspacePath,
		"petalinux-create", "-t", "project", "--template", s.template, "-n", project.Name)
	if err := s.executor.Run(ctx, create); err != nil {
		return wrapRunError(ctx, err, errors.ErrProjectCreate.WithMessagef("petalinux-create failed for %s", project.Name))
	}
	if !project.Exists() {
		return errors.ErrProjectCreate.WithMessagef("petalinux-create did not create %s", project.Root)
	}

	progress(40, "Importing hardware description")

	config := sc.toolchainCommand(project.Root,
		"petalinux-config", "--get-hw-description", sc.HardwareDescription, "--silentconfig")
	if err := s.executor.Run(ctx, config); err != nil {
		return wrapRunError(ctx, err, errors.ErrHardwareImport.WithMessagef("petalinux-config failed for %s", sc.HardwareDescription))
	}
	if !paths.IsFile(project.ConfigPath()) {
		return errors.ErrHardwareImport.WithMessagef("hardware import produced no configuration at %s", project.ConfigPath())
	}

	log.Info("Build project initialized", "project", project.Name, "root", project.Root, "template", s.template)
	progress(100, "Build project initialized")

	return nil
}

// checkProjectRoot guards the removal of a stale project: the root must be
// a direct child of the workspace with a valid name
func (s *InitStage) checkProjectRoot(sc *StageContext) error {
	if err := ValidateProjectName(sc.Project.Name); err != nil {
		return err
	}
	if filepath.Dir(filepath.Clean(sc.Project.Root)) != filepath.Clean(sc.WorkspacePath) {
		return errors.ErrInvalidFieldValue.WithMessagef(
			"build project %s is not inside workspace %s", sc.Project.Root, sc.WorkspacePath)
	}
	return nil
}

// wrapRunError attaches a subprocess failure to a domain error, passing
// context cancellation through unchanged
func wrapRunError(ctx context.Context, err error, domainErr *errors.Error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domainErr.WithCause(err)
}
