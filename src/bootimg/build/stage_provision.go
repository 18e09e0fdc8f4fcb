package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/fetch"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// stagedPerm is ORed into the mode of every staged file and directory
const stagedPerm = 0755

// ProvisionStage stages the hardware description and the toolchain in the
// workspace
type ProvisionStage struct {
	fetcher *fetch.Fetcher
}

// NewProvisionStage creates a new provision stage
func NewProvisionStage(fetcher *fetch.Fetcher) *ProvisionStage {
	return &ProvisionStage{fetcher: fetcher}
}

// Name returns the stage name
func (s *ProvisionStage) Name() db.BuildStageName {
	return db.StageProvision
}

// Validate checks that both sources are present and parseable
func (s *ProvisionStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.WorkspacePath == "" {
		return errors.ErrMissingRequiredField.WithMessage("workspace path not set")
	}
	if sc.HardwareSource == "" {
		return errors.ErrMissingRequiredField.WithMessage("hardware description source not set")
	}
	if sc.ToolchainSource == "" {
		return errors.ErrMissingRequiredField.WithMessage("toolchain source not set")
	}
	if _, err := fetch.ParseSource(sc.HardwareSource); err != nil {
		return err
	}
	if _, err := fetch.ParseSource(sc.ToolchainSource); err != nil {
		return err
	}
	return nil
}

// Execute fetches both inputs, unpacks the toolchain, normalizes
// permissions and resolves the staged paths
func (s *ProvisionStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	progress(0, "Fetching hardware description")

	hwSrc, err := fetch.ParseSource(sc.HardwareSource)
	if err != nil {
		return err
	}
	hwPath := filepath.Join(sc.ArtifactsDir(), hwSrc.BaseName())
	if err := s.fetcher.Fetch(ctx, hwSrc, hwPath); err != nil {
		return err
	}

	progress(30, "Fetching toolchain")

	tcSrc, err := fetch.ParseSource(sc.ToolchainSource)
	if err != nil {
		return err
	}
	if err := s.stageToolchain(ctx, sc, tcSrc, progress); err != nil {
		return err
	}

	progress(70, "Normalizing permissions")

	for _, p := range []string{hwPath, sc.ToolchainDir()} {
		if err := paths.AddPermTree(p, stagedPerm); err != nil {
			return errors.ErrPermissions.WithMessagef("failed to normalize permissions of %s", p).WithCause(err)
		}
	}

	progress(85, "Resolving staged paths")

	resolved, err := paths.Resolve(hwPath)
	if err != nil {
		return errors.ErrPathResolution.WithCause(err)
	}
	if !paths.IsFile(resolved) {
		return errors.ErrPathResolution.WithMessagef("hardware description %s is not a regular file", resolved)
	}

	toolchain, err := LocateToolchain(sc.ToolchainDir())
	if err != nil {
		return err
	}

	sc.HardwareDescription = resolved
	sc.Toolchain = toolchain

	log.Info("Build inputs staged",
		"hardware_description", sc.HardwareDescription,
		"toolchain", toolchain.Root,
	)
	progress(100, "Build inputs staged")

	return nil
}

// stageToolchain fetches the toolchain into the workspace, unpacking it
// when the source is an archive
func (s *ProvisionStage) stageToolchain(ctx context.Context, sc *StageContext, src *fetch.Source, progress ProgressFunc) error {
	dir := sc.ToolchainDir()
	if err := os.RemoveAll(dir); err != nil {
		return errors.ErrTransferFailed.WithMessagef("failed to clear %s", dir).WithCause(err)
	}

	if !fetch.IsArchive(src.BaseName()) {
		return s.fetcher.Fetch(ctx, src, dir)
	}

	archive := filepath.Join(sc.ArtifactsDir(), src.BaseName())
	if err := s.fetcher.Fetch(ctx, src, archive); err != nil {
		return err
	}

	progress(50, "Extracting toolchain")
	return fetch.Extract(ctx, archive, dir)
}
