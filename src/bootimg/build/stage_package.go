package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Manifest describes a packaged boot image and its inputs
type Manifest struct {
	RunID     string             `yaml:"run_id"`
	Project   string             `yaml:"project"`
	Builder   string             `yaml:"builder,omitempty"`
	CreatedAt time.Time          `yaml:"created_at"`
	BootImage ManifestArtifact   `yaml:"boot_image"`
	Artifacts []ManifestArtifact `yaml:"artifacts"`
}

// ManifestArtifact is one file recorded in the manifest
type ManifestArtifact struct {
	Component string `yaml:"component,omitempty"`
	File      string `yaml:"file"`
	Size      int64  `yaml:"size"`
	SHA256    string `yaml:"sha256"`
}

// PackageStage assembles BOOT.BIN with petalinux-package
type PackageStage struct {
	executor Executor
}

// NewPackageStage creates a new package stage
func NewPackageStage(executor Executor) *PackageStage {
	return &PackageStage{executor: executor}
}

// Name returns the stage name
func (s *PackageStage) Name() db.BuildStageName {
	return db.StagePackage
}

// Validate enforces the packaging preconditions: every component artifact
// is present and the device tree blob is the one the rewriter produced
func (s *PackageStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Project == nil {
		return errors.ErrInternal.WithMessage("build project not set")
	}

	for _, c := range Components() {
		path := sc.Project.ImagePath(c.Output())
		if !paths.IsFile(path) {
			return errors.ErrMissingArtifact.WithMessagef("%s artifact %s is missing", c, path)
		}
	}

	blob := sc.Project.ImagePath(ComponentDeviceTree.Output())
	source := devicetree.SourcePath(blob)

	blobTime, err := paths.ModTime(blob)
	if err != nil {
		return errors.ErrMissingArtifact.WithCause(err)
	}
	sourceTime, err := paths.ModTime(source)
	if err != nil {
		return errors.ErrStaleArtifact.WithMessagef("device tree source %s is missing; the blob was not rewritten", source)
	}
	if blobTime.Before(sourceTime) {
		return errors.ErrStaleArtifact.WithMessagef("device tree blob %s is older than its source", blob)
	}

	if sc.DeviceTreeDigest == "" {
		return errors.ErrStaleArtifact.WithMessage("no device tree digest recorded; the blob was not rewritten")
	}
	digest, err := devicetree.FileDigest(blob)
	if err != nil {
		return errors.ErrMissingArtifact.WithCause(err)
	}
	if digest != sc.DeviceTreeDigest {
		return errors.ErrStaleArtifact.WithMessagef("device tree blob %s changed after it was rewritten", blob)
	}

	return nil
}

// Execute packages the boot image and writes its manifest
func (s *PackageStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	progress(0, "Packaging boot image")

	project := sc.Project
	rel := func(c Component) string {
		return filepath.Join(projectImagesDir, c.Output())
	}

	opts := sc.toolchainCommand(project.Root,
		"petalinux-package", "--boot",
		"--fsbl", rel(ComponentFSBL),
		"--pmufw", rel(ComponentPMUFirmware),
		"--u-boot", rel(ComponentUBoot),
		"--dtb", rel(ComponentDeviceTree),
		"--force",
	)
	if err := s.executor.Run(ctx, opts); err != nil {
		return wrapRunError(ctx, err, errors.ErrPackageFailed.WithMessage("petalinux-package failed"))
	}

	bootImage := project.BootImagePath()
	if !paths.IsFile(bootImage) {
		return errors.ErrPackageFailed.WithMessagef("petalinux-package produced no %s", bootImage)
	}

	progress(70, "Writing manifest")

	manifest, err := buildManifest(sc)
	if err != nil {
		return errors.ErrPackageFailed.WithMessage("failed to describe packaged artifacts").WithCause(err)
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return errors.ErrPackageFailed.WithMessage("failed to encode manifest").WithCause(err)
	}
	if err := renameio.WriteFile(project.ManifestPath(), data, 0644); err != nil {
		return errors.ErrPackageFailed.WithMessage("failed to write manifest").WithCause(err)
	}

	sc.BootImagePath = bootImage
	sc.BootImageChecksum = manifest.BootImage.SHA256
	sc.BootImageSize = manifest.BootImage.Size
	sc.ManifestPath = project.ManifestPath()

	log.Info("Boot image packaged",
		"path", sc.BootImagePath,
		"size", sc.BootImageSize,
		"sha256", sc.BootImageChecksum,
	)
	progress(100, "Boot image packaged")

	return nil
}

func buildManifest(sc *StageContext) (*Manifest, error) {
	describe := func(component, path string) (ManifestArtifact, error) {
		info, err := os.Stat(path)
		if err != nil {
			return ManifestArtifact{}, err
		}
		digest, err := devicetree.FileDigest(path)
		if err != nil {
			return ManifestArtifact{}, err
		}
		return ManifestArtifact{
			Component: component,
			File:      filepath.Base(path),
			Size:      info.Size(),
			SHA256:    digest,
		}, nil
	}

	boot, err := describe("", sc.Project.BootImagePath())
	if err != nil {
		return nil, fmt.Errorf("boot image: %w", err)
	}

	manifest := &Manifest{
		RunID:     sc.RunID,
		Project:   sc.Project.Name,
		Builder:   sc.BuilderVersion,
		CreatedAt: time.Now().UTC(),
		BootImage: boot,
	}
	for _, c := range Components() {
		a, err := describe(string(c), sc.Project.ImagePath(c.Output()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		manifest.Artifacts = append(manifest.Artifacts, a)
	}

	return manifest, nil
}
