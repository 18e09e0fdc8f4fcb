package build

import (
	"context"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// DeviceTreeStage rewrites the legacy IIC compatible string in system.dtb
type DeviceTreeStage struct {
	executor     Executor
	substitution devicetree.Substitution
}

// NewDeviceTreeStage creates a new devicetree stage
func NewDeviceTreeStage(executor Executor, substitution devicetree.Substitution) *DeviceTreeStage {
	return &DeviceTreeStage{
		executor:     executor,
		substitution: substitution,
	}
}

// Name returns the stage name
func (s *DeviceTreeStage) Name() db.BuildStageName {
	return db.StageDeviceTree
}

// Validate checks the substitution and that the blob was built
func (s *DeviceTreeStage) Validate(ctx context.Context, sc *StageContext) error {
	if err := s.substitution.Validate(); err != nil {
		return err
	}
	if sc.Project == nil {
		return errors.ErrInternal.WithMessage("build project not set")
	}
	blob := sc.Project.ImagePath(ComponentDeviceTree.Output())
	if !paths.IsFile(blob) {
		return errors.ErrDecompile.WithMessagef("device tree blob not found at %s", blob)
	}
	return nil
}

// Execute decompiles, substitutes and recompiles the blob in place
func (s *DeviceTreeStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	progress(0, "Rewriting device tree")

	dtc := devicetree.NewDTC(func(ctx context.Context, argv []string) error {
		return s.executor.Run(ctx, sc.toolchainCommand(sc.Project.ImagesDir(), argv...))
	})

	result, err := devicetree.NewRewriter(dtc, s.substitution).Rewrite(ctx, sc.Project.ImagePath(ComponentDeviceTree.Output()))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	sc.DeviceTreeDigest = result.Digest

	log.Info("Device tree rewritten",
		"blob", result.BlobPath,
		"replaced", result.Replaced,
		"sha256", result.Digest,
	)
	progress(100, "Device tree rewritten")

	return nil
}
