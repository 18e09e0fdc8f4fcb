package build

import (
	"context"
	"fmt"
	"time"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// ComponentsStage builds each boot component with petalinux-build. The
// toolchain cannot build concurrently against one project, so components
// run strictly in order.
type ComponentsStage struct {
	executor   Executor
	components []Component
}

// NewComponentsStage creates a new components stage
func NewComponentsStage(executor Executor) *ComponentsStage {
	return &ComponentsStage{
		executor:   executor,
		components: Components(),
	}
}

// Name returns the stage name
func (s *ComponentsStage) Name() db.BuildStageName {
	return db.StageComponents
}

// Validate checks that the project has been initialized
func (s *ComponentsStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Project == nil {
		return errors.ErrInternal.WithMessage("build project not set")
	}
	if sc.Toolchain == nil {
		return errors.ErrToolchainInvalid.WithMessage("toolchain not staged")
	}
	if !sc.Project.Exists() {
		return errors.ErrComponentBuild.WithMessagef("build project %s does not exist", sc.Project.Root)
	}
	return nil
}

// Execute builds every component and records its output path
func (s *ComponentsStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	if sc.Artifacts == nil {
		sc.Artifacts = make(map[Component]string, len(s.components))
	}

	for i, c := range s.components {
		progress(i*100/len(s.components), fmt.Sprintf("Building %s", c))
		start := time.Now()

		opts := sc.toolchainCommand(sc.Project.Root, "petalinux-build", "-c", string(c))
		if err := s.executor.Run(ctx, opts); err != nil {
			return wrapRunError(ctx, err, errors.ErrComponentBuild.WithMessagef("component %s failed to build", c))
		}

		output := sc.Project.ImagePath(c.Output())
		if !paths.IsFile(output) {
			return errors.ErrComponentOutput.WithMessagef("component %s produced no %s", c, c.Output())
		}
		sc.Artifacts[c] = output

		log.Info("Component built",
			"component", c,
			"output", output,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	progress(100, "All components built")
	return nil
}
