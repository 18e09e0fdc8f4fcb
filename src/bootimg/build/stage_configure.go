package build

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/kconfig"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// ConfigureStage switches the generated system configuration from an
// initrd root filesystem to EXT4 on the SD card
type ConfigureStage struct {
	options kconfig.Options
}

// NewConfigureStage creates a new configure stage
func NewConfigureStage(options kconfig.Options) *ConfigureStage {
	if options.RootDevice == "" {
		options.RootDevice = kconfig.DefaultRootDevice
	}
	return &ConfigureStage{options: options}
}

// Name returns the stage name
func (s *ConfigureStage) Name() db.BuildStageName {
	return db.StageConfigure
}

// Validate checks that the generated configuration exists
func (s *ConfigureStage) Validate(ctx context.Context, sc *StageContext) error {
	if sc.Project == nil {
		return errors.ErrInternal.WithMessage("build project not set")
	}
	if !paths.IsFile(sc.Project.ConfigPath()) {
		return errors.ErrConfigRead.WithMessagef("configuration not found at %s", sc.Project.ConfigPath())
	}
	return nil
}

// Execute applies the rule set and verifies the resulting invariants
func (s *ConfigureStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	progress(0, "Patching system configuration")

	result, err := PatchConfig(sc.Project.ConfigPath(), s.options)
	if err != nil {
		return err
	}

	log.Info("System configuration patched",
		"path", result.Path,
		"written", result.Written,
		"changes", formatChanges(result.Changes),
	)
	progress(100, "System configuration patched")

	return nil
}

// PatchConfig patches the configuration file at path and maps failures to
// configuration errors
func PatchConfig(path string, options kconfig.Options) (*kconfig.Result, error) {
	result, err := kconfig.PatchFile(path, options)
	if err == nil {
		return result, nil
	}

	var invErr *kconfig.InvariantError
	if errors.As(err, &invErr) {
		return result, errors.ErrConfigInvariant.
			WithMessagef("%s: %s", path, strings.Join(invErr.Unmet, "; ")).
			WithCause(err)
	}
	return result, errors.ErrConfigRead.WithMessagef("failed to patch %s", path).WithCause(err)
}

func formatChanges(changes map[string]int) string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, changes[name]))
	}
	return strings.Join(parts, ",")
}
