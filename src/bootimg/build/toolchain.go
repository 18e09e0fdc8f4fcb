package build

import (
	"os"
	"path/filepath"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// SettingsScript is the environment activation script of a PetaLinux install
const SettingsScript = "settings.sh"

// Toolchain is a staged PetaLinux installation
type Toolchain struct {
	Root     string
	Settings string
}

// LocateToolchain finds the installation inside dir. Archives usually
// unpack into a single versioned directory, so one level of nesting is
// searched when dir itself has no settings script.
func LocateToolchain(dir string) (*Toolchain, error) {
	candidates := []string{dir}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.ErrToolchainInvalid.WithMessagef("toolchain directory %s is not readable", dir).WithCause(err)
	}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(dir, e.Name()))
		}
	}

	var found []string
	for _, c := range candidates {
		if paths.IsFile(filepath.Join(c, SettingsScript)) {
			found = append(found, c)
		}
	}

	switch len(found) {
	case 0:
		return nil, errors.ErrToolchainInvalid.WithMessagef("no %s found under %s", SettingsScript, dir)
	case 1:
	default:
		if found[0] != dir {
			return nil, errors.ErrToolchainInvalid.WithMessagef("multiple toolchain installations under %s", dir)
		}
	}

	root, err := paths.Resolve(found[0])
	if err != nil {
		return nil, errors.ErrPathResolution.WithCause(err)
	}

	return &Toolchain{
		Root:     root,
		Settings: filepath.Join(root, SettingsScript),
	}, nil
}

// Command returns run options for argv with the toolchain environment active
func (t *Toolchain) Command(workDir string, argv ...string) RunOpts {
	return RunOpts{
		Command: argv,
		Source:  t.Settings,
		WorkDir: workDir,
	}
}
