package build

import (
	"path/filepath"
	"regexp"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// Fixed locations inside a PetaLinux project
const (
	projectConfigPath = "project-spec/configs/config"
	projectImagesDir  = "images/linux"
	projectBuildLog   = "build/build.log"
	bootImageName     = "BOOT.BIN"
	manifestName      = "manifest.yaml"
)

// Project is the handle on a PetaLinux build project. Every stage receives
// it explicitly and scopes toolchain commands to Root.
type Project struct {
	Name string
	Root string
}

// Workspace directories owned by the provision stage
const (
	artifactsDirName = "artifacts"
	toolchainDirName = "toolchain"
)

// projectNamePattern is a single path element that petalinux-create accepts
var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateProjectName rejects names that would place the project outside
// the workspace or on top of the staged inputs
func ValidateProjectName(name string) error {
	switch {
	case name == "":
		return errors.ErrMissingRequiredField.WithMessage("project name is required")
	case !projectNamePattern.MatchString(name):
		return errors.ErrInvalidFieldValue.WithMessagef(
			"invalid project name %q: use letters, digits, '.', '_' or '-' and start with a letter or digit", name)
	case name == artifactsDirName || name == toolchainDirName:
		return errors.ErrInvalidFieldValue.WithMessagef("project name %q is reserved for staged inputs", name)
	}
	return nil
}

// NewProject returns the project named name inside workspace
func NewProject(workspace, name string) *Project {
	return &Project{
		Name: name,
		Root: filepath.Join(workspace, name),
	}
}

// ConfigPath returns the generated system configuration file
func (p *Project) ConfigPath() string {
	return filepath.Join(p.Root, projectConfigPath)
}

// ImagesDir returns the directory holding build outputs
func (p *Project) ImagesDir() string {
	return filepath.Join(p.Root, projectImagesDir)
}

// ImagePath returns the path of a file in the images directory
func (p *Project) ImagePath(name string) string {
	return filepath.Join(p.ImagesDir(), name)
}

// BuildLogPath returns the toolchain build log
func (p *Project) BuildLogPath() string {
	return filepath.Join(p.Root, projectBuildLog)
}

// BootImagePath returns the packaged boot image
func (p *Project) BootImagePath() string {
	return p.ImagePath(bootImageName)
}

// ManifestPath returns the build manifest written next to the boot image
func (p *Project) ManifestPath() string {
	return p.ImagePath(manifestName)
}

// Exists reports whether the project directory is present
func (p *Project) Exists() bool {
	return paths.Exists(p.Root)
}
