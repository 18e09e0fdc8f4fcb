// Package version holds build-time version information for bootimg.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Info holds version information, populated from linker variables.
type Info struct {
	// Version is the full version string, e.g. "v1.2.0-4f9f297"
	Version string `json:"version" yaml:"version"`

	// ReleaseVersion is the semantic version, without a leading "v"
	ReleaseVersion string `json:"release" yaml:"release"`

	BuildDate string `json:"build_date" yaml:"build_date"`
	GitCommit string `json:"git_commit" yaml:"git_commit"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// New creates an Info for an unreleased development build
func New() *Info {
	return &Info{
		Version:        "dev",
		ReleaseVersion: "0.0.0",
		BuildDate:      "unknown",
		GitCommit:      "unknown",
		GoVersion:      runtime.Version(),
	}
}

// Set overrides fields with the non-empty linker values
func (i *Info) Set(version, release, buildDate, commit string) {
	for dst, v := range map[*string]string{
		&i.Version:        version,
		&i.ReleaseVersion: strings.TrimPrefix(release, "v"),
		&i.BuildDate:      buildDate,
		&i.GitCommit:      commit,
	} {
		if v != "" {
			*dst = v
		}
	}
}

func (i *Info) String() string {
	return i.Version
}

// Short identifies the build in artifacts it produces, e.g. "v1.2.0-4f9f297"
func (i *Info) Short() string {
	return fmt.Sprintf("v%s-%s", i.ReleaseVersion, i.GitCommit)
}

// UserAgent identifies bootimg in outgoing HTTP requests
func (i *Info) UserAgent() string {
	return "bootimg/" + i.ReleaseVersion
}

// Full returns a detailed multi-line version string
func (i *Info) Full() string {
	return fmt.Sprintf(`bootimg %s
  Version:    %s
  Build Date: %s
  Git Commit: %s
  Go Version: %s`,
		i.Version,
		i.ReleaseVersion,
		i.BuildDate,
		i.GitCommit,
		i.GoVersion,
	)
}
