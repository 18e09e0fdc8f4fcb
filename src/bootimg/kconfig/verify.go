package kconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
)

// InvariantError lists every invariant the patched configuration violates
type InvariantError struct {
	Unmet []string
}

func (e *InvariantError) Error() string {
	return "unmet configuration invariants: " + strings.Join(e.Unmet, "; ")
}

// Verify checks the post-patch state: every rule's postcondition holds,
// EXT4 is the only enabled root filesystem type and no root filesystem
// key is assigned twice. It returns an
// *InvariantError naming each failure, or nil.
func Verify(f *File, rules []Rule) error {
	var unmet []string

	for _, r := range rules {
		if r.Postcondition == nil {
			continue
		}
		if err := r.Postcondition(f); err != nil {
			unmet = append(unmet, fmt.Sprintf("%s: %v", r.Name, err))
		}
	}

	var enabled []string
	for _, key := range rootfsTypeKeys {
		if f.Enabled(key) {
			enabled = append(enabled, key)
		}
		if n := f.Count(key); n > 1 {
			unmet = append(unmet, fmt.Sprintf("rootfs-type: %s is assigned %d times", key, n))
		}
	}
	if len(enabled) != 1 || enabled[0] != KeyRootfsExt4 {
		unmet = append(unmet, fmt.Sprintf("rootfs-type: expected only %s enabled, found [%s]",
			KeyRootfsExt4, strings.Join(enabled, ", ")))
	}

	if len(unmet) > 0 {
		return &InvariantError{Unmet: unmet}
	}
	return nil
}

// Result summarizes a PatchFile run
type Result struct {
	Path    string         `json:"path" yaml:"path"`
	Changes map[string]int `json:"changes" yaml:"changes"`
	Written bool           `json:"written" yaml:"written"`
}

// PatchFile patches the configuration at path in place and verifies the
// result. The file is rewritten atomically and only when content changed.
// Invariant failures are reported after the write as an *InvariantError.
func PatchFile(path string, opts Options) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	rules := Rules(opts)
	f := Parse(original)
	result := &Result{Path: path, Changes: Patch(f, rules)}

	patched := f.Bytes()
	if string(patched) != string(original) {
		if err := renameio.WriteFile(path, patched, info.Mode().Perm()); err != nil {
			return result, fmt.Errorf("failed to write %s: %w", path, err)
		}
		result.Written = true
	}

	return result, Verify(f, rules)
}
