// Package kconfig reads, patches and verifies the key=value build
// configuration generated by the toolchain (project-spec/configs/config).
//
// The representation is line oriented: comments, blank lines and ordering
// are preserved so that a patched file differs from the original only on
// the lines a rule touched.
package kconfig

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// File is a parsed configuration file
type File struct {
	lines           []string
	trailingNewline bool
}

// Parse splits data into lines
func Parse(data []byte) *File {
	f := &File{}
	if len(data) == 0 {
		return f
	}
	text := string(data)
	f.trailingNewline = strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")
	f.lines = strings.Split(text, "\n")
	return f
}

// ReadFile parses the configuration file at path
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

// Bytes renders the file back to its on-disk form
func (f *File) Bytes() []byte {
	var buf bytes.Buffer
	for i, line := range f.lines {
		buf.WriteString(line)
		if i < len(f.lines)-1 || f.trailingNewline {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Get returns the raw value of an enabled key, quotes included.
func (f *File) Get(key string) (string, bool) {
	for _, line := range f.lines {
		if k, v, ok := splitAssignment(line); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// Enabled reports whether key is set to y
func (f *File) Enabled(key string) bool {
	v, ok := f.Get(key)
	return ok && v == "y"
}

// NotSet reports whether the file carries "# KEY is not set" for key
func (f *File) NotSet(key string) bool {
	marker := notSetLine(key)
	for _, line := range f.lines {
		if strings.TrimSpace(line) == marker {
			return true
		}
	}
	return false
}

// Count returns the number of assignment lines for key
func (f *File) Count(key string) int {
	n := 0
	for _, line := range f.lines {
		if k, _, ok := splitAssignment(line); ok && k == key {
			n++
		}
	}
	return n
}

// splitAssignment parses KEY=VALUE. Comment lines never match.
func splitAssignment(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	idx := strings.IndexByte(line, '=')
	if idx <= 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

func notSetLine(key string) string {
	return fmt.Sprintf("# %s is not set", key)
}

// Quote renders s as a quoted string value
func Quote(s string) string {
	return `"` + s + `"`
}
