// Package devicetree rewrites a compiled device tree blob: decompile to
// source, substitute a legacy compatible string, recompile over the
// original blob.
package devicetree

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/google/renameio/v2"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the devicetree package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Default compatible strings: the legacy IIC controller binding emitted by
// the device tree generator, and the name current kernels match on.
const (
	DefaultLegacyCompatible = "xlnx,xps-iic-2.00.a"
	DefaultCompatible       = "xlnx,axi-iic-2.1"
)

// Substitution replaces every literal occurrence of Legacy with Replacement
type Substitution struct {
	Legacy      string
	Replacement string
}

// DefaultSubstitution returns the compatibility fix applied by the pipeline
func DefaultSubstitution() Substitution {
	return Substitution{Legacy: DefaultLegacyCompatible, Replacement: DefaultCompatible}
}

// Validate rejects substitutions that are empty or would not converge
func (s Substitution) Validate() error {
	switch {
	case s.Legacy == "":
		return errors.ErrSubstitution.WithMessage("legacy compatible string is empty")
	case s.Replacement == "":
		return errors.ErrSubstitution.WithMessage("replacement compatible string is empty")
	case strings.Contains(s.Replacement, s.Legacy):
		return errors.ErrSubstitution.WithMessagef("replacement %q contains legacy string %q", s.Replacement, s.Legacy)
	case strings.ContainsAny(s.Legacy+s.Replacement, "\"\n;"):
		return errors.ErrSubstitution.WithMessage("compatible strings must not contain quotes, semicolons or newlines")
	}
	return nil
}

// Apply returns src with the substitution applied and the number of
// occurrences replaced. src is returned unchanged when there are none.
func (s Substitution) Apply(src []byte) ([]byte, int) {
	legacy := []byte(s.Legacy)
	n := bytes.Count(src, legacy)
	if n == 0 {
		return src, 0
	}
	return bytes.ReplaceAll(src, legacy, []byte(s.Replacement)), n
}

// Compiler converts between the blob and source representations
type Compiler interface {
	// Decompile writes the source form of blob to source
	Decompile(ctx context.Context, blob, source string) error
	// Compile writes the blob form of source to blob
	Compile(ctx context.Context, source, blob string) error
}

// Result describes a completed rewrite. Digest is the SHA-256 of the
// recompiled blob.
type Result struct {
	BlobPath   string `json:"blob_path" yaml:"blob_path"`
	SourcePath string `json:"source_path" yaml:"source_path"`
	Replaced   int    `json:"replaced" yaml:"replaced"`
	Digest     string `json:"sha256" yaml:"sha256"`
}

// Rewriter performs the decompile, substitute, recompile round trip
type Rewriter struct {
	compiler Compiler
	sub      Substitution
}

// NewRewriter creates a rewriter
func NewRewriter(compiler Compiler, sub Substitution) *Rewriter {
	return &Rewriter{compiler: compiler, sub: sub}
}

// SourcePath returns the source file that accompanies blob
func SourcePath(blob string) string {
	return strings.TrimSuffix(blob, ".dtb") + ".dts"
}

// Rewrite rewrites blob in place. The blob is always recompiled, even when
// the legacy string does not occur, so the source and blob on disk are in
// sync when Rewrite returns nil.
func (r *Rewriter) Rewrite(ctx context.Context, blob string) (*Result, error) {
	if err := r.sub.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(blob); err != nil {
		return nil, errors.ErrDecompile.WithMessagef("device tree blob %s not found", blob).WithCause(err)
	}

	source := SourcePath(blob)
	if err := r.compiler.Decompile(ctx, blob, source); err != nil {
		return nil, errors.ErrDecompile.WithMessagef("failed to decompile %s", blob).WithCause(err)
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, errors.ErrDecompile.WithMessagef("failed to read %s", source).WithCause(err)
	}

	patched, n := r.sub.Apply(data)
	if n > 0 {
		if err := renameio.WriteFile(source, patched, 0644); err != nil {
			return nil, errors.ErrSubstitution.WithMessagef("failed to write %s", source).WithCause(err)
		}
	}
	log.Info("Applied device tree substitution",
		"legacy", r.sub.Legacy,
		"replacement", r.sub.Replacement,
		"occurrences", n)

	if err := r.compiler.Compile(ctx, source, blob); err != nil {
		return nil, errors.ErrRecompile.WithMessagef("failed to compile %s", source).WithCause(err)
	}

	digest, err := FileDigest(blob)
	if err != nil {
		return nil, errors.ErrRecompile.WithMessagef("failed to hash %s", blob).WithCause(err)
	}

	return &Result{
		BlobPath:   blob,
		SourcePath: source,
		Replaced:   n,
		Digest:     digest,
	}, nil
}

// FileDigest returns the hex SHA-256 of the file at path
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
