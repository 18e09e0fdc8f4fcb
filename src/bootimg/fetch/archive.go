package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/ulikunitz/xz"
)

var archiveSuffixes = []string{".tar", ".tar.gz", ".tgz", ".tar.xz", ".txz"}

// IsArchive reports whether path names a supported tar archive
func IsArchive(path string) bool {
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// Extract unpacks a tar archive (optionally gzip or xz compressed) into destDir
func Extract(ctx context.Context, archivePath, destDir string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return errors.ErrExtractFailed.WithCause(err)
	}
	defer file.Close()

	var reader io.Reader = file

	switch {
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return errors.ErrExtractFailed.WithMessage("failed to create gzip reader").WithCause(err)
		}
		defer gzReader.Close()
		reader = gzReader

	case strings.HasSuffix(archivePath, ".tar.xz") || strings.HasSuffix(archivePath, ".txz"):
		xzReader, err := xz.NewReader(file)
		if err != nil {
			return errors.ErrExtractFailed.WithMessage("failed to create xz reader").WithCause(err)
		}
		reader = xzReader

	case strings.HasSuffix(archivePath, ".tar"):

	default:
		return errors.ErrExtractFailed.WithMessagef("unsupported archive format: %s", archivePath)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return errors.ErrExtractFailed.WithCause(err)
	}
	if err := untar(ctx, tar.NewReader(reader), destDir); err != nil {
		return errors.ErrExtractFailed.WithMessagef("failed to extract %s", filepath.Base(archivePath)).WithCause(err)
	}
	return nil
}

func untar(ctx context.Context, tarReader *tar.Reader, destDir string) error {
	base := filepath.Clean(destDir)
	root := base + string(os.PathSeparator)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(base, header.Name)
		if target != base && !strings.HasPrefix(target, root) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}
		if err := checkNoSymlinkParent(base, target); err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)|0700); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			if err := prepareTarget(target); err != nil {
				return err
			}
			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return fmt.Errorf("failed to close file: %w", err)
			}

		case tar.TypeSymlink:
			if err := prepareTarget(target); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink: %w", err)
			}

		case tar.TypeLink:
			linkTarget := filepath.Join(base, header.Linkname)
			if !strings.HasPrefix(linkTarget, root) {
				return fmt.Errorf("invalid hard link target: %s", header.Linkname)
			}
			if err := checkNoSymlinkParent(base, linkTarget); err != nil {
				return err
			}
			if err := prepareTarget(target); err != nil {
				return err
			}
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("failed to create hard link: %w", err)
			}
		}
	}
}

// checkNoSymlinkParent fails when a directory between base and target is a
// symlink, since writing through it could land outside base. Missing
// directories end the walk; they are created as real directories later.
func checkNoSymlinkParent(base, target string) error {
	rel, err := filepath.Rel(base, filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}

	cur := base
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", cur, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			rel, _ := filepath.Rel(base, target)
			return fmt.Errorf("refusing to extract %s through symlink %s", rel, part)
		}
	}
	return nil
}

// prepareTarget creates the parent of target and removes a symlink already
// at target, so that the new entry replaces the link instead of following it
func prepareTarget(target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("failed to replace symlink %s: %w", target, err)
		}
	}
	return nil
}
