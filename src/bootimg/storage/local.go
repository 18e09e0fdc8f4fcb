package storage

import (
	"context"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
	"github.com/google/renameio/v2"
)

// LocalConfig configures a directory-backed store
type LocalConfig struct {
	BasePath string
}

// LocalBackend stores objects as files below a base directory
type LocalBackend struct {
	basePath string
}

// NewLocal creates the base directory if needed
func NewLocal(cfg LocalConfig) (*LocalBackend, error) {
	if cfg.BasePath == "" {
		return nil, errors.ErrMissingRequiredField.WithMessage("local storage path is required")
	}
	basePath, err := paths.Resolve(cfg.BasePath)
	if err != nil {
		return nil, errors.ErrInvalidFieldValue.WithMessage("invalid local storage path").WithCause(err)
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, errors.ErrStorageUnavailable.WithMessagef("cannot create %s", basePath).WithCause(err)
	}
	return &LocalBackend{basePath: basePath}, nil
}

// ResolvePath maps key to a file below the base directory. Leading slashes
// and ".." elements are folded away so no key resolves outside it.
func (b *LocalBackend) ResolvePath(key string) string {
	rel := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	return filepath.Join(b.basePath, rel)
}

// Upload writes the object through a temporary file renamed into place
func (b *LocalBackend) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	dest := b.ResolvePath(key)
	if err := paths.EnsureDir(dest); err != nil {
		return errors.ErrStorageTransfer.WithMessagef("cannot create directory for %s", key).WithCause(err)
	}

	tmp, err := renameio.TempFile("", dest)
	if err != nil {
		return errors.ErrStorageTransfer.WithMessagef("cannot stage %s", key).WithCause(err)
	}
	defer tmp.Cleanup()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return errors.ErrStorageTransfer.WithMessagef("cannot write %s", key).WithCause(err)
	}
	if size > 0 && n != size {
		return errors.ErrStorageTransfer.WithMessagef("short write for %s: %d of %d bytes", key, n, size)
	}
	if err := tmp.Chmod(0644); err != nil {
		return errors.ErrStorageTransfer.WithCause(err)
	}
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return errors.ErrStorageTransfer.WithMessagef("cannot commit %s", key).WithCause(err)
	}
	return nil
}

// Download opens the file behind key
func (b *LocalBackend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	info, err := b.GetInfo(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(b.ResolvePath(key))
	if err != nil {
		return nil, nil, errors.ErrStorageTransfer.WithMessagef("cannot open %s", key).WithCause(err)
	}
	return f, info, nil
}

// GetInfo stats the file behind key. Directories are not objects.
func (b *LocalBackend) GetInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	st, err := os.Stat(b.ResolvePath(key))
	switch {
	case os.IsNotExist(err):
		return nil, errors.ErrStorageNotFound.WithMessagef("object not found: %s", key)
	case err != nil:
		return nil, errors.ErrStorageTransfer.WithMessagef("cannot stat %s", key).WithCause(err)
	case st.IsDir():
		return nil, errors.ErrStorageNotFound.WithMessagef("%s is a directory, not an object", key)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ContentType:  contentType,
		LastModified: st.ModTime(),
	}, nil
}

// Ping checks that the base directory is still a directory
func (b *LocalBackend) Ping(ctx context.Context) error {
	if !paths.IsDir(b.basePath) {
		return errors.ErrStorageUnavailable.WithMessagef("%s is not a directory", b.basePath)
	}
	return nil
}

func (b *LocalBackend) Type() string { return TypeLocal }

func (b *LocalBackend) Location() string { return b.basePath }
