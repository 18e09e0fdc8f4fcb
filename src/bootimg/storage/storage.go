// Package storage holds the object stores bootimg reads build inputs from
// (s3:// sources) and publishes finished boot images to.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/bitswalk/bootimg/src/common/errors"
)

// Backend is an object store addressed by slash-separated keys
type Backend interface {
	// Upload stores size bytes from r under key. A size of zero or less
	// means the length is unknown.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Download opens the object at key. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)

	// GetInfo returns metadata for key, or ErrStorageNotFound
	GetInfo(ctx context.Context, key string) (*ObjectInfo, error)

	// Ping checks that the store can be reached before any transfer starts
	Ping(ctx context.Context) error

	Type() string
	Location() string
}

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	ContentType  string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
}

// Backend types accepted in Config.Type
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Config selects and configures a backend
type Config struct {
	Type  string
	Local LocalConfig
	S3    S3Config
}

// New creates the backend named by cfg.Type. An empty type means local.
func New(cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeS3:
		return NewS3(cfg.S3)
	case TypeLocal, "":
		return NewLocal(cfg.Local)
	}
	return nil, errors.ErrInvalidFieldValue.WithMessagef("unsupported storage type %q (want %s or %s)", cfg.Type, TypeLocal, TypeS3)
}
