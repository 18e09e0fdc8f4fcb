package build

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/storage"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
)

// PublishStage uploads the boot image and its manifest to a storage backend
type PublishStage struct {
	storage storage.Backend
	prefix  string
}

// NewPublishStage creates a new publish stage
func NewPublishStage(backend storage.Backend, prefix string) *PublishStage {
	return &PublishStage{
		storage: backend,
		prefix:  prefix,
	}
}

// Name returns the stage name
func (s *PublishStage) Name() db.BuildStageName {
	return db.StagePublish
}

// Validate checks that there is something to publish and somewhere to put it
func (s *PublishStage) Validate(ctx context.Context, sc *StageContext) error {
	if s.storage == nil {
		return errors.ErrPublishFailed.WithMessage("no storage backend configured")
	}
	if !paths.IsFile(sc.BootImagePath) {
		return errors.ErrMissingArtifact.WithMessagef("boot image not found at %q", sc.BootImagePath)
	}
	if err := s.storage.Ping(ctx); err != nil {
		return errors.ErrPublishFailed.WithMessagef("storage %s unreachable", s.storage.Location()).WithCause(err)
	}
	return nil
}

// Execute uploads BOOT.BIN and manifest.yaml under <prefix>/<run-id>/
func (s *PublishStage) Execute(ctx context.Context, sc *StageContext, progress ProgressFunc) error {
	files := []string{sc.BootImagePath}
	if sc.ManifestPath != "" {
		files = append(files, sc.ManifestPath)
	}

	for i, file := range files {
		key := path.Join(s.prefix, sc.RunID, filepath.Base(file))
		progress(i*100/len(files), "Uploading "+key)

		if err := s.upload(ctx, file, key); err != nil {
			return err
		}
		sc.PublishedKeys = append(sc.PublishedKeys, key)
	}

	log.Info("Boot image published",
		"storage", s.storage.Type(),
		"location", s.storage.Location(),
		"keys", sc.PublishedKeys,
	)
	progress(100, "Boot image published")

	return nil
}

func (s *PublishStage) upload(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return errors.ErrPublishFailed.WithCause(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.ErrPublishFailed.WithCause(err)
	}

	contentType := "application/octet-stream"
	if filepath.Ext(file) == ".yaml" {
		contentType = "application/yaml"
	}

	if err := s.storage.Upload(ctx, key, f, info.Size(), contentType); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.ErrPublishFailed.WithMessagef("failed to upload %s", key).WithCause(err)
	}

	stored, err := s.storage.GetInfo(ctx, key)
	if err != nil {
		return errors.ErrPublishFailed.WithMessagef("failed to stat uploaded %s", key).WithCause(err)
	}
	if stored.Size != info.Size() {
		return errors.ErrPublishFailed.WithMessagef("uploaded %s has %d bytes, expected %d", key, stored.Size, info.Size())
	}
	log.Debug("Upload verified", "key", key, "size", stored.Size)
	return nil
}
