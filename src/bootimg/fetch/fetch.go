package fetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/bootimg/src/bootimg/storage"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/google/renameio/v2"
	"github.com/schollz/progressbar/v3"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the fetch package
func SetLogger(l *logs.Logger) {
	log = l
}

// RunFunc runs an external command, used for scp transfers
type RunFunc func(ctx context.Context, argv []string) error

// Options configures a Fetcher
type Options struct {
	// HTTPClient is used for http and https sources (no timeout when nil)
	HTTPClient *http.Client

	// S3 holds the endpoint and credentials for s3 sources; the bucket is
	// taken from each source
	S3 storage.S3Config

	// Run executes scp; scp sources fail when nil
	Run RunFunc

	// Progress receives a download progress bar; nil disables it
	Progress io.Writer

	// UserAgent is sent with http and https requests
	UserAgent string
}

// DefaultUserAgent is sent when Options.UserAgent is empty
const DefaultUserAgent = "bootimg"

// Fetcher copies sources into the local working tree
type Fetcher struct {
	httpClient *http.Client
	s3Config   storage.S3Config
	run        RunFunc
	progress   io.Writer
	userAgent  string
}

// New creates a new Fetcher
func New(opts Options) *Fetcher {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 0}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		httpClient: httpClient,
		s3Config:   opts.S3,
		run:        opts.Run,
		progress:   opts.Progress,
		userAgent:  userAgent,
	}
}

// Fetch copies src to dest. Local directories are copied recursively;
// every other source yields a single file at dest.
func (f *Fetcher) Fetch(ctx context.Context, src *Source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return errors.ErrTransferFailed.WithCause(err)
	}

	if src.IsRemote() {
		log.Info("Fetching remote source", "source", src.String(), "scheme", src.Scheme)
	}

	start := time.Now()
	var err error
	switch src.Scheme {
	case SchemeFile:
		err = f.fetchLocal(src, dest)
	case SchemeHTTP, SchemeHTTPS:
		err = f.fetchHTTP(ctx, src, dest)
	case SchemeS3:
		err = f.fetchS3(ctx, src, dest)
	case SchemeSCP:
		err = f.fetchSCP(ctx, src, dest)
	default:
		return errors.ErrSourceUnsupported.WithMessagef("unsupported scheme %q", src.Scheme)
	}
	if err != nil {
		var domainErr *errors.Error
		if errors.As(err, &domainErr) {
			return err
		}
		return errors.ErrTransferFailed.WithMessagef("failed to fetch %s", src.Raw).WithCause(err)
	}

	log.Debug("Fetched source", "source", src.Raw, "dest", dest, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (f *Fetcher) fetchLocal(src *Source, dest string) error {
	info, err := os.Stat(src.Path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src.Path, dest)
	}
	return copyFile(src.Path, dest, info.Mode().Perm())
}

func (f *Fetcher) fetchHTTP(ctx context.Context, src *Source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return f.writeStream(resp.Body, resp.ContentLength, src.BaseName(), dest)
}

func (f *Fetcher) fetchS3(ctx context.Context, src *Source, dest string) error {
	cfg := f.s3Config
	cfg.Bucket = src.Bucket
	backend, err := storage.NewS3(cfg)
	if err != nil {
		return errors.ErrTransferFailed.WithMessagef("cannot reach %s", src.Raw).WithCause(err)
	}

	body, info, err := backend.Download(ctx, src.Key)
	if err != nil {
		return errors.ErrTransferFailed.WithMessagef("failed to fetch %s", src.Raw).WithCause(err)
	}
	defer body.Close()

	return f.writeStream(body, info.Size, src.BaseName(), dest)
}

func (f *Fetcher) fetchSCP(ctx context.Context, src *Source, dest string) error {
	if f.run == nil {
		return errors.ErrSourceUnsupported.WithMessage("scp sources need a command runner")
	}

	argv := []string{"scp", "-B", "-r"}
	if src.Port != "" {
		argv = append(argv, "-P", src.Port)
	}
	argv = append(argv, src.scpTarget(), dest)

	return f.run(ctx, argv)
}

// writeStream copies r to dest atomically, drawing a progress bar when a
// progress writer is configured
func (f *Fetcher) writeStream(r io.Reader, size int64, name, dest string) error {
	t, err := renameio.TempFile("", dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer t.Cleanup()

	var w io.Writer = t
	if f.progress != nil {
		if size <= 0 {
			size = -1
		}
		bar := progressbar.NewOptions64(size,
			progressbar.OptionSetDescription("Fetching "+name),
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(f.progress, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		defer bar.Finish()
		w = io.MultiWriter(t, bar)
	}

	written, err := io.Copy(w, r)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if size > 0 && written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, received %d bytes", size, written)
	}
	if err := t.Chmod(0644); err != nil {
		return err
	}

	return t.CloseAtomicallyReplace()
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	t, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.Chmod(perm); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}
