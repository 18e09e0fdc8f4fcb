// Package fetch retrieves build inputs from local paths, HTTP(S) servers,
// S3 buckets and scp hosts into the local working tree.
package fetch

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/bitswalk/bootimg/src/common/errors"
)

// Scheme identifies how a source location is retrieved
type Scheme string

const (
	SchemeFile  Scheme = "file"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeS3    Scheme = "s3"
	SchemeSCP   Scheme = "scp"
)

// Source is a parsed source location
type Source struct {
	Scheme Scheme
	Raw    string

	// Path is the local path (file), URL path (http) or remote path (scp)
	Path string

	// URL is the full request URL for http and https sources
	URL string

	// Host, User and Port address scp sources
	Host string
	User string
	Port string

	// Bucket and Key address s3 sources
	Bucket string
	Key    string
}

// ParseSource parses a source location. Plain paths and file:// URLs are
// local; http(s)://, s3://bucket/key and scp://[user@]host[:port]/path are
// remote.
func ParseSource(raw string) (*Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.ErrMissingRequiredField.WithMessage("source location is empty")
	}

	if !strings.Contains(raw, "://") {
		return &Source{Scheme: SchemeFile, Raw: raw, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.ErrSourceUnsupported.WithMessagef("invalid source location %q", raw).WithCause(err)
	}

	src := &Source{Scheme: Scheme(strings.ToLower(u.Scheme)), Raw: raw}
	switch src.Scheme {
	case SchemeFile:
		src.Path = u.Path
		if src.Path == "" {
			src.Path = u.Opaque
		}
	case SchemeHTTP, SchemeHTTPS:
		src.URL = raw
		src.Path = u.Path
	case SchemeS3:
		src.Bucket = u.Host
		src.Key = strings.TrimPrefix(u.Path, "/")
		if src.Bucket == "" || src.Key == "" {
			return nil, errors.ErrSourceUnsupported.WithMessagef("s3 source %q needs a bucket and a key", raw)
		}
		src.Path = src.Key
	case SchemeSCP:
		src.Host = u.Hostname()
		src.Port = u.Port()
		if u.User != nil {
			src.User = u.User.Username()
		}
		src.Path = u.Path
		if src.Host == "" || src.Path == "" {
			return nil, errors.ErrSourceUnsupported.WithMessagef("scp source %q needs a host and a path", raw)
		}
	default:
		return nil, errors.ErrSourceUnsupported.WithMessagef("unsupported scheme %q in %s", u.Scheme, raw)
	}

	if src.Path == "" {
		return nil, errors.ErrSourceUnsupported.WithMessagef("source %q has no path", raw)
	}

	return src, nil
}

// IsRemote reports whether the source needs a network transfer
func (s *Source) IsRemote() bool {
	return s.Scheme != SchemeFile
}

// BaseName returns the last element of the source path
func (s *Source) BaseName() string {
	if s.Scheme == SchemeFile {
		return filepath.Base(filepath.Clean(s.Path))
	}
	return path.Base(path.Clean(s.Path))
}

// String returns the raw location
func (s *Source) String() string {
	return s.Raw
}

// scpTarget returns the [user@]host:path argument for scp
func (s *Source) scpTarget() string {
	target := s.Host + ":" + s.Path
	if s.User != "" {
		target = s.User + "@" + target
	}
	return target
}
