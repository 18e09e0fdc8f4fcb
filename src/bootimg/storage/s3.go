package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitswalk/bootimg/src/common/errors"
)

// DefaultS3Region is used when no region is configured
const DefaultS3Region = "us-east-1"

// S3Config configures an S3 or S3-compatible (MinIO, Ceph RGW) bucket
type S3Config struct {
	// Endpoint is empty for AWS, or the base URL of a compatible service
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle addresses the bucket in the path rather than the host;
	// most self-hosted services require it
	UsePathStyle bool
}

// S3Backend stores objects in a single bucket
type S3Backend struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3 creates a client for cfg.Bucket. Without static keys the SDK's
// default credential chain is not consulted, so anonymous access is used.
func NewS3(cfg S3Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.ErrMissingRequiredField.WithMessage("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultS3Region
	}

	awsCfg := aws.Config{Region: cfg.Region}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Backend{client: client, cfg: cfg}, nil
}

// Upload puts the object with a known content length
func (b *S3Backend) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, in); err != nil {
		return errors.ErrStorageTransfer.WithMessagef("cannot upload s3://%s/%s", b.cfg.Bucket, key).WithCause(err)
	}
	return nil
}

// Download streams the object body
func (b *S3Backend) Download(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, b.objectError(key, err)
	}
	info := objectInfo(key, out.ContentLength, out.ContentType, out.ETag, out.LastModified)
	return out.Body, info, nil
}

// GetInfo issues a HEAD request for key
func (b *S3Backend) GetInfo(ctx context.Context, key string) (*ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.objectError(key, err)
	}
	return objectInfo(key, out.ContentLength, out.ContentType, out.ETag, out.LastModified), nil
}

// Ping issues a HEAD request for the bucket
func (b *S3Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.cfg.Bucket)}); err != nil {
		return errors.ErrStorageUnavailable.WithMessagef("bucket %s not reachable", b.cfg.Bucket).WithCause(err)
	}
	return nil
}

func (b *S3Backend) Type() string { return TypeS3 }

// Location is the endpoint URL of the bucket, or its s3:// URI on AWS
func (b *S3Backend) Location() string {
	if b.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s", b.cfg.Endpoint, b.cfg.Bucket)
	}
	return "s3://" + b.cfg.Bucket
}

// objectError maps a missing key to ErrStorageNotFound
func (b *S3Backend) objectError(key string, err error) error {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return errors.ErrStorageNotFound.WithMessagef("object not found: s3://%s/%s", b.cfg.Bucket, key)
	}
	return errors.ErrStorageTransfer.WithMessagef("cannot read s3://%s/%s", b.cfg.Bucket, key).WithCause(err)
}

func objectInfo(key string, size *int64, contentType, etag *string, modified *time.Time) *ObjectInfo {
	return &ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		ETag:         aws.ToString(etag),
		LastModified: aws.ToTime(modified),
	}
}
