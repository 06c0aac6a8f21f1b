package keystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"luks-keeper/internal/config"
	"luks-keeper/internal/keeper"
)

// s3API is the subset of *s3.Client the store reads with, so tests can
// run without a bucket.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// uploader is satisfied by *manager.Uploader.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3BlobStore keeps records as objects under <prefix>/ in a bucket.
// Object writes are atomic on the S3 side, so Put never exposes a partial
// record.
type S3BlobStore struct {
	api      s3API
	uploader uploader
	bucket   string
	prefix   string
}

// NewS3BlobStore creates a store backed by a real S3 client.
func NewS3BlobStore(client *s3.Client, bucket, prefix string) *S3BlobStore {
	return NewS3BlobStoreWithAPI(client, manager.NewUploader(client), bucket, prefix)
}

// NewS3BlobStoreWithAPI allows injecting the S3 API (used in tests).
func NewS3BlobStoreWithAPI(api s3API, up uploader, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{api: api, uploader: up, bucket: bucket, prefix: prefix}
}

// NewS3ClientFromConfig builds an S3 client from keystore settings. Static
// credentials are used when both keys are configured; otherwise the
// default AWS credential chain applies.
func NewS3ClientFromConfig(ctx context.Context, cfg config.KeyStoreConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (s *S3BlobStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Get copies the named object to w.
func (s *S3BlobStore) Get(ctx context.Context, name string, w io.Writer) error {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("record %s: %w", name, keeper.ErrNotFound)
		}
		return fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	return nil
}

// Exists reports whether the named object is present.
func (s *S3BlobStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nf *types.NotFound
		var nsk *types.NoSuchKey
		if errors.As(err, &nf) || errors.As(err, &nsk) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Put uploads the record.
func (s *S3BlobStore) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

var _ BlobStore = (*S3BlobStore)(nil)
