package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-hclog"

	appconfig "github.com/clipstream/transcoder/internal/config"
)

// ObjectStore is the storage surface the pipeline consumes: stream an object
// down to a local file, stream a local file up with its headers.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, destPath string) error
	Upload(ctx context.Context, bucket, key, srcPath, contentType, cacheControl string) error
}

// S3Store implements ObjectStore against S3 or any S3-compatible endpoint.
type S3Store struct {
	client *s3.Client
	logger hclog.Logger
}

// NewS3Store builds an S3 client from configuration. A custom endpoint plus
// path-style addressing covers MinIO and friends.
func NewS3Store(ctx context.Context, cfg *appconfig.Config, logger hclog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3ForcePathStyle
	})

	return &S3Store{client: client, logger: logger}, nil
}

// Download streams an object into destPath without buffering it in memory.
func (s *S3Store) Download(ctx context.Context, bucket, key, destPath string) error {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 get %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	written, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("s3 download %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("downloaded object", "bucket", bucket, "key", key, "bytes", written)
	return nil
}

// Upload streams a local file to the bucket with its content type and cache
// policy.
func (s *S3Store) Upload(ctx context.Context, bucket, key, srcPath, contentType, cacheControl string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s: %w", bucket, key, err)
	}

	s.logger.Debug("uploaded object", "bucket", bucket, "key", key, "bytes", info.Size(), "content_type", contentType)
	return nil
}
