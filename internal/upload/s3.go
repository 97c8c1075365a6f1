// Package upload pushes exported files to an S3-compatible bucket
// (AWS S3, Cloudflare R2, MinIO).
package upload

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader stores a local file remotely and returns its object key
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Config holds bucket settings
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // custom endpoint, e.g. https://<account>.r2.cloudflarestorage.com
	AccessKeyID     string
	SecretAccessKey string
}

// objectUploader is the part of manager.Uploader used here
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Uploader uploads files under <prefix>/<basename>
type S3Uploader struct {
	uploader objectUploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Uploader builds an uploader from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS credential chain.
func NewS3Uploader(ctx context.Context, cfg Config, log zerolog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("no bucket configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Uploader(manager.NewUploader(client), cfg, log), nil
}

func newS3Uploader(uploader objectUploader, cfg Config, log zerolog.Logger) *S3Uploader {
	return &S3Uploader{
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		log:      log.With().Str("component", "s3_uploader").Logger(),
	}
}

// Key returns the object key a local file is stored under
func (u *S3Uploader) Key(localPath string) string {
	if u.prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(u.prefix, filepath.Base(localPath))
}

// Upload puts the file at localPath into the bucket
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	key := u.Key(localPath)
	contentType := contentTypeOf(localPath)

	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}

	u.log.Info().
		Str("bucket", u.bucket).
		Str("key", key).
		Str("location", out.Location).
		Msg("File uploaded")
	return key, nil
}

func contentTypeOf(localPath string) string {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ext == ".csv" {
		// Not in Go's builtin table
		return "text/csv; charset=utf-8"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
