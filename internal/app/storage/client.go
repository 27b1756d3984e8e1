package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"geomap/internal/pkg/logx"
)

// s3Client implements StorageService against an S3-compatible bucket.
type s3Client struct {
	cfg      ServiceConfig
	uploader *manager.Uploader
	logger   zerolog.Logger
}

// newS3Client initializes the S3 client with a custom endpoint, so any S3-compatible
// provider can be used.
func newS3Client(ctx context.Context, cfg ServiceConfig) (*s3Client, error) {
	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load S3 client configuration: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return &s3Client{
		cfg:      cfg,
		uploader: manager.NewUploader(client),
		logger:   logx.Component("S3Storage").With().Str("bucket", cfg.S3BucketName).Logger(),
	}, nil
}

func (c *s3Client) Backend() string {
	return "s3"
}

// Upload streams body to the bucket under key.
func (c *s3Client) Upload(ctx context.Context, key string, body io.Reader, size int64, mimeType string) (string, error) {
	if key == "" {
		return "", errors.New("empty object key")
	}

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.S3BucketName),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(size),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("S3 upload failed.")
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	return objectURL(c.cfg.S3PublicURL, key), nil
}

// objectURL joins a public base URL and an object key.
func objectURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
