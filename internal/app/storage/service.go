/*
Package storage stores uploaded avatar images and returns the public URL they are
served from. Uploads go to an S3-compatible bucket when one is configured, otherwise
to a local directory served by the HTTP router.
*/
package storage

import (
	"context"
	"io"
)

// ServiceConfig holds the configuration required to connect to the storage target.
type ServiceConfig struct {
	// S3 target; all four must be set to select it.
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// S3PublicURL is the base URL objects are readable from, e.g. a CDN in front of the bucket.
	S3PublicURL string

	// UploadDir is the local directory used when no bucket is configured.
	UploadDir string

	// PublicBaseURL is the externally visible base of this server, used to build disk URLs.
	PublicBaseURL string
}

// StorageService defines the public interface for the file storage service.
type StorageService interface {
	// Upload stores size bytes read from body under key and returns the object's public URL.
	Upload(ctx context.Context, key string, body io.Reader, size int64, mimeType string) (string, error)

	// Backend names the storage target for logs.
	Backend() string
}

// NewStorageService picks the S3 implementation when a bucket is configured and the
// local disk implementation otherwise.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	if cfg.S3BucketName != "" {
		return newS3Client(ctx, cfg)
	}
	return newDiskStorage(cfg)
}
