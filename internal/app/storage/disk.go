package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"geomap/internal/pkg/logx"
)

// PublicPathPrefix is the URL path under which the router serves UploadDir.
const PublicPathPrefix = "/uploads"

// ErrInvalidKey is returned for keys that would escape the upload directory.
var ErrInvalidKey = errors.New("invalid object key")

// diskStorage implements StorageService on a local directory.
type diskStorage struct {
	root    string
	baseURL string
	logger  zerolog.Logger
}

func newDiskStorage(cfg ServiceConfig) (*diskStorage, error) {
	if cfg.UploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	return &diskStorage{
		root:    cfg.UploadDir,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/") + PublicPathPrefix,
		logger:  logx.Component("DiskStorage").With().Str("dir", cfg.UploadDir).Logger(),
	}, nil
}

func (d *diskStorage) Backend() string {
	return "disk"
}

// Upload copies at most size bytes of body into root/key through a temporary file.
func (d *diskStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target, err := d.resolve(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(body, size))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if written != size {
		return "", fmt.Errorf("write object: short body, got %d of %d bytes", written, size)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod object: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("store object: %w", err)
	}

	d.logger.Debug().Str("key", key).Int64("size", size).Msg("Object stored.")
	return objectURL(d.baseURL, key), nil
}

// resolve maps key to a path inside root.
func (d *diskStorage) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}
