/*
Package snapshot persists the record store as a single GeoJSON FeatureCollection
document and restores it at startup.

A Manager owns the encode/decode step and the write schedule. Backends only move
opaque document bytes to and from durable storage.
*/
package snapshot

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Backend that holds no document yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt marks a stored document that cannot be decoded.
	ErrCorrupt = errors.New("snapshot corrupt")
)

// Backend stores one snapshot document, replacing the previous one atomically.
type Backend interface {
	// Save replaces the stored document with doc. A reader never observes a partial write.
	Save(ctx context.Context, doc []byte) error

	// Load returns the stored document, or ErrNotFound when none exists.
	Load(ctx context.Context) ([]byte, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}
