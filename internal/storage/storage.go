// Package storage persists bundle artifacts and issues time-boxed
// signed URLs for downloads.
package storage

import (
	"context"
	"io"
	"time"
)

// SavedArtifact describes a stored bundle.
type SavedArtifact struct {
	Path      string // store-relative path, recorded on the artifact row
	Digest    string // sha256:<hex> of the stored bytes
	SizeBytes int64
}

// ArtifactStore stores immutable bundle blobs.
type ArtifactStore interface {
	// Save writes the bundle for (name, version) and returns its storage
	// path, digest, and size. Every call writes to a distinct path, even
	// for the same (name, version): uploads never overwrite each other,
	// and deleting one cannot touch another.
	Save(ctx context.Context, name, version string, data []byte) (*SavedArtifact, error)

	// Delete removes a stored bundle. Used as the compensating action
	// when a publish transaction fails after upload. Deleting a missing
	// path is not an error.
	Delete(ctx context.Context, path string) error

	// Open streams a stored bundle.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// SignedURL returns a URL for path that is valid until expiresAt.
	SignedURL(path string, expiresAt time.Time) (string, error)
}
