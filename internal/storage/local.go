package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mpak-dev/mpak-registry/internal/log"
)

// LocalStore keeps bundles on the local filesystem under a root
// directory, laid out as <scope>/<name>/<version>/<upload-id>.mcpb.
type LocalStore struct {
	root   string
	signer *URLSigner
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string, signer *URLSigner) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &LocalStore{root: root, signer: signer}, nil
}

func (s *LocalStore) Save(ctx context.Context, name, version string, data []byte) (*SavedArtifact, error) {
	// Each upload gets its own file. Concurrent publishes of the same
	// (name, version) race for the version row, not the blob: the loser's
	// compensating delete can only ever remove the loser's own upload.
	rel := path.Join(strings.TrimPrefix(name, "@"), version, uuid.NewString()+".mcpb")
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	// Write to a temp file first so a crash never leaves a readable
	// partial bundle at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("placing bundle: %w", err)
	}

	sum := sha256.Sum256(data)
	log.Debug(log.CatStorage, "Saved bundle", "path", rel, "size", len(data))
	return &SavedArtifact{
		Path:      rel,
		Digest:    "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, rel string) error {
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting bundle: %w", err)
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	abs, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening bundle: %w", err)
	}
	return f, nil
}

func (s *LocalStore) SignedURL(rel string, expiresAt time.Time) (string, error) {
	return s.signer.Sign(rel, expiresAt), nil
}

// resolve maps a store-relative path onto the root, refusing anything
// that would escape it.
func (s *LocalStore) resolve(rel string) (string, error) {
	cleaned := path.Clean(rel)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage path %q", rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}
