package application

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpak-dev/mpak-registry/internal/certify"
	"github.com/mpak-dev/mpak-registry/internal/github"
	"github.com/mpak-dev/mpak-registry/internal/infrastructure/sqlite"
	"github.com/mpak-dev/mpak-registry/internal/manifest"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/storage"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
)

// makeBundle builds a zip bundle containing the given manifest.json.
func makeBundle(t *testing.T, manifestJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(manifestJSON))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeVerifier struct {
	verified bool
	reason   string
	onVerify func() // runs before returning, for race simulations
	calls    atomic.Int64
}

func (f *fakeVerifier) Verify(ctx context.Context, packageName, repo, username string) *github.Verification {
	f.calls.Add(1)
	if f.onVerify != nil {
		f.onVerify()
	}
	return &github.Verification{
		Verified: f.verified,
		Reason:   f.reason,
		FileURL:  "https://raw.example/" + repo + "/HEAD/mpak.json",
	}
}

type fakeStats struct {
	stats github.RepoStats
	err   error
}

func (f *fakeStats) Fetch(ctx context.Context, repo string) (*github.RepoStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.stats
	return &s, nil
}

type fakeScanner struct {
	enabled bool
	mu      sync.Mutex
	reqs    []certify.TriggerRequest
}

func (f *fakeScanner) Enabled() bool { return f.enabled }

func (f *fakeScanner) Trigger(ctx context.Context, req certify.TriggerRequest) (*domain.SecurityScan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &domain.SecurityScan{ScanID: "scan-fake", VersionID: req.VersionID, Status: domain.ScanPending}, nil
}

func (f *fakeScanner) requests() []certify.TriggerRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]certify.TriggerRequest(nil), f.reqs...)
}

// spyArtifacts wraps an ArtifactStore and records calls.
type spyArtifacts struct {
	storage.ArtifactStore
	saves   atomic.Int64
	deletes atomic.Int64
	mu      sync.Mutex
	paths   []string
}

func (s *spyArtifacts) Save(ctx context.Context, name, version string, data []byte) (*storage.SavedArtifact, error) {
	s.saves.Add(1)
	saved, err := s.ArtifactStore.Save(ctx, name, version, data)
	if saved != nil {
		s.mu.Lock()
		s.paths = append(s.paths, saved.Path)
		s.mu.Unlock()
	}
	return saved, err
}

func (s *spyArtifacts) savedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func (s *spyArtifacts) Delete(ctx context.Context, path string) error {
	s.deletes.Add(1)
	return s.ArtifactStore.Delete(ctx, path)
}

type fixture struct {
	store     domain.Store
	artifacts *spyArtifacts
	signer    *storage.URLSigner
	verifier  *fakeVerifier
	stats     *fakeStats
	scanner   *fakeScanner
	pool      *tasks.Pool
	publisher *Publisher
	claimer   *Claimer
	resolver  *DownloadResolver
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	signer := storage.NewURLSigner("test-secret", "/v1/artifacts")
	local, err := storage.NewLocalStore(t.TempDir(), signer)
	require.NoError(t, err)
	artifacts := &spyArtifacts{ArtifactStore: local}

	pool := tasks.NewPool(tasks.Config{MaxWorkers: 2})
	t.Cleanup(pool.Close)

	f := &fixture{
		store:     db.Store(),
		artifacts: artifacts,
		signer:    signer,
		verifier:  &fakeVerifier{},
		stats:     &fakeStats{stats: github.RepoStats{Stars: 42, Forks: 7, Watchers: 3}},
		scanner:   &fakeScanner{},
		pool:      pool,
	}
	f.publisher = NewPublisher(PublisherDeps{
		Store:     f.store,
		Artifacts: f.artifacts,
		Validator: manifest.NewSchemaValidator(),
		Verifier:  f.verifier,
		Stats:     f.stats,
		Scanner:   f.scanner,
		Pool:      pool,
	})
	f.claimer = NewClaimer(f.store, f.verifier, f.stats, pool)
	f.resolver = NewDownloadResolver(f.store, f.artifacts, time.Minute)
	return f
}

// publish is a shorthand for publishing a well-formed bundle.
func (f *fixture) publish(t *testing.T, principal domain.Principal, manifestJSON string) *PublishResult {
	t.Helper()
	res, err := f.publisher.Publish(context.Background(), principal, makeBundle(t, manifestJSON), PublishOptions{})
	require.NoError(t, err)
	return res
}

const toolManifest = `{
	"name": "@alice/tool",
	"version": "1.0.0",
	"description": "a tool",
	"license": "MIT",
	"author": {"name": "Alice"},
	"server": {"type": "node"},
	"repository": "https://github.com/alice/tool"
}`

var alice = domain.Principal{UserID: "user-alice", Email: "alice@example.com", GitHubUsername: "alice"}
var bob = domain.Principal{UserID: "user-bob", Email: "bob@example.com", GitHubUsername: "bob"}
