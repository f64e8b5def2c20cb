package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpak-dev/mpak-registry/internal/infrastructure/sqlite"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

func newStore(t *testing.T) domain.Store {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Store()
}

func TestBuilder_PackageGraph(t *testing.T) {
	store := newStore(t)

	seeded := NewBuilder(t, store).
		WithPackage("@alice/tool", ClaimedBy("user-alice"), Repo("alice/tool"), LatestVersion("1.1.0")).
		WithVersion("1.0.0", Publisher("user-alice")).
		WithArtifact("any", "any").
		WithVersion("1.1.0", Publisher("user-alice")).
		WithArtifact("any", "any").
		WithArtifact("linux", "x64", Digest("sha256:001122"), StoragePath("alice/tool/1.1.0/linux.mcpb")).
		WithScan("scan-1", ScanStatus(domain.ScanCompleted), ScanReport(2, CompletedReportJSON(2))).
		Build()

	pkg, err := store.FindPackageByName(context.Background(), "@alice/tool")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", pkg.LatestVersion)
	require.NotNil(t, pkg.ClaimedBy)
	assert.Equal(t, "user-alice", *pkg.ClaimedBy)

	v := seeded.Versions["@alice/tool@1.1.0"]
	require.NotNil(t, v)
	artifacts, err := store.FindArtifacts(context.Background(), v.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	scan, err := store.FindScan(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, scan.Status)
	require.NotNil(t, scan.CertificationLevel)
	assert.Equal(t, 2, *scan.CertificationLevel)
	assert.NotNil(t, scan.CompletedAt)
}

func TestBuilder_CertifiedPackagePreset(t *testing.T) {
	store := newStore(t)

	seeded := NewBuilder(t, store).
		WithCertifiedPackage("@alice/tool", "1.0.0").
		Build()

	require.Contains(t, seeded.Scans, "scan-@alice/tool-1.0.0")
	scan, err := store.FindLatestScanForVersion(context.Background(),
		seeded.Versions["@alice/tool@1.0.0"].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanCompleted, scan.Status)
}

func TestBuilder_ScanningTransition(t *testing.T) {
	store := newStore(t)

	NewBuilder(t, store).
		WithPackage("@alice/tool", LatestVersion("1.0.0")).
		WithVersion("1.0.0").
		WithScan("scan-live", ScanStatus(domain.ScanScanning)).
		Build()

	scan, err := store.FindScan(context.Background(), "scan-live")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanScanning, scan.Status)
	assert.Nil(t, scan.CompletedAt)
}
