package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { _ = db.Close() })
	return db.Store()
}

// seedPackage inserts a package with one version and one universal
// artifact, returning all three.
func seedPackage(t *testing.T, store *Store, name string) (*domain.Package, *domain.PackageVersion, *domain.Artifact) {
	t.Helper()
	now := time.Now()
	pkg := &domain.Package{Name: name, LatestVersion: "1.0.0", CreatedAt: now, UpdatedAt: now}
	version := &domain.PackageVersion{
		Version:       "1.0.0",
		Manifest:      json.RawMessage(`{"name":"` + name + `","version":"1.0.0"}`),
		PublisherID:   "user-1",
		PublishMethod: domain.PublishMethodUpload,
		CreatedAt:     now,
	}
	artifact := &domain.Artifact{
		OS: domain.PlatformAny, Arch: domain.PlatformAny,
		Digest: "sha256:abc", SizeBytes: 42, StoragePath: name + "/1.0.0/bundle.mcpb",
		CreatedAt: now,
	}

	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		if err := tx.CreatePackage(pkg); err != nil {
			return err
		}
		version.PackageID = pkg.ID
		if err := tx.CreateVersion(version); err != nil {
			return err
		}
		artifact.VersionID = version.ID
		return tx.CreateArtifact(artifact)
	})
	require.NoError(t, err)
	return pkg, version, artifact
}

func TestStore_PublishTransaction(t *testing.T) {
	store := setupStore(t)
	pkg, version, artifact := seedPackage(t, store, "@alice/tool")

	require.Greater(t, pkg.ID, int64(0))
	require.Greater(t, version.ID, int64(0))
	require.Greater(t, artifact.ID, int64(0))

	found, err := store.FindPackageByName(context.Background(), "@alice/tool")
	require.NoError(t, err)
	require.Equal(t, pkg.ID, found.ID)
	require.Equal(t, "1.0.0", found.LatestVersion)
	require.True(t, found.Claimable())

	v, err := store.FindVersion(context.Background(), pkg.ID, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, version.ID, v.ID)
	require.Equal(t, domain.PublishMethodUpload, v.PublishMethod)
	require.JSONEq(t, string(version.Manifest), string(v.Manifest))

	artifacts, err := store.FindArtifacts(context.Background(), version.ID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	require.True(t, artifacts[0].Universal())
	require.Equal(t, "sha256:abc", artifacts[0].Digest)
}

func TestStore_FindPackageByName_NotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.FindPackageByName(context.Background(), "@missing/pkg")
	require.ErrorIs(t, err, domain.ErrPackageNotFound)
}

func TestStore_DuplicateVersionIsConflict(t *testing.T) {
	store := setupStore(t)
	pkg, _, _ := seedPackage(t, store, "@alice/tool")

	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.CreateVersion(&domain.PackageVersion{
			PackageID:     pkg.ID,
			Version:       "1.0.0",
			Manifest:      json.RawMessage(`{}`),
			PublisherID:   "user-2",
			PublishMethod: domain.PublishMethodUpload,
			CreatedAt:     time.Now(),
		})
	})
	require.ErrorIs(t, err, domain.ErrVersionExists,
		"the uniqueness constraint is the source of truth for duplicate versions")

	// The first version's data is untouched.
	v, err := store.FindVersion(context.Background(), pkg.ID, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "user-1", v.PublisherID)
}

func TestStore_DuplicatePackageNameIsConflict(t *testing.T) {
	store := setupStore(t)
	first, _, _ := seedPackage(t, store, "@alice/tool")

	now := time.Now()
	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		return tx.CreatePackage(&domain.Package{
			Name: "@alice/tool", LatestVersion: "2.0.0",
			CreatedAt: now, UpdatedAt: now,
		})
	})
	require.ErrorIs(t, err, domain.ErrPackageExists,
		"a taken name must surface as a conflict the caller can recover from")

	// The first package row is untouched.
	found, err := store.FindPackageByName(context.Background(), "@alice/tool")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
	require.Equal(t, "1.0.0", found.LatestVersion)
}

func TestStore_TransactionRollsBackAtomically(t *testing.T) {
	store := setupStore(t)
	pkg, _, _ := seedPackage(t, store, "@alice/tool")

	// Fails on the duplicate version after updating latest_version; the
	// whole transaction must roll back.
	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		if err := tx.UpdateLatestVersion(pkg.ID, "9.9.9"); err != nil {
			return err
		}
		return tx.CreateVersion(&domain.PackageVersion{
			PackageID: pkg.ID, Version: "1.0.0",
			Manifest: json.RawMessage(`{}`), PublisherID: "user-1",
			PublishMethod: domain.PublishMethodUpload, CreatedAt: time.Now(),
		})
	})
	require.ErrorIs(t, err, domain.ErrVersionExists)

	found, err := store.FindPackageByName(context.Background(), "@alice/tool")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", found.LatestVersion, "partial writes must not be observable")
}

func TestStore_ClaimPackageIfUnclaimed(t *testing.T) {
	store := setupStore(t)
	pkg, _, _ := seedPackage(t, store, "@alice/tool")
	ctx := context.Background()

	var won bool
	err := store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		won, err = tx.ClaimPackageIfUnclaimed(pkg.ID, "user-1", "alice/tool", time.Now())
		return err
	})
	require.NoError(t, err)
	require.True(t, won)

	// Second claim loses: claimed_by is already set.
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		won, err = tx.ClaimPackageIfUnclaimed(pkg.ID, "user-2", "eve/tool", time.Now())
		return err
	})
	require.NoError(t, err)
	require.False(t, won)

	found, err := store.FindPackageByName(ctx, "@alice/tool")
	require.NoError(t, err)
	require.True(t, found.OwnedBy("user-1"))
	require.NotNil(t, found.ClaimedAt)
	require.Equal(t, "alice/tool", *found.GitHubRepo)
}

func TestStore_ScanLifecycle(t *testing.T) {
	store := setupStore(t)
	_, version, _ := seedPackage(t, store, "@alice/tool")
	ctx := context.Background()

	scan := &domain.SecurityScan{
		ScanID:    "scan-1",
		VersionID: version.ID,
		Status:    domain.ScanPending,
		StartedAt: time.Now(),
	}
	err := store.WithTx(ctx, func(tx domain.Tx) error { return tx.CreateScan(scan) })
	require.NoError(t, err)

	// pending -> scanning
	var ok bool
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		ok, err = tx.TransitionScan("scan-1", domain.ScanPending, domain.ScanScanning)
		return err
	})
	require.NoError(t, err)
	require.True(t, ok)

	// A second identical transition is a no-op.
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		ok, err = tx.TransitionScan("scan-1", domain.ScanPending, domain.ScanScanning)
		return err
	})
	require.NoError(t, err)
	require.False(t, ok)

	level := 2
	now := time.Now()
	result := &domain.SecurityScan{
		ScanID:             "scan-1",
		Status:             domain.ScanCompleted,
		RiskScore:          "LOW",
		Report:             json.RawMessage(`{"compliance":{"level":2}}`),
		CertificationLevel: &level,
		ControlsPassed:     14,
		ControlsTotal:      14,
		Findings:           domain.FindingsSummary{Low: 1},
		CompletedAt:        &now,
	}
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		ok, err = tx.UpdateScanResult(result)
		return err
	})
	require.NoError(t, err)
	require.True(t, ok)

	// Redelivery after the terminal state is absorbed.
	stale := &domain.SecurityScan{ScanID: "scan-1", Status: domain.ScanFailed, Error: "boom"}
	err = store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		ok, err = tx.UpdateScanResult(stale)
		return err
	})
	require.NoError(t, err)
	require.False(t, ok, "terminal scans must not be mutated")

	found, err := store.FindScan(ctx, "scan-1")
	require.NoError(t, err)
	require.Equal(t, domain.ScanCompleted, found.Status)
	require.Equal(t, "LOW", found.RiskScore)
	require.NotNil(t, found.CertificationLevel)
	require.Equal(t, 2, *found.CertificationLevel)
	require.Equal(t, 14, found.ControlsPassed)
	require.Equal(t, domain.FindingsSummary{Low: 1}, found.Findings)
	require.NotNil(t, found.CompletedAt)
}

func TestStore_FindLatestScanForVersion(t *testing.T) {
	store := setupStore(t)
	_, version, _ := seedPackage(t, store, "@alice/tool")
	ctx := context.Background()

	_, err := store.FindLatestScanForVersion(ctx, version.ID)
	require.ErrorIs(t, err, domain.ErrScanNotFound)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"scan-old", "scan-new"} {
		scan := &domain.SecurityScan{
			ScanID: id, VersionID: version.ID, Status: domain.ScanPending,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		err := store.WithTx(ctx, func(tx domain.Tx) error { return tx.CreateScan(scan) })
		require.NoError(t, err)
	}

	latest, err := store.FindLatestScanForVersion(ctx, version.ID)
	require.NoError(t, err)
	require.Equal(t, "scan-new", latest.ScanID)
}

func TestStore_IncrementDownloadCounters(t *testing.T) {
	store := setupStore(t)
	pkg, version, artifact := seedPackage(t, store, "@alice/tool")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.IncrementDownloadCounters(pkg.ID, version.ID, artifact.ID)
		})
		require.NoError(t, err)
	}

	foundPkg, err := store.FindPackageByName(ctx, "@alice/tool")
	require.NoError(t, err)
	require.Equal(t, int64(3), foundPkg.Downloads)

	foundVersion, err := store.FindVersion(ctx, pkg.ID, "1.0.0")
	require.NoError(t, err)
	require.Equal(t, int64(3), foundVersion.Downloads)

	artifacts, err := store.FindArtifacts(ctx, version.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), artifacts[0].Downloads)
}

func TestStore_UpdatePackageStats(t *testing.T) {
	store := setupStore(t)
	pkg, _, _ := seedPackage(t, store, "@alice/tool")
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.UpdatePackageStats(pkg.ID, 120, 14, 9, time.Now())
	})
	require.NoError(t, err)

	found, err := store.FindPackageByName(ctx, "@alice/tool")
	require.NoError(t, err)
	require.Equal(t, 120, found.Stars)
	require.Equal(t, 14, found.Forks)
	require.Equal(t, 9, found.Watchers)
	require.NotNil(t, found.StatsUpdatedAt)
}

func TestStore_FindPackageByName_InsideTx(t *testing.T) {
	store := setupStore(t)
	seedPackage(t, store, "@alice/tool")

	err := store.WithTx(context.Background(), func(tx domain.Tx) error {
		pkg, err := tx.FindPackageByName("@alice/tool")
		if err != nil {
			return err
		}
		require.Equal(t, "@alice/tool", pkg.Name)
		_, err = tx.FindPackageByName("@missing/pkg")
		require.ErrorIs(t, err, domain.ErrPackageNotFound)
		return nil
	})
	require.NoError(t, err)
}
