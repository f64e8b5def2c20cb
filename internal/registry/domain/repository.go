package domain

import (
	"context"
	"time"
)

// Tx exposes the write operations that participate in a single atomic
// registry transaction. All methods either all take effect or none do.
type Tx interface {
	// FindPackageByName re-reads a package inside the transaction, for
	// compare-and-set re-checks. Returns ErrPackageNotFound if absent.
	FindPackageByName(name string) (*Package, error)

	// CreatePackage inserts a new package row and sets pkg.ID. Returns
	// ErrPackageExists if the name is already taken.
	CreatePackage(pkg *Package) error

	// UpdateLatestVersion sets the latest_version pointer on a package.
	UpdateLatestVersion(packageID int64, version string) error

	// CreateVersion inserts a version row and sets v.ID. Returns
	// ErrVersionExists if (packageID, version) already exists; the
	// store's uniqueness constraint is the source of truth for
	// duplicate detection, not any earlier application-level check.
	CreateVersion(v *PackageVersion) error

	// CreateArtifact inserts an artifact row and sets a.ID.
	CreateArtifact(a *Artifact) error

	// ClaimPackageIfUnclaimed atomically sets ownership iff the package
	// is still unclaimed at write time. Reports whether the claim won.
	ClaimPackageIfUnclaimed(packageID int64, userID, githubRepo string, at time.Time) (bool, error)

	// CreateScan inserts a scan row in pending and sets s.ID.
	CreateScan(s *SecurityScan) error

	// TransitionScan moves a scan between lifecycle states iff it is
	// currently in from. Reports whether the transition happened.
	TransitionScan(scanID string, from, to ScanStatus) (bool, error)

	// UpdateScanResult commits a terminal result iff the scan is not
	// already terminal. Reports whether the write happened.
	UpdateScanResult(s *SecurityScan) (bool, error)

	// IncrementDownloadCounters bumps the artifact, version, and package
	// download counters as one unit.
	IncrementDownloadCounters(packageID, versionID, artifactID int64) error

	// UpdatePackageStats refreshes the cached GitHub statistics.
	UpdatePackageStats(packageID int64, stars, forks, watchers int, at time.Time) error
}

// Store defines the persistence interface for the registry. All
// cross-row consistency comes from WithTx transactions, never from
// in-process locks; the implementation must be correct under multiple
// process instances.
type Store interface {
	// FindPackageByName retrieves a package by its scoped name.
	// Returns ErrPackageNotFound if absent.
	FindPackageByName(ctx context.Context, name string) (*Package, error)

	// FindVersion retrieves a version row.
	// Returns ErrVersionNotFound if absent.
	FindVersion(ctx context.Context, packageID int64, version string) (*PackageVersion, error)

	// FindArtifacts lists artifacts for a version in insertion order.
	FindArtifacts(ctx context.Context, versionID int64) ([]*Artifact, error)

	// FindScan retrieves a scan by its external correlation key.
	// Returns ErrScanNotFound if absent.
	FindScan(ctx context.Context, scanID string) (*SecurityScan, error)

	// FindLatestScanForVersion retrieves the most recently started scan
	// for a version. Returns ErrScanNotFound if none exists.
	FindLatestScanForVersion(ctx context.Context, versionID int64) (*SecurityScan, error)

	// WithTx runs fn inside a transaction. If fn returns an error the
	// transaction is rolled back and that error is returned.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases the underlying database handle.
	Close() error
}
