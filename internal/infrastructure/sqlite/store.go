package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

const packageColumns = `id, name, description, license, icon_url, author, latest_version,
	claimed_by, claimed_at, github_repo, stars, forks, watchers, stats_updated_at,
	downloads, created_at, updated_at`

const versionColumns = `id, package_id, version, manifest, publisher_id, publish_method,
	provenance, downloads, created_at`

const artifactColumns = `id, version_id, os, arch, digest, size_bytes, storage_path,
	downloads, created_at`

const scanColumns = `id, scan_id, version_id, status, risk_score, report,
	certification_level, controls_passed, controls_failed, controls_total,
	findings_summary, error, started_at, completed_at`

// querier is the subset of *sql.DB and *sql.Tx the scan helpers need.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements domain.Store on SQLite.
type Store struct {
	db *sql.DB
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ domain.Store = (*Store)(nil)

func scanPackage(scanner interface{ Scan(...any) error }) (*packageModel, error) {
	var m packageModel
	err := scanner.Scan(
		&m.ID, &m.Name, &m.Description, &m.License, &m.IconURL, &m.Author, &m.LatestVersion,
		&m.ClaimedBy, &m.ClaimedAt, &m.GitHubRepo, &m.Stars, &m.Forks, &m.Watchers, &m.StatsUpdatedAt,
		&m.Downloads, &m.CreatedAt, &m.UpdatedAt,
	)
	return &m, err
}

func scanVersion(scanner interface{ Scan(...any) error }) (*versionModel, error) {
	var m versionModel
	err := scanner.Scan(
		&m.ID, &m.PackageID, &m.Version, &m.Manifest, &m.PublisherID, &m.PublishMethod,
		&m.Provenance, &m.Downloads, &m.CreatedAt,
	)
	return &m, err
}

func scanArtifact(scanner interface{ Scan(...any) error }) (*artifactModel, error) {
	var m artifactModel
	err := scanner.Scan(
		&m.ID, &m.VersionID, &m.OS, &m.Arch, &m.Digest, &m.SizeBytes, &m.StoragePath,
		&m.Downloads, &m.CreatedAt,
	)
	return &m, err
}

func scanScan(scanner interface{ Scan(...any) error }) (*scanModel, error) {
	var m scanModel
	err := scanner.Scan(
		&m.ID, &m.ScanID, &m.VersionID, &m.Status, &m.RiskScore, &m.Report,
		&m.CertificationLevel, &m.ControlsPassed, &m.ControlsFailed, &m.ControlsTotal,
		&m.FindingsSummary, &m.Error, &m.StartedAt, &m.CompletedAt,
	)
	return &m, err
}

func findPackageByName(ctx context.Context, q querier, name string) (*domain.Package, error) {
	row := q.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE name = ?`, name)
	m, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding package by name: %w", err)
	}
	return m.toDomain(), nil
}

// FindPackageByName retrieves a package by its scoped name.
func (s *Store) FindPackageByName(ctx context.Context, name string) (*domain.Package, error) {
	return findPackageByName(ctx, s.db, name)
}

// FindVersion retrieves a version row of a package.
func (s *Store) FindVersion(ctx context.Context, packageID int64, version string) (*domain.PackageVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM package_versions WHERE package_id = ? AND version = ?`,
		packageID, version,
	)
	m, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding version: %w", err)
	}
	return m.toDomain(), nil
}

// FindArtifacts lists artifacts for a version in insertion order.
func (s *Store) FindArtifacts(ctx context.Context, versionID int64) ([]*domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE version_id = ? ORDER BY id`,
		versionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var artifacts []*domain.Artifact
	for rows.Next() {
		m, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact row: %w", err)
		}
		artifacts = append(artifacts, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifact rows: %w", err)
	}
	return artifacts, nil
}

// FindScan retrieves a scan by its external correlation key.
func (s *Store) FindScan(ctx context.Context, scanID string) (*domain.SecurityScan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM security_scans WHERE scan_id = ?`, scanID)
	m, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding scan: %w", err)
	}
	return m.toDomain(), nil
}

// FindLatestScanForVersion retrieves the most recently started scan for
// a version.
func (s *Store) FindLatestScanForVersion(ctx context.Context, versionID int64) (*domain.SecurityScan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scanColumns+` FROM security_scans WHERE version_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		versionID,
	)
	m, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest scan: %w", err)
	}
	return m.toDomain(), nil
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&storeTx{ctx: ctx, tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Close releases the store. The *sql.DB is owned by the DB struct.
func (s *Store) Close() error {
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite3.Error
	return errors.As(err, &serr) && serr.ExtendedCode() == sqlite3.CONSTRAINT_UNIQUE
}

// storeTx implements domain.Tx over a *sql.Tx.
type storeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ domain.Tx = (*storeTx)(nil)

func (t *storeTx) FindPackageByName(name string) (*domain.Package, error) {
	return findPackageByName(t.ctx, t.tx, name)
}

func (t *storeTx) CreatePackage(pkg *domain.Package) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO packages (
			name, description, license, icon_url, author, latest_version,
			claimed_by, claimed_at, github_repo, downloads, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		pkg.Name, pkg.Description, pkg.License, pkg.IconURL, pkg.Author, pkg.LatestVersion,
		pkg.ClaimedBy, nullableUnix(pkg.ClaimedAt), pkg.GitHubRepo,
		pkg.CreatedAt.Unix(), pkg.UpdatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrPackageExists, pkg.Name)
	}
	if err != nil {
		return fmt.Errorf("inserting package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting package id: %w", err)
	}
	pkg.ID = id
	return nil
}

func (t *storeTx) UpdateLatestVersion(packageID int64, version string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE packages SET latest_version = ?, updated_at = ? WHERE id = ?`,
		version, time.Now().Unix(), packageID,
	)
	if err != nil {
		return fmt.Errorf("updating latest version: %w", err)
	}
	return nil
}

func (t *storeTx) CreateVersion(v *domain.PackageVersion) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO package_versions (
			package_id, version, manifest, publisher_id, publish_method, provenance, downloads, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		v.PackageID, v.Version, string(v.Manifest), v.PublisherID, string(v.PublishMethod),
		nullableJSON(v.Provenance), v.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrVersionExists, v.Version)
	}
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting version id: %w", err)
	}
	v.ID = id
	return nil
}

func (t *storeTx) CreateArtifact(a *domain.Artifact) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO artifacts (
			version_id, os, arch, digest, size_bytes, storage_path, downloads, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		a.VersionID, a.OS, a.Arch, a.Digest, a.SizeBytes, a.StoragePath, a.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting artifact id: %w", err)
	}
	a.ID = id
	return nil
}

// ClaimPackageIfUnclaimed is the compare-and-set write both the explicit
// claim path and the publish auto-claim path go through. The WHERE
// clause is the claimability check; racing claimants see zero rows
// affected.
func (t *storeTx) ClaimPackageIfUnclaimed(packageID int64, userID, githubRepo string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE packages SET claimed_by = ?, claimed_at = ?, github_repo = ?, updated_at = ?
		 WHERE id = ? AND claimed_by IS NULL`,
		userID, at.Unix(), nullableString(githubRepo), at.Unix(), packageID,
	)
	if err != nil {
		return false, fmt.Errorf("claiming package: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}

func (t *storeTx) CreateScan(s *domain.SecurityScan) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO security_scans (scan_id, version_id, status, started_at)
		 VALUES (?, ?, ?, ?)`,
		s.ScanID, s.VersionID, string(s.Status), s.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting scan id: %w", err)
	}
	s.ID = id
	return nil
}

func (t *storeTx) TransitionScan(scanID string, from, to domain.ScanStatus) (bool, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE security_scans SET status = ? WHERE scan_id = ? AND status = ?`,
		string(to), scanID, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("transitioning scan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateScanResult writes the terminal result. The status guard in the
// WHERE clause makes redelivered callbacks no-ops.
func (t *storeTx) UpdateScanResult(s *domain.SecurityScan) (bool, error) {
	summary, err := json.Marshal(s.Findings)
	if err != nil {
		return false, fmt.Errorf("encoding findings summary: %w", err)
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE security_scans SET
			status = ?, risk_score = ?, report = ?, certification_level = ?,
			controls_passed = ?, controls_failed = ?, controls_total = ?,
			findings_summary = ?, error = ?, completed_at = ?
		 WHERE scan_id = ? AND status NOT IN ('completed', 'failed')`,
		string(s.Status), s.RiskScore, nullableJSON(s.Report), s.CertificationLevel,
		s.ControlsPassed, s.ControlsFailed, s.ControlsTotal,
		string(summary), s.Error, nullableUnix(s.CompletedAt),
		s.ScanID,
	)
	if err != nil {
		return false, fmt.Errorf("updating scan result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return affected == 1, nil
}

func (t *storeTx) IncrementDownloadCounters(packageID, versionID, artifactID int64) error {
	for _, step := range []struct {
		query string
		id    int64
	}{
		{`UPDATE artifacts SET downloads = downloads + 1 WHERE id = ?`, artifactID},
		{`UPDATE package_versions SET downloads = downloads + 1 WHERE id = ?`, versionID},
		{`UPDATE packages SET downloads = downloads + 1 WHERE id = ?`, packageID},
	} {
		if _, err := t.tx.ExecContext(t.ctx, step.query, step.id); err != nil {
			return fmt.Errorf("incrementing download counter: %w", err)
		}
	}
	return nil
}

func (t *storeTx) UpdatePackageStats(packageID int64, stars, forks, watchers int, at time.Time) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE packages SET stars = ?, forks = ?, watchers = ?, stats_updated_at = ?, updated_at = ?
		 WHERE id = ?`,
		stars, forks, watchers, at.Unix(), at.Unix(), packageID,
	)
	if err != nil {
		return fmt.Errorf("updating package stats: %w", err)
	}
	return nil
}
