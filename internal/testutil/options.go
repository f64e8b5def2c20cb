package testutil

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

type packageData struct {
	pkg      domain.Package
	versions []*versionData
}

type versionData struct {
	version   domain.PackageVersion
	artifacts []domain.Artifact
	scans     []domain.SecurityScan
}

func defaultPackage(name string) domain.Package {
	now := time.Now().UTC()
	return domain.Package{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func defaultVersion(pkgName, version string) domain.PackageVersion {
	return domain.PackageVersion{
		Version:       version,
		Manifest:      json.RawMessage(ManifestJSON(pkgName, version)),
		PublisherID:   "user-test",
		PublishMethod: domain.PublishMethodUpload,
		CreatedAt:     time.Now().UTC(),
	}
}

func defaultArtifact(os, arch string) domain.Artifact {
	return domain.Artifact{
		OS:          os,
		Arch:        arch,
		Digest:      "sha256:" + strings.Repeat("ab", 32),
		SizeBytes:   1024,
		StoragePath: "test/bundle.mcpb",
		CreatedAt:   time.Now().UTC(),
	}
}

func defaultScan(scanID string) domain.SecurityScan {
	return domain.SecurityScan{
		ScanID:    scanID,
		Status:    domain.ScanPending,
		StartedAt: time.Now().UTC(),
	}
}

// PackageOption configures a package during builder setup.
type PackageOption func(*domain.Package)

// Description sets the package description.
func Description(d string) PackageOption {
	return func(p *domain.Package) { p.Description = d }
}

// LatestVersion sets the latest version pointer. When a matching
// WithVersion follows, the pointer is written after the version row.
func LatestVersion(v string) PackageOption {
	return func(p *domain.Package) { p.LatestVersion = v }
}

// ClaimedBy marks the package as owned by the given user.
func ClaimedBy(userID string) PackageOption {
	return func(p *domain.Package) {
		at := time.Now().UTC()
		p.ClaimedBy = &userID
		p.ClaimedAt = &at
	}
}

// Repo links the package to a GitHub repository (owner/repo).
func Repo(repo string) PackageOption {
	return func(p *domain.Package) { p.GitHubRepo = &repo }
}

// VersionOption configures a version during builder setup.
type VersionOption func(*domain.PackageVersion)

// Manifest sets the stored manifest document.
func Manifest(raw string) VersionOption {
	return func(v *domain.PackageVersion) { v.Manifest = json.RawMessage(raw) }
}

// Publisher sets the publishing user.
func Publisher(userID string) VersionOption {
	return func(v *domain.PackageVersion) { v.PublisherID = userID }
}

// PublishedAt sets the version creation time.
func PublishedAt(at time.Time) VersionOption {
	return func(v *domain.PackageVersion) { v.CreatedAt = at }
}

// ArtifactOption configures an artifact during builder setup.
type ArtifactOption func(*domain.Artifact)

// Digest sets the artifact digest.
func Digest(d string) ArtifactOption {
	return func(a *domain.Artifact) { a.Digest = d }
}

// StoragePath sets the artifact's backing path.
func StoragePath(p string) ArtifactOption {
	return func(a *domain.Artifact) { a.StoragePath = p }
}

// ScanOption configures a security scan during builder setup.
type ScanOption func(*domain.SecurityScan)

// ScanStatus sets the scan's lifecycle state. Terminal states are
// written through the same guarded update the callback handler uses.
func ScanStatus(s domain.ScanStatus) ScanOption {
	return func(sc *domain.SecurityScan) {
		sc.Status = s
		if s.Terminal() {
			at := time.Now().UTC()
			sc.CompletedAt = &at
		}
	}
}

// ScanStartedAt sets when the scan was triggered.
func ScanStartedAt(at time.Time) ScanOption {
	return func(sc *domain.SecurityScan) { sc.StartedAt = at }
}

// ScanReport attaches a completed report with its derived fields.
func ScanReport(level int, report string) ScanOption {
	return func(sc *domain.SecurityScan) {
		sc.Report = json.RawMessage(report)
		sc.CertificationLevel = &level
	}
}
