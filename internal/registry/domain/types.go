// Package domain provides the pure domain layer for the package registry
// with no infrastructure dependencies. It defines the Package,
// PackageVersion, Artifact, and SecurityScan entities, package name
// parsing, the Store interface for persistence abstraction, and
// domain-specific error types.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Principal identifies an authenticated caller. Authentication itself is
// handled upstream; the registry only ever sees this opaque identity.
type Principal struct {
	UserID         string
	Email          string
	GitHubUsername string
}

// HasGitHub reports whether the principal has a linked GitHub identity.
func (p Principal) HasGitHub() bool {
	return p.GitHubUsername != ""
}

// PublishMethod records how a version reached the registry.
type PublishMethod string

const (
	PublishMethodUpload PublishMethod = "upload"
	PublishMethodOIDC   PublishMethod = "oidc"
)

// Name is a parsed scoped package name of the form @scope/name.
type Name struct {
	Scope string // without the leading @
	Local string
}

// String returns the canonical @scope/name form.
func (n Name) String() string {
	return "@" + n.Scope + "/" + n.Local
}

func validNamePart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// ParseName parses a package name. Unscoped names are rejected: every
// package lives under a scope to prevent namespace squatting.
func ParseName(raw string) (Name, error) {
	if !strings.HasPrefix(raw, "@") {
		return Name{}, fmt.Errorf("%w: package name %q must be scoped as @scope/name", ErrUnscopedName, raw)
	}
	rest := raw[1:]
	scope, local, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(local, "/") {
		return Name{}, fmt.Errorf("%w: package name %q must be scoped as @scope/name", ErrUnscopedName, raw)
	}
	if !validNamePart(scope) || !validNamePart(local) {
		return Name{}, fmt.Errorf("%w: package name %q contains invalid characters", ErrUnscopedName, raw)
	}
	return Name{Scope: scope, Local: local}, nil
}

// Package is the root entity: one row per globally-unique scoped name.
// The name is immutable once created. ClaimedBy transitions only from
// nil to set; normal flow never reverses a claim.
type Package struct {
	ID            int64
	Name          string
	Description   string
	License       string
	IconURL       string
	Author        string
	LatestVersion string

	// Ownership
	ClaimedBy  *string
	ClaimedAt  *time.Time
	GitHubRepo *string

	// Cached GitHub stats
	Stars          int
	Forks          int
	Watchers       int
	StatsUpdatedAt *time.Time

	Downloads int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claimable reports whether the package can still be claimed.
func (p *Package) Claimable() bool {
	return p.ClaimedBy == nil
}

// OwnedBy reports whether the package is claimed by the given principal.
func (p *Package) OwnedBy(userID string) bool {
	return p.ClaimedBy != nil && *p.ClaimedBy == userID
}

// PackageVersion is one published version of a package. Versions are
// write-once: publishing the same (name, version) again is a conflict,
// enforced by a uniqueness constraint at the store level.
type PackageVersion struct {
	ID            int64
	PackageID     int64
	Version       string
	Manifest      json.RawMessage
	PublisherID   string
	PublishMethod PublishMethod
	Provenance    json.RawMessage // nullable, OIDC provenance claims
	Downloads     int64
	CreatedAt     time.Time
}

// PlatformAny marks an artifact dimension as universal.
const PlatformAny = "any"

// Artifact is a stored binary for one (os, arch) pair of a version.
// os=any/arch=any denotes the universal artifact. Immutable after creation.
type Artifact struct {
	ID          int64
	VersionID   int64
	OS          string
	Arch        string
	Digest      string // sha256:<hex>
	SizeBytes   int64
	StoragePath string
	Downloads   int64
	CreatedAt   time.Time
}

// Universal reports whether this artifact serves any platform.
func (a *Artifact) Universal() bool {
	return a.OS == PlatformAny && a.Arch == PlatformAny
}

// ScanStatus is the lifecycle state of a security scan.
// Valid transitions:
//
//	pending  -> scanning
//	scanning -> completed, failed
//	pending  -> completed, failed (engine may report before the
//	            hand-off acknowledgment lands)
//
// completed and failed are terminal.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether the status is final.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// FindingsSummary counts findings per severity bucket.
type FindingsSummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// SecurityScan tracks one certification run for a version. Created in
// pending at trigger time, mutated exactly once by the callback handler,
// never deleted.
type SecurityScan struct {
	ID        int64
	ScanID    string // external correlation key (uuid)
	VersionID int64
	Status    ScanStatus

	RiskScore string
	Report    json.RawMessage

	// Certification fields derived from the report
	CertificationLevel *int // 0..4, nil until completed
	ControlsPassed     int
	ControlsFailed     int
	ControlsTotal      int
	Findings           FindingsSummary

	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
