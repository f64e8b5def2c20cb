// Package testutil provides a fluent builder for seeding registry test
// databases with packages, versions, artifacts, and scans.
package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
)

// Builder accumulates test data and inserts it in the correct order.
type Builder struct {
	t    *testing.T
	s    domain.Store
	pkgs []*packageData
}

// Seeded exposes the inserted rows keyed the way tests look them up.
type Seeded struct {
	Packages  map[string]*domain.Package        // by name
	Versions  map[string]*domain.PackageVersion // by name@version
	Artifacts map[string][]*domain.Artifact     // by name@version
	Scans     map[string]*domain.SecurityScan   // by scan ID
}

// NewBuilder creates a builder writing through the given store.
func NewBuilder(t *testing.T, s domain.Store) *Builder {
	t.Helper()
	return &Builder{t: t, s: s}
}

// WithPackage adds a package with optional configuration. Subsequent
// WithVersion calls attach to it.
func (b *Builder) WithPackage(name string, opts ...PackageOption) *Builder {
	pkg := defaultPackage(name)
	for _, opt := range opts {
		opt(&pkg)
	}
	b.pkgs = append(b.pkgs, &packageData{pkg: pkg})
	return b
}

// WithVersion adds a version to the most recent package. Subsequent
// WithArtifact and WithScan calls attach to it.
func (b *Builder) WithVersion(version string, opts ...VersionOption) *Builder {
	require.NotEmpty(b.t, b.pkgs, "WithVersion requires a preceding WithPackage")
	p := b.pkgs[len(b.pkgs)-1]
	v := defaultVersion(p.pkg.Name, version)
	for _, opt := range opts {
		opt(&v)
	}
	p.versions = append(p.versions, &versionData{version: v})
	return b
}

// WithArtifact adds an artifact to the most recent version.
func (b *Builder) WithArtifact(os, arch string, opts ...ArtifactOption) *Builder {
	v := b.lastVersion("WithArtifact")
	a := defaultArtifact(os, arch)
	for _, opt := range opts {
		opt(&a)
	}
	v.artifacts = append(v.artifacts, a)
	return b
}

// WithScan adds a security scan to the most recent version.
func (b *Builder) WithScan(scanID string, opts ...ScanOption) *Builder {
	v := b.lastVersion("WithScan")
	s := defaultScan(scanID)
	for _, opt := range opts {
		opt(&s)
	}
	v.scans = append(v.scans, s)
	return b
}

func (b *Builder) lastVersion(caller string) *versionData {
	require.NotEmpty(b.t, b.pkgs, "%s requires a preceding WithPackage", caller)
	p := b.pkgs[len(b.pkgs)-1]
	require.NotEmpty(b.t, p.versions, "%s requires a preceding WithVersion", caller)
	return p.versions[len(p.versions)-1]
}

// Build inserts everything in one transaction and returns the rows with
// their assigned IDs.
func (b *Builder) Build() *Seeded {
	b.t.Helper()

	seeded := &Seeded{
		Packages:  make(map[string]*domain.Package),
		Versions:  make(map[string]*domain.PackageVersion),
		Artifacts: make(map[string][]*domain.Artifact),
		Scans:     make(map[string]*domain.SecurityScan),
	}

	err := b.s.WithTx(context.Background(), func(tx domain.Tx) error {
		for _, p := range b.pkgs {
			pkg := p.pkg
			if err := tx.CreatePackage(&pkg); err != nil {
				return err
			}
			seeded.Packages[pkg.Name] = &pkg

			for _, vd := range p.versions {
				v := vd.version
				v.PackageID = pkg.ID
				if err := tx.CreateVersion(&v); err != nil {
					return err
				}
				key := pkg.Name + "@" + v.Version
				seeded.Versions[key] = &v

				if pkg.LatestVersion == v.Version {
					if err := tx.UpdateLatestVersion(pkg.ID, v.Version); err != nil {
						return err
					}
				}
				for _, ad := range vd.artifacts {
					a := ad
					a.VersionID = v.ID
					if err := tx.CreateArtifact(&a); err != nil {
						return err
					}
					seeded.Artifacts[key] = append(seeded.Artifacts[key], &a)
				}
				for _, sd := range vd.scans {
					s := sd
					s.VersionID = v.ID
					want := s.Status
					s.Status = domain.ScanPending
					if err := tx.CreateScan(&s); err != nil {
						return err
					}
					switch {
					case want.Terminal():
						// Terminal states go through the same result
						// write the callback path uses.
						s.Status = want
						if _, err := tx.UpdateScanResult(&s); err != nil {
							return err
						}
					case want == domain.ScanScanning:
						if _, err := tx.TransitionScan(s.ScanID, domain.ScanPending, want); err != nil {
							return err
						}
						s.Status = want
					}
					scan := s
					seeded.Scans[s.ScanID] = &scan
				}
			}
		}
		return nil
	})
	require.NoError(b.t, err, "seeding test data")
	return seeded
}
