package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpak-dev/mpak-registry/internal/certify"
	"github.com/mpak-dev/mpak-registry/internal/github"
	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/manifest"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/storage"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
)

// PublisherDeps wires a Publisher. Pool, Store, Artifacts, and Validator
// are required; Verifier, Stats, and Scanner are optional collaborators
// and their absence disables auto-claim, stats refresh, and scan
// triggering respectively.
type PublisherDeps struct {
	Store       domain.Store
	Artifacts   storage.ArtifactStore
	Validator   manifest.Validator
	Verifier    OwnershipVerifier
	Stats       StatsFetcher
	Scanner     Scanner
	Pool        *tasks.Pool
	DownloadTTL time.Duration
}

// Publisher runs the publish protocol: validate, gate, upload, commit,
// then kick off async side effects. The registry transaction is the
// point of no return; an upload whose transaction fails is deleted.
type Publisher struct {
	deps   PublisherDeps
	tracer trace.Tracer
}

func NewPublisher(deps PublisherDeps) *Publisher {
	if deps.DownloadTTL <= 0 {
		deps.DownloadTTL = DefaultDownloadTTL
	}
	return &Publisher{
		deps:   deps,
		tracer: otel.Tracer("registry/application"),
	}
}

// PublishOptions carries publish metadata beyond the bundle itself.
type PublishOptions struct {
	Method     domain.PublishMethod // defaults to upload
	Provenance json.RawMessage      // OIDC provenance claims, if any
}

// PublishResult is the publish response payload.
type PublishResult struct {
	Package     *domain.Package
	Version     *domain.PackageVersion
	Artifact    *domain.Artifact
	URL         string // signed download URL for the uploaded bundle
	AutoClaimed bool
}

// Publish stores a new package version from an uploaded bundle.
//
// Error classes: ErrBadRequest (malformed bundle/manifest/name),
// ValidationError (schema violations), ErrForbidden (package owned by
// someone else), ErrVersionExists (duplicate version). Anything else is
// internal, reported only after the uploaded bundle has been removed.
func (p *Publisher) Publish(ctx context.Context, principal domain.Principal, bundle []byte, opts PublishOptions) (*PublishResult, error) {
	ctx, span := p.tracer.Start(ctx, "publish")
	defer span.End()

	if opts.Method == "" {
		opts.Method = domain.PublishMethodUpload
	}

	raw, err := manifest.ExtractFromBundle(bundle)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if res := p.deps.Validator.Validate(m); !res.Valid {
		return nil, &domain.ValidationError{Errors: res.Errors}
	}
	name, err := domain.ParseName(m.Name)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("package", name.String()),
		attribute.String("version", m.Version),
	)

	// Pre-write gate: refuse before touching the artifact store. These
	// checks race with concurrent publishes; the transaction below
	// re-enforces both under the store's own guarantees.
	existing, err := p.deps.Store.FindPackageByName(ctx, name.String())
	if err != nil && !errors.Is(err, domain.ErrPackageNotFound) {
		return nil, fmt.Errorf("looking up package: %w", err)
	}
	if existing != nil {
		if !existing.Claimable() && !existing.OwnedBy(principal.UserID) {
			return nil, fmt.Errorf("%w: package %s is owned by another user", domain.ErrForbidden, name)
		}
		_, err := p.deps.Store.FindVersion(ctx, existing.ID, m.Version)
		if err == nil {
			return nil, fmt.Errorf("%w: %s@%s", domain.ErrVersionExists, name, m.Version)
		}
		if !errors.Is(err, domain.ErrVersionNotFound) {
			return nil, fmt.Errorf("looking up version: %w", err)
		}
	}

	saved, err := p.deps.Artifacts.Save(ctx, name.String(), m.Version, bundle)
	if err != nil {
		return nil, fmt.Errorf("storing bundle: %w", err)
	}

	// Stage auto-claim outside the transaction: the verification fetch
	// is slow and fallible, but the claim write itself happens inside,
	// under the same compare-and-set as an explicit claim.
	repo := ""
	if m.Repository != "" {
		if r, repoErr := github.NormalizeRepo(m.Repository); repoErr == nil {
			repo = r
		} else {
			log.Debug(log.CatPublish, "Ignoring malformed repository in manifest",
				"package", name.String(), "repository", m.Repository)
		}
	}
	wantClaim := false
	if p.deps.Verifier != nil && repo != "" && principal.HasGitHub() &&
		(existing == nil || existing.Claimable()) {
		if v := p.deps.Verifier.Verify(ctx, name.String(), repo, principal.GitHubUsername); v.Verified {
			wantClaim = true
		} else {
			log.Debug(log.CatPublish, "Auto-claim verification failed",
				"package", name.String(), "repo", repo, "reason", v.Reason)
		}
	}

	now := time.Now()
	var (
		pkg         *domain.Package
		version     *domain.PackageVersion
		artifact    *domain.Artifact
		autoClaimed bool
	)
	txErr := p.deps.Store.WithTx(ctx, func(tx domain.Tx) error {
		// Ownership may have changed since the pre-write gate.
		useExisting := func() error {
			if !pkg.Claimable() && !pkg.OwnedBy(principal.UserID) {
				return fmt.Errorf("%w: package %s is owned by another user", domain.ErrForbidden, name)
			}
			if err := tx.UpdateLatestVersion(pkg.ID, m.Version); err != nil {
				return err
			}
			pkg.LatestVersion = m.Version
			return nil
		}

		var err error
		pkg, err = tx.FindPackageByName(name.String())
		switch {
		case errors.Is(err, domain.ErrPackageNotFound):
			pkg = &domain.Package{
				Name:          name.String(),
				Description:   m.Description,
				License:       m.License,
				IconURL:       m.IconURL,
				Author:        m.Author,
				LatestVersion: m.Version,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if repo != "" {
				pkg.GitHubRepo = &repo
			}
			err := tx.CreatePackage(pkg)
			if errors.Is(err, domain.ErrPackageExists) {
				// A concurrent publish took the name first. Re-read the
				// row we lost to and continue as an existing package.
				if pkg, err = tx.FindPackageByName(name.String()); err != nil {
					return err
				}
				if err := useExisting(); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := useExisting(); err != nil {
				return err
			}
		}

		version = &domain.PackageVersion{
			PackageID:     pkg.ID,
			Version:       m.Version,
			Manifest:      m.Raw,
			PublisherID:   principal.UserID,
			PublishMethod: opts.Method,
			Provenance:    opts.Provenance,
			CreatedAt:     now,
		}
		if err := tx.CreateVersion(version); err != nil {
			return err
		}

		artifact = &domain.Artifact{
			VersionID:   version.ID,
			OS:          domain.PlatformAny,
			Arch:        domain.PlatformAny,
			Digest:      saved.Digest,
			SizeBytes:   saved.SizeBytes,
			StoragePath: saved.Path,
			CreatedAt:   now,
		}
		if err := tx.CreateArtifact(artifact); err != nil {
			return err
		}

		if wantClaim {
			won, err := tx.ClaimPackageIfUnclaimed(pkg.ID, principal.UserID, repo, now)
			if err != nil {
				return err
			}
			autoClaimed = won
		}
		return nil
	})
	if txErr != nil {
		// The bundle is already uploaded; remove it so a failed publish
		// leaves no orphaned artifact behind.
		if delErr := p.deps.Artifacts.Delete(ctx, saved.Path); delErr != nil {
			log.ErrorErr(log.CatPublish, "Compensating delete failed", delErr, "path", saved.Path)
		}
		return nil, txErr
	}

	log.Info(log.CatPublish, "Published version",
		"package", name.String(), "version", m.Version,
		"publisher", principal.UserID, "autoClaimed", autoClaimed)

	statsRepo := repo
	if statsRepo == "" && pkg.GitHubRepo != nil {
		statsRepo = *pkg.GitHubRepo
	}
	refreshStats(p.deps.Pool, p.deps.Store, p.deps.Stats, pkg.ID, statsRepo)

	if p.deps.Scanner != nil && p.deps.Scanner.Enabled() {
		req := certify.TriggerRequest{
			VersionID:   version.ID,
			PackageName: name.String(),
			Version:     m.Version,
			StoragePath: saved.Path,
		}
		err := p.deps.Pool.Submit("scan-trigger", func(jobCtx context.Context) error {
			_, err := p.deps.Scanner.Trigger(jobCtx, req)
			return err
		})
		if err != nil {
			log.Warn(log.CatPublish, "Could not schedule scan trigger",
				"package", name.String(), "error", err.Error())
		}
	}

	url, err := p.deps.Artifacts.SignedURL(saved.Path, time.Now().Add(p.deps.DownloadTTL))
	if err != nil {
		log.ErrorErr(log.CatPublish, "Could not sign download URL", err, "path", saved.Path)
	}
	return &PublishResult{
		Package:     pkg,
		Version:     version,
		Artifact:    artifact,
		URL:         url,
		AutoClaimed: autoClaimed,
	}, nil
}
