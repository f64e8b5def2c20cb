package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/storage"
)

// LatestVersion selects a package's latest published version.
const LatestVersion = "latest"

// DownloadResolver picks the artifact for a platform and accounts the
// download.
type DownloadResolver struct {
	store     domain.Store
	artifacts storage.ArtifactStore
	urlTTL    time.Duration
	tracer    trace.Tracer
}

func NewDownloadResolver(store domain.Store, artifacts storage.ArtifactStore, urlTTL time.Duration) *DownloadResolver {
	if urlTTL <= 0 {
		urlTTL = DefaultDownloadTTL
	}
	return &DownloadResolver{
		store:     store,
		artifacts: artifacts,
		urlTTL:    urlTTL,
		tracer:    otel.Tracer("registry/application"),
	}
}

// Download is a resolved artifact plus its signed URL.
type Download struct {
	Package   *domain.Package
	Version   *domain.PackageVersion
	Artifact  *domain.Artifact
	URL       string
	ExpiresAt time.Time
}

// Resolve finds the artifact for (name, version, os, arch), increments
// the three download counters atomically, and signs a URL for it.
//
// Selection order: exact (os, arch) match, then the universal artifact,
// then the first available one. version may be "latest".
func (r *DownloadResolver) Resolve(ctx context.Context, name, version, osName, arch string) (*Download, error) {
	ctx, span := r.tracer.Start(ctx, "download")
	defer span.End()
	span.SetAttributes(
		attribute.String("package", name),
		attribute.String("version", version),
	)

	pkg, err := r.store.FindPackageByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if version == "" || version == LatestVersion {
		version = pkg.LatestVersion
	}
	v, err := r.store.FindVersion(ctx, pkg.ID, version)
	if err != nil {
		return nil, err
	}
	artifacts, err := r.store.FindArtifacts(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: %s@%s has no artifacts", domain.ErrArtifactNotFound, name, version)
	}

	artifact := selectArtifact(artifacts, osName, arch)

	err = r.store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.IncrementDownloadCounters(pkg.ID, v.ID, artifact.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("counting download: %w", err)
	}

	expiresAt := time.Now().Add(r.urlTTL)
	url, err := r.artifacts.SignedURL(artifact.StoragePath, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("signing download url: %w", err)
	}

	log.Debug(log.CatStore, "Resolved download",
		"package", name, "version", version,
		"os", artifact.OS, "arch", artifact.Arch)
	return &Download{
		Package:   pkg,
		Version:   v,
		Artifact:  artifact,
		URL:       url,
		ExpiresAt: expiresAt,
	}, nil
}

func selectArtifact(artifacts []*domain.Artifact, osName, arch string) *domain.Artifact {
	for _, a := range artifacts {
		if a.OS == osName && a.Arch == arch {
			return a
		}
	}
	for _, a := range artifacts {
		if a.Universal() {
			return a
		}
	}
	return artifacts[0]
}
