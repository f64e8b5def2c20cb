package application

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpak-dev/mpak-registry/internal/github"
	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
)

// Claimer commits explicit ownership claims. It shares the verification
// predicate and the claim-iff-unclaimed write with the publish path's
// auto-claim, so two racing claimants can never both win.
type Claimer struct {
	store    domain.Store
	verifier OwnershipVerifier
	stats    StatsFetcher
	pool     *tasks.Pool
	tracer   trace.Tracer
}

func NewClaimer(store domain.Store, verifier OwnershipVerifier, stats StatsFetcher, pool *tasks.Pool) *Claimer {
	return &Claimer{
		store:    store,
		verifier: verifier,
		stats:    stats,
		pool:     pool,
		tracer:   otel.Tracer("registry/application"),
	}
}

// Claim verifies repository-attested ownership and, on success, sets
// the package's owner. repoOverride, when non-empty, takes precedence
// over the repository recorded on the package.
func (c *Claimer) Claim(ctx context.Context, principal domain.Principal, packageName, repoOverride string) (*domain.Package, error) {
	ctx, span := c.tracer.Start(ctx, "claim")
	defer span.End()
	span.SetAttributes(attribute.String("package", packageName))

	pkg, err := c.store.FindPackageByName(ctx, packageName)
	if err != nil {
		return nil, err
	}
	if !pkg.Claimable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyClaimed, packageName)
	}

	ref := repoOverride
	if ref == "" && pkg.GitHubRepo != nil {
		ref = *pkg.GitHubRepo
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: no github repository on file for %s and none provided",
			domain.ErrBadRequest, packageName)
	}
	repo, err := github.NormalizeRepo(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	if !principal.HasGitHub() {
		return nil, fmt.Errorf("%w: claiming requires a linked github account", domain.ErrBadRequest)
	}

	v := c.verifier.Verify(ctx, packageName, repo, principal.GitHubUsername)
	if !v.Verified {
		return nil, &domain.ClaimDeniedError{
			Reason: v.Reason,
			Remediation: fmt.Sprintf(
				"add a mpak.json file at the root of %s containing {\"name\": %q, \"maintainers\": [%q]} (checked %s)",
				repo, packageName, principal.GitHubUsername, v.FileURL),
		}
	}

	now := time.Now()
	var won bool
	err = c.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		won, err = tx.ClaimPackageIfUnclaimed(pkg.ID, principal.UserID, repo, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	if !won {
		// Someone else claimed between our read and the write.
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyClaimed, packageName)
	}

	log.Info(log.CatClaim, "Package claimed",
		"package", packageName, "user", principal.UserID, "repo", repo)
	refreshStats(c.pool, c.store, c.stats, pkg.ID, repo)

	claimed, err := c.store.FindPackageByName(ctx, packageName)
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
