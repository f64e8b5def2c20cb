// Package application implements the registry's orchestration services:
// publishing, claiming, and download resolution. Services coordinate the
// domain store, artifact storage, and external collaborators; all
// cross-row consistency lives in store transactions.
package application

import (
	"context"
	"time"

	"github.com/mpak-dev/mpak-registry/internal/certify"
	"github.com/mpak-dev/mpak-registry/internal/github"
	"github.com/mpak-dev/mpak-registry/internal/log"
	"github.com/mpak-dev/mpak-registry/internal/registry/domain"
	"github.com/mpak-dev/mpak-registry/internal/tasks"
)

// DefaultDownloadTTL is how long signed download URLs stay valid.
const DefaultDownloadTTL = 15 * time.Minute

// OwnershipVerifier checks that a GitHub repository attests ownership of
// a package name for a user.
type OwnershipVerifier interface {
	Verify(ctx context.Context, packageName, repo, username string) *github.Verification
}

// StatsFetcher retrieves repository statistics.
type StatsFetcher interface {
	Fetch(ctx context.Context, repo string) (*github.RepoStats, error)
}

// Scanner triggers certification scans.
type Scanner interface {
	Enabled() bool
	Trigger(ctx context.Context, req certify.TriggerRequest) (*domain.SecurityScan, error)
}

// refreshStats schedules a best-effort GitHub stats refresh for a
// package. Shared by publish and claim; failures are logged only.
func refreshStats(pool *tasks.Pool, store domain.Store, stats StatsFetcher, packageID int64, repo string) {
	if stats == nil || repo == "" {
		return
	}
	err := pool.Submit("stats-refresh", func(ctx context.Context) error {
		rs, err := stats.Fetch(ctx, repo)
		if err != nil {
			return err
		}
		return store.WithTx(ctx, func(tx domain.Tx) error {
			return tx.UpdatePackageStats(packageID, rs.Stars, rs.Forks, rs.Watchers, time.Now())
		})
	})
	if err != nil {
		log.Warn(log.CatTasks, "Could not schedule stats refresh", "repo", repo, "error", err.Error())
	}
}
