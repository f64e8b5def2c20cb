package github

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RepoStats is the subset of repository metadata the registry caches on
// packages.
type RepoStats struct {
	Stars    int
	Forks    int
	Watchers int
}

// StatsClient fetches repository statistics with an in-process TTL
// cache, so best-effort refreshes after publish and claim do not hammer
// the API for popular packages.
type StatsClient struct {
	client *Client
	cache  *gocache.Cache
}

func NewStatsClient(client *Client, ttl time.Duration) *StatsClient {
	return &StatsClient{
		client: client,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

type repoResponse struct {
	StargazersCount  int `json:"stargazers_count"`
	ForksCount       int `json:"forks_count"`
	SubscribersCount int `json:"subscribers_count"`
}

// Fetch returns stats for owner/repo, from cache when fresh.
func (s *StatsClient) Fetch(ctx context.Context, repo string) (*RepoStats, error) {
	if cached, ok := s.cache.Get(repo); ok {
		stats := cached.(RepoStats)
		return &stats, nil
	}

	body, err := s.client.get(ctx, fmt.Sprintf("%s/repos/%s", s.client.apiBase, repo), true)
	if err != nil {
		return nil, fmt.Errorf("fetching repo stats for %s: %w", repo, err)
	}
	var resp repoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing repo stats for %s: %w", repo, err)
	}

	stats := RepoStats{
		Stars:    resp.StargazersCount,
		Forks:    resp.ForksCount,
		Watchers: resp.SubscribersCount,
	}
	s.cache.Set(repo, stats, gocache.DefaultExpiration)
	return &stats, nil
}
