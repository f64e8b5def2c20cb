package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		WithBaseURLs(srv.URL, srv.URL),
		WithHTTPClient(srv.Client()),
	)
}

func TestNormalizeRepo(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice/tool", "alice/tool"},
		{"https://github.com/alice/tool", "alice/tool"},
		{"https://github.com/alice/tool.git", "alice/tool"},
		{"http://github.com/alice/tool/", "alice/tool"},
		{"github.com/alice/tool", "alice/tool"},
		{"git+https://github.com/alice/tool.git", "alice/tool"},
	}
	for _, tt := range tests {
		got, err := NormalizeRepo(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		require.Equal(t, tt.want, got)
	}

	for _, in := range []string{"", "alice", "https://gitlab.com/alice/tool", "a/b/c", "alice / tool"} {
		_, err := NormalizeRepo(in)
		require.ErrorIs(t, err, ErrInvalidRepo, "input %q", in)
	}
}

func TestVerify_Success(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/alice/tool/HEAD/mpak.json", r.URL.Path)
		w.Write([]byte(`{"name":"@alice/tool","maintainers":["bob","alice"]}`))
	}))

	v := NewOwnershipVerifier(client).Verify(context.Background(), "@alice/tool", "alice/tool", "alice")
	require.True(t, v.Verified)
	require.Empty(t, v.Reason)
	require.Contains(t, v.FileURL, "/alice/tool/HEAD/mpak.json")
}

func TestVerify_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		username string
		contains string
	}{
		{
			name:     "file missing",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) },
			username: "alice",
			contains: "not found",
		},
		{
			name:     "invalid json",
			handler:  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) },
			username: "alice",
			contains: "not valid JSON",
		},
		{
			name: "name mismatch",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"name":"@alice/other","maintainers":["alice"]}`))
			},
			username: "alice",
			contains: "declares name",
		},
		{
			name: "not a maintainer",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"name":"@alice/tool","maintainers":["bob"]}`))
			},
			username: "alice",
			contains: "not listed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, tt.handler)
			v := NewOwnershipVerifier(client).Verify(context.Background(), "@alice/tool", "alice/tool", tt.username)
			require.False(t, v.Verified)
			require.Contains(t, v.Reason, tt.contains)
		})
	}
}

func TestStatsClient_FetchAndCache(t *testing.T) {
	var hits atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/repos/alice/tool", r.URL.Path)
		w.Write([]byte(`{"stargazers_count":120,"forks_count":14,"subscribers_count":9}`))
	}))

	stats := NewStatsClient(client, time.Minute)
	got, err := stats.Fetch(context.Background(), "alice/tool")
	require.NoError(t, err)
	require.Equal(t, &RepoStats{Stars: 120, Forks: 14, Watchers: 9}, got)

	// Second read inside the TTL is served from cache.
	got, err = stats.Fetch(context.Background(), "alice/tool")
	require.NoError(t, err)
	require.Equal(t, 120, got.Stars)
	require.Equal(t, int64(1), hits.Load())
}

func TestStatsClient_SendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"stargazers_count":1}`))
	}))
	t.Cleanup(srv.Close)
	client := NewClient(
		WithBaseURLs(srv.URL, srv.URL),
		WithHTTPClient(srv.Client()),
		WithToken("tok"),
	)

	_, err := NewStatsClient(client, time.Minute).Fetch(context.Background(), "alice/tool")
	require.NoError(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"stargazers_count":7}`))
	}))

	got, err := NewStatsClient(client, time.Minute).Fetch(context.Background(), "alice/tool")
	require.NoError(t, err)
	require.Equal(t, 7, got.Stars)
	require.Equal(t, int64(3), hits.Load())
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.get(context.Background(), client.apiBase+"/repos/a/b", true)
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int64(1), hits.Load())
}
