package sourcehost

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testCommit = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

func TestResolveBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/example/demo/branches/main", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"commit": {"sha": "` + testCommit + `"}}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(testLogger(), WithAPIBaseURL(srv.URL), WithToken("test-token"))
	sha, err := client.ResolveBranch(context.Background(), "https://github.com/example/demo", "main")
	require.NoError(t, err)
	assert.Equal(t, testCommit, sha)
}

func TestResolveBranchRejectsMalformedHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"commit": {"sha": "short"}}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(testLogger(), WithAPIBaseURL(srv.URL))
	_, err := client.ResolveBranch(context.Background(), "https://github.com/example/demo", "main")
	assert.Error(t, err)
}

func TestResolveBranchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Branch not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewGitHubClient(testLogger(), WithAPIBaseURL(srv.URL))
	_, err := client.ResolveBranch(context.Background(), "https://github.com/example/demo", "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestCommitAuthorTime(t *testing.T) {
	authored := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/example/demo/commits/"+testCommit, r.URL.Path)
		w.Write([]byte(`{"commit": {"author": {"date": "2023-11-14T22:13:20Z"}}}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(testLogger(), WithAPIBaseURL(srv.URL))
	got, err := client.CommitAuthorTime(context.Background(), "https://github.com/example/demo", testCommit)
	require.NoError(t, err)
	assert.True(t, authored.Equal(got))
}

func TestCommitAuthorTimeMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"commit": {"author": {}}}`))
	}))
	defer srv.Close()

	client := NewGitHubClient(testLogger(), WithAPIBaseURL(srv.URL))
	_, err := client.CommitAuthorTime(context.Background(), "https://github.com/example/demo", testCommit)
	assert.Error(t, err)
}

func TestReachable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "direct 200", status: http.StatusOK},
		{name: "redirect is a hard rejection", status: http.StatusMovedPermanently, wantErr: true},
		{name: "temporary redirect rejected", status: http.StatusFound, wantErr: true},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.status == http.StatusMovedPermanently || tt.status == http.StatusFound {
					w.Header().Set("Location", "https://elsewhere.example.com/")
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := NewGitHubClient(testLogger(), WithoutDNSPreflight())
			err := client.Reachable(context.Background(), srv.URL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReachableConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewGitHubClient(testLogger(), WithoutDNSPreflight())
	assert.Error(t, client.Reachable(context.Background(), url))
}

func TestSplitRepoURL(t *testing.T) {
	owner, name, err := SplitRepoURL("https://github.com/example/demo")
	require.NoError(t, err)
	assert.Equal(t, "example", owner)
	assert.Equal(t, "demo", name)

	_, _, err = SplitRepoURL("https://gitlab.com/example/demo")
	assert.Error(t, err)
}
