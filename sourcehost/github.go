// Package sourcehost implements the source-hosting collaborator against
// the GitHub REST API: branch head resolution, commit author timestamps,
// and the repository reachability probe.
package sourcehost

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

const defaultAPIBaseURL = "https://api.github.com"

// GitHubClient resolves commit metadata through GitHub's REST API. It
// implements interfaces.SourceResolver.
type GitHubClient struct {
	apiBaseURL string
	token      string
	client     *http.Client

	// probeClient never follows redirects: the reachability rule treats
	// any redirect or non-200 response as a hard rejection.
	probeClient *http.Client

	dnsPreflight func(ctx context.Context, host string) error
	log          *slog.Logger
}

// GitHubClientOption configures a GitHubClient.
type GitHubClientOption func(*GitHubClient)

// WithAPIBaseURL overrides the API endpoint, for tests and GitHub
// Enterprise deployments.
func WithAPIBaseURL(base string) GitHubClientOption {
	return func(c *GitHubClient) { c.apiBaseURL = strings.TrimSuffix(base, "/") }
}

// WithToken authenticates API requests. Anonymous access works for public
// repositories but is rate-limited aggressively.
func WithToken(token string) GitHubClientOption {
	return func(c *GitHubClient) { c.token = token }
}

// WithoutDNSPreflight disables the DNS lookup preceding the reachability
// probe, for tests running against local HTTP servers.
func WithoutDNSPreflight() GitHubClientOption {
	return func(c *GitHubClient) {
		c.dnsPreflight = func(context.Context, string) error { return nil }
	}
}

// NewGitHubClient creates a source-hosting client.
func NewGitHubClient(log *slog.Logger, opts ...GitHubClientOption) *GitHubClient {
	c := &GitHubClient{
		apiBaseURL: defaultAPIBaseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		probeClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dnsPreflight: resolveHost,
		log:          log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type branchResponse struct {
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type commitResponse struct {
	Commit struct {
		Author struct {
			Date time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// ResolveBranch returns the current head commit hash of a branch.
func (c *GitHubClient) ResolveBranch(ctx context.Context, repo, branch string) (string, error) {
	owner, name, err := SplitRepoURL(repo)
	if err != nil {
		return "", err
	}

	var resp branchResponse
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, name, url.PathEscape(branch))
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve branch %s: %w", branch, err)
	}

	if err := interfaces.ValidateCommitHash(resp.Commit.SHA); err != nil {
		return "", fmt.Errorf("branch %s resolved to malformed commit: %w", branch, err)
	}

	c.log.Debug("Resolved branch head",
		slog.String("repo", repo),
		slog.String("branch", branch),
		slog.String("commit", resp.Commit.SHA))

	return resp.Commit.SHA, nil
}

// CommitAuthorTime returns the authored timestamp of a commit.
func (c *GitHubClient) CommitAuthorTime(ctx context.Context, repo, commit string) (time.Time, error) {
	owner, name, err := SplitRepoURL(repo)
	if err != nil {
		return time.Time{}, err
	}

	var resp commitResponse
	path := fmt.Sprintf("/repos/%s/%s/commits/%s", owner, name, commit)
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return time.Time{}, fmt.Errorf("failed to look up commit %s: %w", commit, err)
	}

	if resp.Commit.Author.Date.IsZero() {
		return time.Time{}, fmt.Errorf("commit %s has no author timestamp", commit)
	}

	return resp.Commit.Author.Date, nil
}

// Reachable probes the repository URL. The repository host is resolved
// over DNS first, then the URL is fetched without following redirects.
// Only a direct 200 passes; a redirect or any other status is rejected.
func (c *GitHubClient) Reachable(ctx context.Context, repo string) error {
	parsed, err := url.Parse(repo)
	if err != nil {
		return fmt.Errorf("unparseable repository URL: %w", err)
	}

	if err := c.dnsPreflight(ctx, parsed.Hostname()); err != nil {
		return fmt.Errorf("repository host does not resolve: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, repo, nil)
	if err != nil {
		return err
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("repository not reachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("repository answered %d, expected a direct 200", resp.StatusCode)
	}
	return nil
}

func (c *GitHubClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// SplitRepoURL extracts the owner and repository name from a public
// hosting URL.
func SplitRepoURL(repo string) (owner, name string, err error) {
	if err := interfaces.ValidateRepoURL(repo); err != nil {
		return "", "", err
	}

	path := strings.TrimSuffix(strings.TrimPrefix(repo, interfaces.RepoURLPrefix), "/")
	parts := strings.Split(path, "/")
	return parts[0], parts[1], nil
}
