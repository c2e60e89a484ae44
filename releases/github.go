// Package releases implements the external release-hosting collaborator
// against the GitHub Releases API. A release record makes a published
// build externally visible under its <app>-v<version> tag.
package releases

import (
	"bytes"
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

// GitHubReleases creates release records on a GitHub repository. It
// implements interfaces.ReleaseHost.
type GitHubReleases struct {
	apiBaseURL    string
	uploadBaseURL string
	owner         string
	repo          string
	token         string
	client        *http.Client
	log           *slog.Logger
}

// GitHubReleasesOption configures a GitHubReleases client.
type GitHubReleasesOption func(*GitHubReleases)

// WithBaseURLs overrides the API and upload endpoints, for tests.
func WithBaseURLs(api, upload string) GitHubReleasesOption {
	return func(c *GitHubReleases) {
		c.apiBaseURL = strings.TrimSuffix(api, "/")
		c.uploadBaseURL = strings.TrimSuffix(upload, "/")
	}
}

// NewGitHubReleases creates a release host client for the given
// repository. The token must carry release write permission.
func NewGitHubReleases(owner, repo, token string, log *slog.Logger, opts ...GitHubReleasesOption) *GitHubReleases {
	c := &GitHubReleases{
		apiBaseURL:    defaultAPIBaseURL,
		uploadBaseURL: "https://uploads.github.com",
		owner:         owner,
		repo:          repo,
		token:         token,
		client:        &http.Client{Timeout: 5 * time.Minute},
		log:           log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createReleaseRequest struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Body    string `json:"body"`
}

type createReleaseResponse struct {
	ID int64 `json:"id"`
}

// CreateRelease publishes a release under the given tag and attaches the
// given files as assets. Creating a tag that already exists is an error;
// the publisher checks existence and content identity first.
func (c *GitHubReleases) CreateRelease(ctx context.Context, tag string, files []interfaces.ReleaseFile) error {
	payload, err := json.Marshal(createReleaseRequest{
		TagName: tag,
		Name:    tag,
		Body:    fmt.Sprintf("Enclave build release %s", tag),
	})
	if err != nil {
		return err
	}

	path := fmt.Sprintf("%s/repos/%s/%s/releases", c.apiBaseURL, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var release createReleaseResponse
	if err := c.do(req, &release); err != nil {
		return fmt.Errorf("failed to create release %s: %w", tag, err)
	}

	for _, file := range files {
		if err := c.uploadAsset(ctx, release.ID, file); err != nil {
			return fmt.Errorf("failed to upload asset %s to release %s: %w", file.Name, tag, err)
		}
	}

	c.log.Info("Created release",
		slog.String("tag", tag),
		slog.Int("assets", len(files)))

	return nil
}

// ReleaseExists reports whether a release tag is already published.
func (c *GitHubReleases) ReleaseExists(ctx context.Context, tag string) (bool, error) {
	path := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.apiBaseURL, c.owner, c.repo, url.PathEscape(tag))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}

	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("release lookup for %s returned %d", tag, resp.StatusCode)
	}
}

func (c *GitHubReleases) uploadAsset(ctx context.Context, releaseID int64, file interfaces.ReleaseFile) error {
	path := fmt.Sprintf("%s/repos/%s/%s/releases/%d/assets?name=%s",
		c.uploadBaseURL, c.owner, c.repo, releaseID, url.QueryEscape(file.Name))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(file.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	return c.do(req, nil)
}

func (c *GitHubReleases) do(req *http.Request, out any) error {
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *GitHubReleases) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
