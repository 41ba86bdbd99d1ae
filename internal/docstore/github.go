package docstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
)

// GitHubConfig locates the document inside a repository.
type GitHubConfig struct {
	Token          string
	Owner          string
	Repo           string
	Path           string
	Branch         string
	BaseURL        string
	CommitterName  string
	CommitterEmail string
	HTTPClient     *http.Client
}

// GitHubStore keeps the document as a file in a GitHub repository.
// The blob sha is the version token; the contents API rejects a stale sha with 409.
type GitHubStore struct {
	client *github.Client
	cfg    GitHubConfig
}

// NewGitHubStore builds a store authenticated with a token.
func NewGitHubStore(cfg GitHubConfig) (*GitHubStore, error) {
	if cfg.Owner == "" || cfg.Repo == "" || cfg.Path == "" {
		return nil, fmt.Errorf("github store needs owner, repo and path")
	}
	client := github.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = u
	}
	return &GitHubStore{client: client, cfg: cfg}, nil
}

func (s *GitHubStore) Name() string { return "github" }

func (s *GitHubStore) Fetch(ctx context.Context) (Snapshot, error) {
	opts := &github.RepositoryContentGetOptions{Ref: s.cfg.Branch}
	file, _, resp, err := s.client.Repositories.GetContents(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("github get contents: %w", err)
	}
	if file == nil {
		return Snapshot{}, fmt.Errorf("github get contents: %s is a directory", s.cfg.Path)
	}

	// Files over 1MB come back without inline content.
	if file.GetEncoding() == "none" {
		body, _, err := s.client.Repositories.DownloadContents(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
		if err != nil {
			return Snapshot{}, fmt.Errorf("github download contents: %w", err)
		}
		defer body.Close()
		content, err := io.ReadAll(body)
		if err != nil {
			return Snapshot{}, fmt.Errorf("github download contents: %w", err)
		}
		return Snapshot{Content: content, Version: file.GetSHA()}, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return Snapshot{}, fmt.Errorf("github decode contents: %w", err)
	}
	return Snapshot{Content: []byte(content), Version: file.GetSHA()}, nil
}

func (s *GitHubStore) Write(ctx context.Context, req WriteRequest) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(req.Message),
		Content: req.Content,
	}
	if s.cfg.Branch != "" {
		opts.Branch = github.String(s.cfg.Branch)
	}
	if req.Version != "" {
		opts.SHA = github.String(req.Version)
	}
	if s.cfg.CommitterName != "" && s.cfg.CommitterEmail != "" {
		opts.Committer = &github.CommitAuthor{
			Name:  github.String(s.cfg.CommitterName),
			Email: github.String(s.cfg.CommitterEmail),
		}
	}

	res, resp, err := s.client.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, s.cfg.Path, opts)
	if err != nil {
		if resp != nil && isGitHubConflict(resp.StatusCode, req.Version) {
			return "", &MismatchError{Expected: req.Version}
		}
		return "", fmt.Errorf("github update file: %w", err)
	}
	if res == nil || res.Content == nil {
		return "", fmt.Errorf("github update file: response carried no content")
	}
	return res.Content.GetSHA(), nil
}

// A stale sha is 409. Creating a file that appeared meanwhile is 422 ("sha wasn't supplied").
func isGitHubConflict(status int, version string) bool {
	if status == http.StatusConflict {
		return true
	}
	return status == http.StatusUnprocessableEntity && version == ""
}
