package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	gh "github.com/google/go-github/v68/github"
	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/gitmirror/mirror/git"
)

const providerName = "github"

// Config holds the settings needed to create a GitHub
// provider.
type Config struct {
	// RepoOwner is the GitHub user or organisation that
	// owns the repository.
	RepoOwner string
	// Repo is the repository name (without owner).
	Repo string
	// Credentials carries the personal access token or
	// GitHub App token used for authentication.
	Credentials git.Credentials
	// EnterpriseHost is an optional GitHub Enterprise
	// hostname (e.g. "git.corp.example.com"). Leave empty
	// for github.com.
	EnterpriseHost string
}

// Provider mirrors to GitHub repositories.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client    *gh.Client
	repoOwner string
	repo      string
	token     string
	host      string
}

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating github provider"

	if cfg.RepoOwner == "" {
		return nil, fmt.Errorf(
			"%s: repo owner must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	if cfg.Credentials.Token == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	client := gh.NewClient(nil).
		WithAuthToken(cfg.Credentials.Token)

	host := "github.com"

	if cfg.EnterpriseHost != "" {
		host = cfg.EnterpriseHost

		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		client, err = client.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w", errCtx, err,
			)
		}
	}

	return &Provider{
		client:    client,
		repoOwner: cfg.RepoOwner,
		repo:      cfg.Repo,
		token:     cfg.Credentials.Token,
		host:      host,
	}, nil
}

// Name identifies the platform.
func (p *Provider) Name() string { return providerName }

// CloneURL returns the token-in-URL HTTPS clone URL.
func (p *Provider) CloneURL() (string, error) {
	tpl := fasttemplate.New(
		"https://x-access-token:{{token}}@{{host}}/"+
			"{{owner}}/{{repo}}.git",
		"{{", "}}",
	)

	return tpl.ExecuteString(map[string]any{
		"token": p.token,
		"host":  p.host,
		"owner": p.repoOwner,
		"repo":  p.repo,
	}), nil
}

// CreatePR creates a pull request. With CloseOnMerge set,
// every open PR for the same source branch is closed first.
// An HTTP 422 for an already existing PR resolves to that
// PR instead of an error.
func (p *Provider) CreatePR(
	ctx context.Context,
	pr git.PullRequest,
) (*git.PRRef, error) {
	const errCtx = "creating github pull request"

	if pr.CloseOnMerge {
		if err := p.closeSuperseded(
			ctx, pr.SourceBranch,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	req := &gh.NewPullRequest{
		Title:               gh.String(pr.Title),
		Head:                gh.String(pr.SourceBranch),
		Base:                gh.String(pr.TargetBranch),
		Body:                gh.String(pr.Description),
		MaintainerCanModify: gh.Bool(true),
	}

	created, resp, err := p.client.PullRequests.Create(
		ctx, p.repoOwner, p.repo, req,
	)
	if err == nil {
		slog.Info(
			"created pull request",
			"url", created.GetHTMLURL(),
		)

		return p.ref(created), nil
	}

	if isAuthStatus(resp) {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrAuth,
		)
	}

	// HTTP 422: a PR may already exist for this
	// head/base pair. Reuse it when found.
	if resp != nil &&
		resp.StatusCode ==
			http.StatusUnprocessableEntity {
		existing, findErr := p.findOpen(
			ctx, pr.SourceBranch,
		)
		if findErr == nil && existing != nil {
			slog.Info(
				"reusing existing pull request",
				"url", existing.GetHTMLURL(),
			)

			return p.ref(existing), nil
		}
	}

	return nil, fmt.Errorf(
		"%s: %w: %w", errCtx, git.ErrPRCreation, err,
	)
}

// ClosePR closes the referenced pull request.
func (p *Provider) ClosePR(
	ctx context.Context,
	ref *git.PRRef,
) error {
	const errCtx = "closing github pull request"

	number, err := strconv.Atoi(ref.ID)
	if err != nil {
		return fmt.Errorf(
			"%s: bad pr id %q: %w", errCtx, ref.ID, err,
		)
	}

	_, resp, err := p.client.PullRequests.Edit(
		ctx, p.repoOwner, p.repo, number,
		&gh.PullRequest{State: gh.String("closed")},
	)
	if err != nil {
		if isAuthStatus(resp) {
			return fmt.Errorf(
				"%s: %w", errCtx, git.ErrAuth,
			)
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// closeSuperseded closes all open PRs from branch ("close
// all, create one").
func (p *Provider) closeSuperseded(
	ctx context.Context,
	branch string,
) error {
	open, err := p.listOpen(ctx, branch)
	if err != nil {
		return err
	}

	for _, stale := range open {
		slog.Info(
			"closing superseded pull request",
			"number", stale.GetNumber(),
		)

		if err := p.ClosePR(ctx, p.ref(stale)); err != nil {
			return err
		}
	}

	return nil
}

// listOpen returns all open PRs whose head is branch.
func (p *Provider) listOpen(
	ctx context.Context,
	branch string,
) ([]*gh.PullRequest, error) {
	prs, resp, err := p.client.PullRequests.List(
		ctx, p.repoOwner, p.repo,
		&gh.PullRequestListOptions{
			State: "open",
			Head:  p.repoOwner + ":" + branch,
		},
	)
	if err != nil {
		if isAuthStatus(resp) {
			return nil, git.ErrAuth
		}

		return nil, err
	}

	return prs, nil
}

// findOpen returns the first open PR from branch, or nil.
func (p *Provider) findOpen(
	ctx context.Context,
	branch string,
) (*gh.PullRequest, error) {
	prs, err := p.listOpen(ctx, branch)
	if err != nil || len(prs) == 0 {
		return nil, err
	}

	return prs[0], nil
}

func (p *Provider) ref(pr *gh.PullRequest) *git.PRRef {
	return &git.PRRef{
		ID:       strconv.Itoa(pr.GetNumber()),
		URL:      pr.GetHTMLURL(),
		Provider: providerName,
	}
}

func isAuthStatus(resp *gh.Response) bool {
	return resp != nil &&
		(resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden)
}
