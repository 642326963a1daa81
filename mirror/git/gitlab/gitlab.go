package gitlab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fasttemplate"
	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/gitmirror/mirror/git"
)

const providerName = "gitlab"

// Config holds the settings needed to create a GitLab
// provider.
type Config struct {
	// Host is the base URL of the GitLab instance
	// (e.g. "https://gitlab.com").
	Host string
	// Repo is the full project path
	// (e.g. "org/project").
	Repo string
	// Credentials carries the personal or project access
	// token used for authentication.
	Credentials git.Credentials
}

// Provider mirrors to GitLab projects. Pull requests are
// GitLab merge requests.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	client *gl.Client
	repo   string
	token  string
	host   string
}

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating gitlab provider"

	if cfg.Credentials.Token == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	if cfg.Repo == "" {
		return nil, fmt.Errorf(
			"%s: repo must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	client, err := gl.NewClient(
		cfg.Credentials.Token,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Provider{
		client: client,
		repo:   cfg.Repo,
		token:  cfg.Credentials.Token,
		host:   host,
	}, nil
}

// Name identifies the platform.
func (p *Provider) Name() string { return providerName }

// CloneURL returns the oauth2 token-in-URL HTTPS clone URL.
func (p *Provider) CloneURL() (string, error) {
	tpl := fasttemplate.New(
		"https://oauth2:{{token}}@{{host}}/{{repo}}.git",
		"{{", "}}",
	)

	return tpl.ExecuteString(map[string]any{
		"token": p.token,
		"host": strings.TrimPrefix(
			strings.TrimPrefix(p.host, "https://"),
			"http://",
		),
		"repo": p.repo,
	}), nil
}

// CreatePR creates a merge request. With CloseOnMerge set,
// every open MR for the same source branch is closed first,
// and the MR is flagged to remove its source branch on
// merge. Rebase maps to the squash option. An HTTP 409 for
// an already existing MR resolves to that MR instead of an
// error.
func (p *Provider) CreatePR(
	ctx context.Context,
	pr git.PullRequest,
) (*git.PRRef, error) {
	const errCtx = "creating gitlab merge request"

	if pr.CloseOnMerge {
		if err := p.closeSuperseded(
			ctx, pr.SourceBranch,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	opts := gl.CreateMergeRequestOptions{
		Title:              gl.Ptr(pr.Title),
		Description:        gl.Ptr(pr.Description),
		SourceBranch:       gl.Ptr(pr.SourceBranch),
		TargetBranch:       gl.Ptr(pr.TargetBranch),
		RemoveSourceBranch: gl.Ptr(pr.CloseOnMerge),
		Squash:             gl.Ptr(pr.Rebase),
	}

	created, resp, err := p.client.MergeRequests.CreateMergeRequest(
		p.repo, &opts, gl.WithContext(ctx),
	)
	if err == nil {
		slog.Info(
			"created merge request",
			"url", created.WebURL,
		)

		return &git.PRRef{
			ID:       strconv.Itoa(int(created.IID)),
			URL:      created.WebURL,
			Provider: providerName,
		}, nil
	}

	if isAuthStatus(resp) {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrAuth,
		)
	}

	// HTTP 409: an MR already exists for this source
	// branch. Reuse it when found.
	if resp != nil &&
		resp.StatusCode == http.StatusConflict {
		existing, findErr := p.findOpen(
			ctx, pr.SourceBranch,
		)
		if findErr == nil && existing != nil {
			slog.Info(
				"reusing existing merge request",
				"url", existing.WebURL,
			)

			return &git.PRRef{
				ID:       strconv.Itoa(int(existing.IID)),
				URL:      existing.WebURL,
				Provider: providerName,
			}, nil
		}
	}

	return nil, fmt.Errorf(
		"%s: %w: %w", errCtx, git.ErrPRCreation, err,
	)
}

// ClosePR closes the referenced merge request.
func (p *Provider) ClosePR(
	ctx context.Context,
	ref *git.PRRef,
) error {
	const errCtx = "closing gitlab merge request"

	iid, err := strconv.Atoi(ref.ID)
	if err != nil {
		return fmt.Errorf(
			"%s: bad mr id %q: %w", errCtx, ref.ID, err,
		)
	}

	_, resp, err := p.client.MergeRequests.UpdateMergeRequest(
		p.repo, int64(iid),
		&gl.UpdateMergeRequestOptions{
			StateEvent: gl.Ptr("close"),
		},
		gl.WithContext(ctx),
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

// closeSuperseded closes all open MRs from branch ("close
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
			"closing superseded merge request",
			"iid", stale.IID,
		)

		if err := p.ClosePR(ctx, &git.PRRef{
			ID:       strconv.Itoa(int(stale.IID)),
			Provider: providerName,
		}); err != nil {
			return err
		}
	}

	return nil
}

// listOpen returns all opened MRs whose source is branch.
func (p *Provider) listOpen(
	ctx context.Context,
	branch string,
) ([]*gl.BasicMergeRequest, error) {
	mrs, resp, err := p.client.MergeRequests.ListProjectMergeRequests(
		p.repo,
		&gl.ListProjectMergeRequestsOptions{
			SourceBranch: gl.Ptr(branch),
			State:        gl.Ptr("opened"),
		},
		gl.WithContext(ctx),
	)
	if err != nil {
		if isAuthStatus(resp) {
			return nil, git.ErrAuth
		}

		return nil, err
	}

	return mrs, nil
}

// findOpen returns the first opened MR from branch, or nil.
func (p *Provider) findOpen(
	ctx context.Context,
	branch string,
) (*gl.BasicMergeRequest, error) {
	mrs, err := p.listOpen(ctx, branch)
	if err != nil || len(mrs) == 0 {
		return nil, err
	}

	return mrs[0], nil
}

func isAuthStatus(resp *gl.Response) bool {
	return resp != nil &&
		(resp.StatusCode == http.StatusUnauthorized ||
			resp.StatusCode == http.StatusForbidden)
}
