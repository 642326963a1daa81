package azuredevops

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/gitmirror/mirror/git"
)

const (
	providerName = "azuredevops"
	apiVersion   = "7.0"
)

// Config holds the settings needed to create an Azure
// DevOps provider.
type Config struct {
	// Repo is the full repository path
	// "organization/project/repo".
	Repo string
	// Credentials carries the personal access token.
	Credentials git.Credentials
	// APIBaseURL overrides the repository API base URL.
	// Leave empty to derive it from Repo on
	// dev.azure.com.
	APIBaseURL string
}

// Provider mirrors to Azure DevOps repositories.
//
// Pattern: Strategy -- implements git.Provider.
type Provider struct {
	baseURL      string
	organization string
	project      string
	repo         string
	token        string
	client       *http.Client
}

type completionOptions struct {
	DeleteSourceBranch bool `json:"deleteSourceBranch"`
	SquashMerge        bool `json:"squashMerge"`
}

type pullrequest struct {
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	SourceRefName     string            `json:"sourceRefName"`
	TargetRefName     string            `json:"targetRefName"`
	CompletionOptions completionOptions `json:"completionOptions"`
}

type pullrequestUpdate struct {
	Status string `json:"status"`
}

type pullrequestResponse struct {
	PullRequestID int    `json:"pullRequestId"`
	URL           string `json:"url,omitempty"`
}

type pullrequestList struct {
	Value []pullrequestResponse `json:"value"`
	Count int                   `json:"count"`
}

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	const errCtx = "creating azure devops provider"

	parts := strings.Split(cfg.Repo, "/")
	if len(parts) != 3 || parts[0] == "" ||
		parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf(
			"%s: repo must be "+
				"\"organization/project/repo\"",
			errCtx,
		)
	}

	if cfg.Credentials.Token == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf(
			"https://dev.azure.com/%s/%s/_apis/git"+
				"/repositories/%s",
			parts[0], parts[1], parts[2],
		)
	}

	return &Provider{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		organization: parts[0],
		project:      parts[1],
		repo:         parts[2],
		token:        cfg.Credentials.Token,
		client:       http.DefaultClient,
	}, nil
}

// Name identifies the platform.
func (p *Provider) Name() string { return providerName }

// CloneURL returns the PAT-in-URL HTTPS clone URL.
func (p *Provider) CloneURL() (string, error) {
	tpl := fasttemplate.New(
		"https://{{token}}@dev.azure.com/{{org}}/"+
			"{{project}}/_git/{{repo}}",
		"{{", "}}",
	)

	return tpl.ExecuteString(map[string]any{
		"token":   p.token,
		"org":     p.organization,
		"project": p.project,
		"repo":    p.repo,
	}), nil
}

// CreatePR creates a pull request. With CloseOnMerge set,
// every active PR for the same source branch is abandoned
// first, and the new PR deletes its source branch on
// completion. Rebase maps to squash merge.
func (p *Provider) CreatePR(
	ctx context.Context,
	pr git.PullRequest,
) (*git.PRRef, error) {
	const errCtx = "creating azure devops pull request"

	if pr.CloseOnMerge {
		if err := p.closeSuperseded(
			ctx, pr.SourceBranch,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}
	}

	payload := pullrequest{
		Title:         pr.Title,
		Description:   pr.Description,
		SourceRefName: "refs/heads/" + pr.SourceBranch,
		TargetRefName: "refs/heads/" + pr.TargetBranch,
		CompletionOptions: completionOptions{
			DeleteSourceBranch: pr.CloseOnMerge,
			SquashMerge:        pr.Rebase,
		},
	}

	var created pullrequestResponse

	status, err := p.do(
		ctx,
		http.MethodPost,
		p.endpoint("", nil),
		&payload,
		&created,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		slog.Info(
			"created pull request",
			"id", created.PullRequestID,
		)

		return &git.PRRef{
			ID: strconv.Itoa(
				created.PullRequestID,
			),
			URL:      created.URL,
			Provider: providerName,
		}, nil

	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNonAuthoritativeInfo:
		// Azure answers 203 with a sign-in page when the
		// PAT is rejected.
		return nil, fmt.Errorf(
			"%s: %w", errCtx, git.ErrAuth,
		)

	default:
		return nil, fmt.Errorf(
			"%s: %w: unexpected status %d",
			errCtx, git.ErrPRCreation, status,
		)
	}
}

// ClosePR abandons the referenced pull request.
func (p *Provider) ClosePR(
	ctx context.Context,
	ref *git.PRRef,
) error {
	const errCtx = "abandoning azure devops pull request"

	status, err := p.do(
		ctx,
		http.MethodPatch,
		p.endpoint("/"+ref.ID, nil),
		&pullrequestUpdate{Status: "abandoned"},
		nil,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	switch status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf(
			"%s: %w", errCtx, git.ErrAuth,
		)
	default:
		return fmt.Errorf(
			"%s: unexpected status %d", errCtx, status,
		)
	}
}

// closeSuperseded abandons all active PRs from branch
// ("close all, create one").
func (p *Provider) closeSuperseded(
	ctx context.Context,
	branch string,
) error {
	query := url.Values{
		"searchCriteria.sourceRefName": []string{
			"refs/heads/" + branch,
		},
		"searchCriteria.status": []string{"active"},
	}

	var list pullrequestList

	status, err := p.do(
		ctx,
		http.MethodGet,
		p.endpoint("", query),
		nil,
		&list,
	)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized ||
		status == http.StatusForbidden {
		return git.ErrAuth
	}

	if status != http.StatusOK {
		return fmt.Errorf(
			"listing active pull requests: "+
				"unexpected status %d",
			status,
		)
	}

	for _, stale := range list.Value {
		slog.Info(
			"abandoning superseded pull request",
			"id", stale.PullRequestID,
		)

		if err := p.ClosePR(ctx, &git.PRRef{
			ID: strconv.Itoa(
				stale.PullRequestID,
			),
			Provider: providerName,
		}); err != nil {
			return err
		}
	}

	return nil
}

// endpoint builds a pullrequests API URL with the api
// version and optional extra query parameters.
func (p *Provider) endpoint(
	suffix string,
	extra url.Values,
) string {
	query := url.Values{
		"api-version": []string{apiVersion},
	}

	for k, vs := range extra {
		query[k] = vs
	}

	return p.baseURL + "/pullrequests" + suffix +
		"?" + query.Encode()
}

// do sends an authenticated JSON request and decodes the
// response body into out when out is non-nil.
func (p *Provider) do(
	ctx context.Context,
	method string,
	endpoint string,
	payload any,
	out any,
) (int, error) {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf(
				"marshal request: %w", err,
			)
		}

		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, endpoint, body,
	)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)
	req.SetBasicAuth("", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf(
			"read response: %w", err,
		)
	}

	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(rb, out); err != nil {
			return resp.StatusCode, fmt.Errorf(
				"parse response: %w", err,
			)
		}
	}

	return resp.StatusCode, nil
}
