package git

import "context"

// Pattern: Strategy -- swap git hosting platform without
// changing the sync engine.

// PullRequest describes the pull request to open for a
// pushed sync branch.
type PullRequest struct {
	// Title is the pull request title.
	Title string
	// Description is the pull request body.
	Description string
	// SourceBranch holds the pushed changes.
	SourceBranch string
	// TargetBranch is the branch to merge into.
	TargetBranch string
	// CloseOnMerge requests closing the source branch on
	// merge and closing superseded open PRs for the same
	// source branch before creating the new one.
	CloseOnMerge bool
	// Rebase selects a squash/fast-forward merge strategy
	// where the platform distinguishes one.
	Rebase bool
}

// PRRef identifies a pull request created on a hosting
// platform.
type PRRef struct {
	// ID is the platform identifier (number or iid) as a
	// string.
	ID string
	// URL is a browsable link to the pull request.
	URL string
	// Provider names the platform that owns the PR.
	Provider string
}

// Credentials carries the opaque secrets used to talk to a
// hosting platform. Values are never logged and never appear
// in error text.
type Credentials struct {
	// Token is a bearer token or personal access token.
	Token string
	// User is the username for basic-auth platforms.
	User string
	// Secret is the password or secret key for basic-auth
	// platforms.
	Secret string
}

// Provider is the capability set a hosting platform must
// offer to the sync engine. One implementation exists per
// platform; callers never branch on provider identity.
type Provider interface {
	// Name identifies the platform (e.g. "github"). Used
	// as the cache key component.
	Name() string

	// CloneURL returns the authenticated clone URL for
	// the configured repository. The returned URL embeds
	// credentials and must never be logged.
	CloneURL() (string, error)

	// CreatePR opens a pull request. When
	// pr.CloseOnMerge is set, all open PRs for the same
	// source branch are closed first. Failures map to
	// ErrAuth or ErrPRCreation.
	CreatePR(
		ctx context.Context,
		pr PullRequest,
	) (*PRRef, error)

	// ClosePR closes the referenced pull request.
	ClosePR(ctx context.Context, ref *PRRef) error
}
