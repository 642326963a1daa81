// Package git provides working-copy operations for a sync
// pass and a strategy interface for git hosting platforms.
//
// Repo wraps a transient local clone with methods for
// branching, applying a changeset, committing, pushing with
// a single re-fetch retry, and rolling back. Clone creates a
// Repo from a remote URL with optional cone-mode sparse
// checkout.
//
// The Provider interface abstracts clone URL construction
// and pull request lifecycle. Implementations exist for
// GitHub, GitLab, Bitbucket, AWS CodeCommit, and Azure
// DevOps in sub-packages. The error taxonomy in errors.go is
// the only contract callers branch on.
package git
