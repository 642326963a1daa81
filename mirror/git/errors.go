package git

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by the working-copy operations and
// the hosting providers. Callers branch with errors.Is and
// never inspect provider-specific error codes.
var (
	// ErrClone covers network, auth, and missing-branch
	// failures while materializing the working copy.
	ErrClone = errors.New("clone failed")

	// ErrBranch is returned when the target branch exists
	// and cannot be reset cleanly.
	ErrBranch = errors.New("branch creation failed")

	// ErrApply covers filesystem failures while copying
	// the changeset into the working copy.
	ErrApply = errors.New("applying changeset failed")

	// ErrPush is returned after the single re-fetch retry
	// of a rejected push is exhausted.
	ErrPush = errors.New("push failed")

	// ErrNothingToCommit signals a clean tree after
	// staging; the remote already matches the source.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrTimeout replaces the stage error when the
	// operation exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrAuth signals credentials rejected by a provider.
	ErrAuth = errors.New("credentials rejected")

	// ErrPRCreation covers pull request API failures that
	// are not auth failures.
	ErrPRCreation = errors.New("pull request creation failed")
)

// wrap tags err with the stage sentinel, substituting
// ErrTimeout when the underlying cause is an expired
// deadline.
func wrap(kind error, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}

	return fmt.Errorf("%w: %w", kind, err)
}
