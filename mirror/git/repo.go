package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/byte4ever/gitmirror/mirror/diff"
	"github.com/byte4ever/gitmirror/mirror/exec"
)

// Repo is a local clone of a git repository, exclusively
// owned by one sync pass. Create with Clone, and call Clean
// when done.
type Repo struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// RemoteName is the name of the upstream remote.
	RemoteName string
}

// Clone clones baseBranch of the repository at cloneURL into
// dir. The URL may embed credentials; it is redacted before
// any logging. When includeFolders is non-empty only those
// folders are materialized via cone-mode sparse checkout.
//
//nolint:gosec // file paths originate from validated config
func Clone(
	ctx context.Context,
	cloneURL string,
	baseBranch string,
	dir string,
	includeFolders []string,
) (*Repo, error) {
	const errCtx = "cloning repository"

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf(
			"%s: remove dir: %w", errCtx, err,
		)
	}

	remoteName := "origin"

	args := []string{
		"clone",
		"--single-branch",
		"--branch", baseBranch,
		"--filter=blob:none",
		"--no-tags",
		"--origin", remoteName,
	}

	if len(includeFolders) > 0 {
		args = append(args, "--sparse")
	}

	args = append(args, cloneURL, dir)

	// ExQuiet keeps the credentialed URL out of logs and
	// error text.
	out, err := exec.ExQuiet(ctx, "", "git", args...)
	if err != nil {
		slog.Error(
			"clone failed",
			"url", Redact(cloneURL),
			"output", redactOutput(out, cloneURL),
		)

		return nil, wrap(
			ErrClone,
			fmt.Errorf("%s: %w", errCtx, err),
		)
	}

	if len(includeFolders) > 0 {
		scArgs := append(
			[]string{"sparse-checkout", "set", "--cone"},
			includeFolders...,
		)

		if _, err := exec.Ex(
			ctx, dir, "git", scArgs...,
		); err != nil {
			return nil, wrap(
				ErrClone,
				fmt.Errorf(
					"%s: sparse checkout: %w",
					errCtx, err,
				),
			)
		}
	}

	return &Repo{
		Dir:        dir,
		RemoteName: remoteName,
	}, nil
}

// Clean removes the local clone directory.
func (r *Repo) Clean() error {
	const errCtx = "cleaning repository"

	if err := os.RemoveAll(r.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// CreateBranch creates branch at the current head,
// resetting it if it already exists.
func (r *Repo) CreateBranch(
	ctx context.Context,
	branch string,
) error {
	const errCtx = "creating branch"

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "checkout", "-B", branch,
	); err != nil {
		return wrap(
			ErrBranch,
			fmt.Errorf(
				"%s: %s: %w", errCtx, branch, err,
			),
		)
	}

	return nil
}

// ApplyChangeset copies added and modified files from
// sourceRoot into the working copy and removes deleted
// files. Any filesystem failure aborts the whole changeset.
func (r *Repo) ApplyChangeset(
	cs diff.Changeset,
	sourceRoot string,
) error {
	const errCtx = "applying changeset"

	for _, rel := range cs.Added {
		if err := r.copyIn(sourceRoot, rel); err != nil {
			return wrap(
				ErrApply,
				fmt.Errorf(
					"%s: add %s: %w", errCtx, rel, err,
				),
			)
		}
	}

	for _, rel := range cs.Modified {
		if err := r.copyIn(sourceRoot, rel); err != nil {
			return wrap(
				ErrApply,
				fmt.Errorf(
					"%s: update %s: %w",
					errCtx, rel, err,
				),
			)
		}
	}

	for _, rel := range cs.Deleted {
		err := os.Remove(filepath.Join(r.Dir, rel))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrap(
				ErrApply,
				fmt.Errorf(
					"%s: delete %s: %w",
					errCtx, rel, err,
				),
			)
		}
	}

	return nil
}

// copyIn copies one source file into the working copy,
// creating parent directories and preserving the file mode.
//
//nolint:gosec // paths derive from the filtered scan
func (r *Repo) copyIn(
	sourceRoot string,
	rel string,
) (retErr error) {
	src := filepath.Join(sourceRoot, rel)
	dst := filepath.Join(r.Dir, rel)

	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(
		filepath.Dir(dst), 0o750,
	); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := in.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	out, err := os.OpenFile(
		dst,
		os.O_WRONLY|os.O_CREATE|os.O_TRUNC,
		info.Mode().Perm(),
	)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// CommitAndPush stages all changes, commits them with msg,
// and pushes branch to the remote. Returns the commit hash.
// A clean tree after staging returns ErrNothingToCommit. A
// rejected push is retried exactly once after a re-fetch
// (rebasing onto the remote branch when rebase is set)
// before surfacing ErrPush.
func (r *Repo) CommitAndPush(
	ctx context.Context,
	msg string,
	branch string,
	rebase bool,
) (string, error) {
	const errCtx = "committing and pushing"

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "add", "-A",
	); err != nil {
		return "", wrap(
			ErrPush,
			fmt.Errorf("%s: stage: %w", errCtx, err),
		)
	}

	clean, err := r.isClean(ctx)
	if err != nil {
		return "", wrap(
			ErrPush,
			fmt.Errorf("%s: status: %w", errCtx, err),
		)
	}

	if clean {
		return "", fmt.Errorf(
			"%s: %w", errCtx, ErrNothingToCommit,
		)
	}

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "commit", "-m", msg,
	); err != nil {
		return "", wrap(
			ErrPush,
			fmt.Errorf("%s: commit: %w", errCtx, err),
		)
	}

	if err := r.push(ctx, branch); err != nil {
		slog.Info(
			"push rejected, retrying after fetch",
			"branch", branch,
		)

		if retryErr := r.refetch(
			ctx, branch, rebase,
		); retryErr != nil {
			return "", wrap(
				ErrPush,
				fmt.Errorf(
					"%s: re-fetch: %w",
					errCtx, retryErr,
				),
			)
		}

		if retryErr := r.push(
			ctx, branch,
		); retryErr != nil {
			return "", wrap(
				ErrPush,
				fmt.Errorf(
					"%s: retry: %w", errCtx, retryErr,
				),
			)
		}
	}

	return r.Head(ctx)
}

// push pushes branch to the remote with upstream tracking.
func (r *Repo) push(
	ctx context.Context,
	branch string,
) error {
	_, err := exec.Ex(
		ctx, r.Dir, "git",
		"push", "--set-upstream", r.RemoteName, branch,
	)

	return err
}

// refetch updates remote refs after a rejected push and,
// when rebase is requested and the remote branch exists,
// rebases the local branch onto it. A failed rebase is
// aborted so the retry pushes the original commit.
func (r *Repo) refetch(
	ctx context.Context,
	branch string,
	rebase bool,
) error {
	if _, err := exec.Ex(
		ctx, r.Dir, "git",
		"fetch", r.RemoteName,
	); err != nil {
		return err
	}

	if !rebase {
		return nil
	}

	remoteRef := r.RemoteName + "/" + branch

	if _, err := exec.Ex(
		ctx, r.Dir, "git",
		"rev-parse", "--verify", remoteRef,
	); err != nil {
		// Remote branch does not exist; nothing to
		// rebase onto.
		return nil
	}

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "rebase", remoteRef,
	); err != nil {
		_, _ = exec.Ex(
			ctx, r.Dir, "git", "rebase", "--abort",
		)

		return err
	}

	return nil
}

// Rollback discards uncommitted changes and untracked files,
// restoring the working copy to its last committed state.
// Idempotent: a clean tree or an already-removed clone
// directory is a no-op.
func (r *Repo) Rollback(ctx context.Context) error {
	const errCtx = "rolling back working copy"

	if _, err := os.Stat(r.Dir); errors.Is(
		err, os.ErrNotExist,
	) {
		return nil
	}

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "reset", "--hard", "HEAD",
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if _, err := exec.Ex(
		ctx, r.Dir, "git", "clean", "-fd",
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Head returns the commit hash of the current head.
func (r *Repo) Head(
	ctx context.Context,
) (string, error) {
	const errCtx = "resolving head"

	out, err := exec.Ex(
		ctx, r.Dir, "git", "rev-parse", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// isClean reports whether the working tree has no
// uncommitted changes.
func (r *Repo) isClean(
	ctx context.Context,
) (bool, error) {
	out, err := exec.Ex(
		ctx, r.Dir, "git", "status", "--porcelain",
	)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(out) == "", nil
}

// Redact strips userinfo from a clone URL so it can be
// logged safely. Unparseable URLs come back fully masked.
func Redact(cloneURL string) string {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "***"
	}

	if u.User != nil {
		u.User = url.User("REDACTED")
	}

	return u.String()
}

// redactOutput masks every occurrence of the URL's userinfo
// in command output.
func redactOutput(out string, cloneURL string) string {
	u, err := url.Parse(cloneURL)
	if err != nil || u.User == nil {
		return out
	}

	return strings.ReplaceAll(
		out, u.User.String(), "***",
	)
}
