package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/byte4ever/gitmirror/mirror/cache"
	"github.com/byte4ever/gitmirror/mirror/diff"
	"github.com/byte4ever/gitmirror/mirror/filter"
	"github.com/byte4ever/gitmirror/mirror/fingerprint"
	"github.com/byte4ever/gitmirror/mirror/git"
)

// ErrConfig is returned when the configuration fails
// validation. Nothing has been touched, locally or remotely.
var ErrConfig = errors.New("invalid sync configuration")

// Status classifies the outcome of a sync pass.
type Status string

const (
	// StatusSuccess: changes pushed, PR created when
	// requested.
	StatusSuccess Status = "success"
	// StatusNoChanges: the source tree matches the last
	// synced state; nothing was pushed.
	StatusNoChanges Status = "no-changes"
	// StatusPartial: the push is durable, but a step
	// after it (cache persist or PR creation) failed.
	StatusPartial Status = "partial"
	// StatusRolledBack: a failure after applying changes
	// was rolled back; the remote is untouched.
	StatusRolledBack Status = "rolled-back"
	// StatusFailed: a failure before any mutation.
	StatusFailed Status = "failed"
)

// PullRequestOptions controls PR creation after a
// successful push.
type PullRequestOptions struct {
	// Create requests opening a pull request.
	Create bool
	// Title is the PR title. Defaults to the commit
	// message.
	Title string
	// Description is the PR body.
	Description string
	// CloseOnMerge closes the source branch on merge and
	// closes superseded PRs before creating the new one.
	CloseOnMerge bool
	// Rebase selects a squash/fast-forward merge strategy
	// and enables rebasing on push retry.
	Rebase bool
}

// Config holds all settings for one sync pass. Use a Config
// struct instead of many arguments.
type Config struct {
	// SourceRoot is the local directory to mirror.
	SourceRoot string

	// IncludeFolders restricts the sync to these
	// top-level folders. Empty means the whole tree.
	IncludeFolders []string

	// IgnorePatterns are glob patterns for paths to skip.
	IgnorePatterns []string

	// Repository identifies the remote repository; used
	// together with the provider name and branch as the
	// cache key.
	Repository string

	// BaseBranch is the branch to clone.
	BaseBranch string

	// NewBranch is the branch that receives the mirrored
	// changes.
	NewBranch string

	// CommitMessage is the message for the sync commit.
	CommitMessage string

	// PullRequest controls PR creation after the push.
	PullRequest PullRequestOptions

	// CacheDir is the directory holding the fingerprint
	// indexes, outside any working copy.
	CacheDir string

	// TmpDir is the directory for transient clones.
	// Defaults to os.TempDir().
	TmpDir string

	// Timeout bounds each network operation (clone, push,
	// PR calls). Zero means no limit.
	Timeout time.Duration

	// FingerprintParallelism bounds concurrent file
	// hashing. Values below 1 mean sequential.
	FingerprintParallelism int

	// Progress, if non-nil, receives fingerprint scan
	// progress as (done, total).
	Progress func(done, total int)

	// Provider is the hosting platform adapter.
	Provider git.Provider

	// clone is the working-copy factory; overridable in
	// tests.
	clone cloneFunc
}

// Result is the outcome of one sync pass, returned to the
// caller rather than only logged.
type Result struct {
	// Status classifies the outcome.
	Status Status `json:"status"`
	// CommitHash is the pushed commit, when one exists.
	CommitHash string `json:"commit_hash,omitempty"`
	// PullRequest references the created PR, if any.
	PullRequest *git.PRRef `json:"pull_request,omitempty"`
	// ChangedPaths lists the paths of the changeset.
	ChangedPaths []string `json:"changed_paths,omitempty"`
	// Err carries the failure detail for partial, failed,
	// and rolled-back outcomes.
	Err error `json:"-"`
	// Error is the string form of Err for serialization.
	Error string `json:"error,omitempty"`
}

// repository is the slice of git.Repo the orchestrator
// depends on.
type repository interface {
	CreateBranch(ctx context.Context, branch string) error
	ApplyChangeset(
		cs diff.Changeset,
		sourceRoot string,
	) error
	CommitAndPush(
		ctx context.Context,
		msg string,
		branch string,
		rebase bool,
	) (string, error)
	Rollback(ctx context.Context) error
	Clean() error
}

// cloneFunc materializes a working copy.
type cloneFunc func(
	ctx context.Context,
	cloneURL string,
	baseBranch string,
	dir string,
	includeFolders []string,
) (repository, error)

// gitClone adapts git.Clone to cloneFunc.
func gitClone(
	ctx context.Context,
	cloneURL string,
	baseBranch string,
	dir string,
	includeFolders []string,
) (repository, error) {
	return git.Clone(
		ctx, cloneURL, baseBranch, dir, includeFolders,
	)
}

// Run executes one sync pass: clone, filter, classify,
// apply, commit, push, and optionally create a pull
// request. Failures after changes were applied roll back
// the working copy; failures after the push are reported as
// partial success since the push is durable. The
// fingerprint cache is persisted only after a durable push,
// so interrupted runs retry from the last known-good state.
//
//nolint:funlen // the state machine reads best in one piece
func Run(
	ctx context.Context,
	cfg Config,
) (*Result, error) {
	const errCtx = "running sync pass"

	fl, err := validate(&cfg)
	if err != nil {
		return failed(err), err
	}

	store := cache.NewStore(cfg.CacheDir)

	// Init -> Cloned.
	cloneURL, err := cfg.Provider.CloneURL()
	if err != nil {
		err = fmt.Errorf(
			"%s: clone url: %w", errCtx, err,
		)

		return failed(err), err
	}

	workDir, err := os.MkdirTemp(
		cfg.TmpDir, "gitmirror-*",
	)
	if err != nil {
		err = fmt.Errorf(
			"%s: temp dir: %w", errCtx, err,
		)

		return failed(err), err
	}

	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			slog.Error(
				"failed to remove work dir",
				"error", rmErr,
			)
		}
	}()

	opCtx, cancel := withTimeout(ctx, cfg.Timeout)
	repo, err := cfg.clone(
		opCtx,
		cloneURL,
		cfg.BaseBranch,
		filepath.Join(workDir, "repo"),
		cfg.IncludeFolders,
	)

	cancel()

	if err != nil {
		err = fmt.Errorf("%s: %w", errCtx, err)

		return failed(err), err
	}

	defer func() {
		if cleanErr := repo.Clean(); cleanErr != nil {
			slog.Error(
				"failed to clean working copy",
				"error", cleanErr,
			)
		}
	}()

	// Cloned -> Filtered.
	paths, err := scanSource(cfg.SourceRoot, fl)
	if err != nil {
		err = fmt.Errorf("%s: %w", errCtx, err)

		return failed(err), err
	}

	// Filtered -> Classified.
	current, err := fingerprint.Tree(
		ctx,
		cfg.SourceRoot,
		paths,
		cfg.FingerprintParallelism,
		cfg.Progress,
	)
	if err != nil {
		err = fmt.Errorf("%s: %w", errCtx, err)

		return failed(err), err
	}

	cached, err := store.Load(
		cfg.Provider.Name(),
		cfg.Repository,
		cfg.NewBranch,
	)
	if err != nil {
		err = fmt.Errorf("%s: %w", errCtx, err)

		return failed(err), err
	}

	cs := diff.Classify(current, cached)
	if cs.Empty() {
		slog.Info("no changes detected")

		return &Result{Status: StatusNoChanges}, nil
	}

	slog.Info(
		"classified changeset",
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"deleted", len(cs.Deleted),
	)

	// Classified -> branch ready. Nothing has been
	// mutated remotely yet, so failures surface directly.
	if err := repo.CreateBranch(
		ctx, cfg.NewBranch,
	); err != nil {
		err = fmt.Errorf("%s: %w", errCtx, err)

		return failed(err), err
	}

	// Classified -> Applied.
	if err := repo.ApplyChangeset(
		cs, cfg.SourceRoot,
	); err != nil {
		return rollBack(ctx, repo, cs, fmt.Errorf(
			"%s: %w", errCtx, err,
		))
	}

	// Applied -> Committed -> Pushed.
	opCtx, cancel = withTimeout(ctx, cfg.Timeout)
	hash, err := repo.CommitAndPush(
		opCtx,
		cfg.CommitMessage,
		cfg.NewBranch,
		cfg.PullRequest.Rebase,
	)

	cancel()

	switch {
	case errors.Is(err, git.ErrNothingToCommit):
		// The remote already holds this content (e.g. a
		// lost cache). Persisting the fingerprints
		// restores idempotence.
		if saveErr := store.Save(
			cfg.Provider.Name(),
			cfg.Repository,
			cfg.NewBranch,
			cache.Index(current),
		); saveErr != nil {
			err = fmt.Errorf(
				"%s: %w", errCtx, saveErr,
			)

			return failed(err), err
		}

		return &Result{
			Status:       StatusNoChanges,
			ChangedPaths: cs.Paths(),
		}, nil

	case err != nil:
		return rollBack(ctx, repo, cs, fmt.Errorf(
			"%s: %w", errCtx, err,
		))
	}

	// Pushed: the mutation is durable from here on.
	// Failures no longer roll back.
	res := &Result{
		Status:       StatusSuccess,
		CommitHash:   hash,
		ChangedPaths: cs.Paths(),
	}

	if err := store.Save(
		cfg.Provider.Name(),
		cfg.Repository,
		cfg.NewBranch,
		cache.Index(current),
	); err != nil {
		res.Status = StatusPartial
		res.Err = fmt.Errorf("%s: %w", errCtx, err)
		res.Error = res.Err.Error()

		return res, nil
	}

	// Pushed -> PRCreated.
	if cfg.PullRequest.Create {
		opCtx, cancel = withTimeout(ctx, cfg.Timeout)
		ref, err := cfg.Provider.CreatePR(
			opCtx,
			git.PullRequest{
				Title:        cfg.PullRequest.Title,
				Description:  cfg.PullRequest.Description,
				SourceBranch: cfg.NewBranch,
				TargetBranch: cfg.BaseBranch,
				CloseOnMerge: cfg.PullRequest.CloseOnMerge,
				Rebase:       cfg.PullRequest.Rebase,
			},
		)

		cancel()

		if err != nil {
			res.Status = StatusPartial
			res.Err = fmt.Errorf(
				"%s: %w", errCtx, err,
			)
			res.Error = res.Err.Error()

			return res, nil
		}

		res.PullRequest = ref
	}

	return res, nil
}

// validate checks the configuration, applies defaults, and
// builds the filter.
func validate(cfg *Config) (*filter.Filter, error) {
	info, err := os.Stat(cfg.SourceRoot)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf(
			"%w: source root %q is not a directory",
			ErrConfig, cfg.SourceRoot,
		)
	}

	if cfg.Repository == "" {
		return nil, fmt.Errorf(
			"%w: repository must be set", ErrConfig,
		)
	}

	if cfg.BaseBranch == "" {
		return nil, fmt.Errorf(
			"%w: base branch must be set", ErrConfig,
		)
	}

	if cfg.NewBranch == "" {
		return nil, fmt.Errorf(
			"%w: new branch must be set", ErrConfig,
		)
	}

	if cfg.CommitMessage == "" {
		return nil, fmt.Errorf(
			"%w: commit message must be set", ErrConfig,
		)
	}

	if cfg.CacheDir == "" {
		return nil, fmt.Errorf(
			"%w: cache dir must be set", ErrConfig,
		)
	}

	if cfg.Provider == nil {
		return nil, fmt.Errorf(
			"%w: provider must be set", ErrConfig,
		)
	}

	fl, err := filter.New(
		cfg.IncludeFolders, cfg.IgnorePatterns,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: %w", ErrConfig, err,
		)
	}

	if cfg.TmpDir == "" {
		cfg.TmpDir = os.TempDir()
	}

	if cfg.PullRequest.Create &&
		cfg.PullRequest.Title == "" {
		cfg.PullRequest.Title = cfg.CommitMessage
	}

	if cfg.clone == nil {
		cfg.clone = gitClone
	}

	return fl, nil
}

// scanSource walks the source tree and returns the sorted
// slash-separated relative paths of all regular files that
// pass the filter.
func scanSource(
	root string,
	fl *filter.Filter,
) ([]string, error) {
	const errCtx = "scanning source tree"

	var paths []string

	err := filepath.WalkDir(
		root,
		func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}

			if d.IsDir() {
				if d.Name() == ".git" && p != root {
					return filepath.SkipDir
				}

				return nil
			}

			if !d.Type().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}

			rel = filepath.ToSlash(rel)

			if fl.Include(rel) {
				paths = append(paths, rel)
			}

			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	sort.Strings(paths)

	return paths, nil
}

// rollBack restores the working copy and reports the
// failure. The persisted cache is left untouched so the
// next run retries from the last known-good state.
func rollBack(
	ctx context.Context,
	repo repository,
	cs diff.Changeset,
	cause error,
) (*Result, error) {
	if err := repo.Rollback(ctx); err != nil {
		slog.Error(
			"rollback failed",
			"error", err,
		)
	}

	res := &Result{
		Status:       StatusRolledBack,
		ChangedPaths: cs.Paths(),
		Err:          cause,
		Error:        cause.Error(),
	}

	return res, cause
}

// failed builds a Result for a failure that required no
// rollback.
func failed(err error) *Result {
	return &Result{
		Status: StatusFailed,
		Err:    err,
		Error:  err.Error(),
	}
}

// withTimeout bounds ctx when d is positive.
func withTimeout(
	ctx context.Context,
	d time.Duration,
) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, d)
}
