package syncer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitmirror/mirror/diff"
	"github.com/byte4ever/gitmirror/mirror/git"
	"github.com/byte4ever/gitmirror/mirror/syncer"
)

type fakeRepo struct {
	branches   []string
	applied    []diff.Changeset
	messages   []string
	rollbacks  int
	cleanups   int
	branchErr  error
	applyErr   error
	pushErr    error
	commitHash string
}

func (r *fakeRepo) CreateBranch(
	_ context.Context,
	branch string,
) error {
	if r.branchErr != nil {
		return r.branchErr
	}

	r.branches = append(r.branches, branch)

	return nil
}

func (r *fakeRepo) ApplyChangeset(
	cs diff.Changeset,
	_ string,
) error {
	if r.applyErr != nil {
		return r.applyErr
	}

	r.applied = append(r.applied, cs)

	return nil
}

func (r *fakeRepo) CommitAndPush(
	_ context.Context,
	msg string,
	_ string,
	_ bool,
) (string, error) {
	if r.pushErr != nil {
		return "", r.pushErr
	}

	r.messages = append(r.messages, msg)

	return r.commitHash, nil
}

func (r *fakeRepo) Rollback(_ context.Context) error {
	r.rollbacks++

	return nil
}

func (r *fakeRepo) Clean() error {
	r.cleanups++

	return nil
}

type fakeProvider struct {
	created  []git.PullRequest
	prErr    error
	cloneErr error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CloneURL() (string, error) {
	if p.cloneErr != nil {
		return "", p.cloneErr
	}

	return "https://token@example.com/org/repo.git", nil
}

func (p *fakeProvider) CreatePR(
	_ context.Context,
	pr git.PullRequest,
) (*git.PRRef, error) {
	if p.prErr != nil {
		return nil, p.prErr
	}

	p.created = append(p.created, pr)

	return &git.PRRef{
		ID:       "1",
		URL:      "https://example.com/pr/1",
		Provider: "fake",
	}, nil
}

func (p *fakeProvider) ClosePR(
	_ context.Context,
	_ *git.PRRef,
) error {
	return nil
}

func writeFile(
	t *testing.T,
	root string,
	rel string,
	content string,
) {
	t.Helper()

	p := filepath.Join(root, rel)

	require.NoError(
		t, os.MkdirAll(filepath.Dir(p), 0o750),
	)
	require.NoError(
		t, os.WriteFile(p, []byte(content), 0o600),
	)
}

// harness bundles a ready-to-run configuration with the
// fakes it is wired to.
type harness struct {
	cfg      syncer.Config
	repo     *fakeRepo
	provider *fakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:     &fakeRepo{commitHash: "abc123"},
		provider: &fakeProvider{},
	}

	h.cfg = syncer.Config{
		SourceRoot:    t.TempDir(),
		Repository:    "org/repo",
		BaseBranch:    "main",
		NewBranch:     "sync/update",
		CommitMessage: "sync: mirror update",
		CacheDir:      t.TempDir(),
		TmpDir:        t.TempDir(),
		Provider:      h.provider,
	}

	syncer.SetClone(
		&h.cfg,
		func(
			_ context.Context,
			_ string,
			_ string,
			_ string,
			_ []string,
		) (syncer.Repository, error) {
			return h.repo, nil
		},
	)

	return h
}

func TestRun_success(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")
	writeFile(t, h.cfg.SourceRoot, "docs/b.md", "beta")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.NoError(t, err)
	assert.Equal(t, syncer.StatusSuccess, res.Status)
	assert.Equal(t, "abc123", res.CommitHash)
	assert.Nil(t, res.PullRequest)
	assert.Equal(
		t,
		[]string{"docs/a.md", "docs/b.md"},
		res.ChangedPaths,
	)

	assert.Equal(
		t, []string{"sync/update"}, h.repo.branches,
	)
	require.Len(t, h.repo.applied, 1)
	assert.ElementsMatch(
		t,
		[]string{"docs/a.md", "docs/b.md"},
		h.repo.applied[0].Added,
	)
	assert.Equal(t, 0, h.repo.rollbacks)
	assert.Equal(t, 1, h.repo.cleanups)
}

func TestRun_idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	require.Equal(t, syncer.StatusSuccess, res.Status)

	// The cache now holds the pushed state; the second
	// pass must not touch the working copy again.
	res, err = syncer.Run(context.Background(), h.cfg)

	require.NoError(t, err)
	assert.Equal(t, syncer.StatusNoChanges, res.Status)
	assert.Empty(t, res.CommitHash)
	assert.Len(t, h.repo.applied, 1)
	assert.Len(t, h.repo.messages, 1)
}

func TestRun_add_then_delete(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")
	writeFile(t, h.cfg.SourceRoot, "docs/b.md", "beta")

	_, err := syncer.Run(context.Background(), h.cfg)
	require.NoError(t, err)

	require.NoError(t, os.Remove(
		filepath.Join(h.cfg.SourceRoot, "docs/b.md"),
	))
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "ALPHA")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.NoError(t, err)
	assert.Equal(t, syncer.StatusSuccess, res.Status)

	require.Len(t, h.repo.applied, 2)
	cs := h.repo.applied[1]
	assert.Empty(t, cs.Added)
	assert.Equal(t, []string{"docs/a.md"}, cs.Modified)
	assert.Equal(t, []string{"docs/b.md"}, cs.Deleted)
}

func TestRun_pull_request(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.PullRequest = syncer.PullRequestOptions{
		Create:       true,
		Description:  "mirror update",
		CloseOnMerge: true,
	}
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.NoError(t, err)
	assert.Equal(t, syncer.StatusSuccess, res.Status)
	require.NotNil(t, res.PullRequest)
	assert.Equal(t, "1", res.PullRequest.ID)

	require.Len(t, h.provider.created, 1)
	pr := h.provider.created[0]
	// Title falls back to the commit message.
	assert.Equal(t, "sync: mirror update", pr.Title)
	assert.Equal(t, "sync/update", pr.SourceBranch)
	assert.Equal(t, "main", pr.TargetBranch)
	assert.True(t, pr.CloseOnMerge)
}

func TestRun_pr_failure_is_partial(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.PullRequest.Create = true
	h.provider.prErr = errors.New("boom")
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)

	// The push is durable, so the pass is not an error.
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusPartial, res.Status)
	assert.Equal(t, "abc123", res.CommitHash)
	assert.Nil(t, res.PullRequest)
	assert.ErrorContains(t, res.Err, "boom")
	assert.Equal(t, 0, h.repo.rollbacks)

	// The cache was persisted before the PR attempt, so
	// a retry only needs the PR step.
	res, err = syncer.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusNoChanges, res.Status)
}

func TestRun_apply_failure_rolls_back(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.applyErr = errors.New("disk full")
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.Error(t, err)
	assert.Equal(t, syncer.StatusRolledBack, res.Status)
	assert.Equal(t, 1, h.repo.rollbacks)
	assert.Empty(t, res.CommitHash)

	// The cache must be untouched so the next pass
	// retries the same changeset.
	h.repo.applyErr = nil

	res, err = syncer.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusSuccess, res.Status)
	assert.Equal(
		t, []string{"docs/a.md"}, res.ChangedPaths,
	)
}

func TestRun_push_failure_rolls_back(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.pushErr = errors.New("remote hung up")
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.Error(t, err)
	assert.Equal(t, syncer.StatusRolledBack, res.Status)
	assert.Equal(t, 1, h.repo.rollbacks)

	res, err = syncer.Run(context.Background(), h.cfg)
	require.Error(t, err)
	assert.Equal(t, syncer.StatusRolledBack, res.Status)
}

func TestRun_nothing_to_commit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.repo.pushErr = git.ErrNothingToCommit
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	res, err := syncer.Run(context.Background(), h.cfg)

	// The remote already matches (e.g. the cache was
	// lost); the fingerprints are persisted to restore
	// idempotence.
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusNoChanges, res.Status)
	assert.Equal(t, 0, h.repo.rollbacks)

	h.repo.pushErr = nil

	res, err = syncer.Run(context.Background(), h.cfg)
	require.NoError(t, err)
	assert.Equal(t, syncer.StatusNoChanges, res.Status)
	assert.Len(t, h.repo.applied, 1)
}

func TestRun_clone_failure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")

	syncer.SetClone(
		&h.cfg,
		func(
			_ context.Context,
			_ string,
			_ string,
			_ string,
			_ []string,
		) (syncer.Repository, error) {
			return nil, git.ErrClone
		},
	)

	res, err := syncer.Run(context.Background(), h.cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, git.ErrClone)
	assert.Equal(t, syncer.StatusFailed, res.Status)
	assert.Equal(t, 0, h.repo.rollbacks)
}

func TestRun_filter_and_ignore(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.IncludeFolders = []string{"docs"}
	h.cfg.IgnorePatterns = []string{"*.log"}

	writeFile(t, h.cfg.SourceRoot, "docs/a.md", "alpha")
	writeFile(
		t, h.cfg.SourceRoot, "docs/debug.log", "noise",
	)
	writeFile(t, h.cfg.SourceRoot, "src/m.go", "code")

	res, err := syncer.Run(context.Background(), h.cfg)

	require.NoError(t, err)
	assert.Equal(
		t, []string{"docs/a.md"}, res.ChangedPaths,
	)
}

func TestRun_invalid_config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cfg *syncer.Config)
	}{
		{
			name: "missing source root",
			mutate: func(cfg *syncer.Config) {
				cfg.SourceRoot = filepath.Join(
					cfg.SourceRoot, "missing",
				)
			},
		},
		{
			name: "missing repository",
			mutate: func(cfg *syncer.Config) {
				cfg.Repository = ""
			},
		},
		{
			name: "missing base branch",
			mutate: func(cfg *syncer.Config) {
				cfg.BaseBranch = ""
			},
		},
		{
			name: "missing new branch",
			mutate: func(cfg *syncer.Config) {
				cfg.NewBranch = ""
			},
		},
		{
			name: "missing commit message",
			mutate: func(cfg *syncer.Config) {
				cfg.CommitMessage = ""
			},
		},
		{
			name: "missing cache dir",
			mutate: func(cfg *syncer.Config) {
				cfg.CacheDir = ""
			},
		},
		{
			name: "missing provider",
			mutate: func(cfg *syncer.Config) {
				cfg.Provider = nil
			},
		},
		{
			name: "bad ignore pattern",
			mutate: func(cfg *syncer.Config) {
				cfg.IgnorePatterns = []string{"[z-a]"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tt.mutate(&h.cfg)

			res, err := syncer.Run(
				context.Background(), h.cfg,
			)

			require.Error(t, err)
			assert.ErrorIs(t, err, syncer.ErrConfig)
			assert.Equal(
				t, syncer.StatusFailed, res.Status,
			)
		})
	}
}
