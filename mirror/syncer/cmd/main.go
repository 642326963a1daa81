// Command gitmirror mirrors a local file tree into a git
// repository hosted on GitHub, GitLab, Bitbucket, AWS
// CodeCommit, or Azure DevOps, pushing the changes on a
// dedicated branch and optionally opening a pull request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	pb "github.com/cheggaaa/pb/v3"
	json "github.com/goccy/go-json"
	yaml "github.com/goccy/go-yaml"

	"github.com/byte4ever/gitmirror/mirror/git"
	"github.com/byte4ever/gitmirror/mirror/git/azuredevops"
	"github.com/byte4ever/gitmirror/mirror/git/bitbucket"
	"github.com/byte4ever/gitmirror/mirror/git/codecommit"
	"github.com/byte4ever/gitmirror/mirror/git/github"
	"github.com/byte4ever/gitmirror/mirror/git/gitlab"
	"github.com/byte4ever/gitmirror/mirror/syncer"
)

// sliceFlag implements flag.Value for multi-value string
// flags (repeated --flag=val usage).
type sliceFlag []string

// String returns the flag value as a comma-separated
// string representation.
func (s *sliceFlag) String() string {
	if s == nil {
		return ""
	}

	return strings.Join(*s, ",")
}

// Set appends a value to the slice.
func (s *sliceFlag) Set(val string) error {
	*s = append(*s, val)

	return nil
}

// providerConfig selects and configures the hosting
// platform. Tokens left empty fall back to the platform's
// conventional environment variables.
type providerConfig struct {
	Name   string `yaml:"name"`
	Repo   string `yaml:"repo"`
	Owner  string `yaml:"owner"`
	Host   string `yaml:"host"`
	Region string `yaml:"region"`
	Token  string `yaml:"token"`
	User   string `yaml:"user"`
	Secret string `yaml:"secret"`
}

// pullRequestConfig mirrors syncer.PullRequestOptions in
// the configuration file.
type pullRequestConfig struct {
	Create       bool   `yaml:"create"`
	Title        string `yaml:"title"`
	Description  string `yaml:"description"`
	CloseOnMerge bool   `yaml:"close_on_merge"`
	Rebase       bool   `yaml:"rebase"`
}

// fileConfig is the YAML configuration file layout.
type fileConfig struct {
	SourceRoot     string            `yaml:"source_root"`
	IncludeFolders []string          `yaml:"include_folders"`
	IgnorePatterns []string          `yaml:"ignore_patterns"`
	Repository     string            `yaml:"repository"`
	BaseBranch     string            `yaml:"base_branch"`
	NewBranch      string            `yaml:"new_branch"`
	CommitMessage  string            `yaml:"commit_message"`
	CacheDir       string            `yaml:"cache_dir"`
	TmpDir         string            `yaml:"tmp_dir"`
	Timeout        time.Duration     `yaml:"timeout"`
	Parallelism    int               `yaml:"parallelism"`
	PullRequest    pullRequestConfig `yaml:"pull_request"`
	Provider       providerConfig    `yaml:"provider"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running gitmirror"

	configPath := flag.String(
		"config", "",
		"Path to the YAML configuration file",
	)

	// Generic overrides for the configuration file.
	sourceRoot := flag.String(
		"source_root", "",
		"Local directory to mirror",
	)
	repository := flag.String(
		"repository", "",
		"Remote repository identifier",
	)
	baseBranch := flag.String(
		"base_branch", "",
		"Branch to clone and target with the PR",
	)
	newBranch := flag.String(
		"new_branch", "",
		"Branch receiving the mirrored changes",
	)
	commitMessage := flag.String(
		"commit_message", "",
		"Message for the sync commit",
	)
	cacheDir := flag.String(
		"cache_dir", "",
		"Directory holding the fingerprint indexes",
	)
	tmpDir := flag.String(
		"tmp_dir", "",
		"Temporary directory for clones",
	)
	timeout := flag.Duration(
		"timeout", 0,
		"Per-operation network timeout (0 disables)",
	)
	parallelism := flag.Int(
		"parallelism", 0,
		"Number of concurrent fingerprint workers",
	)
	quiet := flag.Bool(
		"quiet", false,
		"Disable the scan progress bar",
	)

	// Slice flags for tree selection.
	var includeFolders sliceFlag

	flag.Var(
		&includeFolders,
		"include_folder",
		"Top-level folder to sync (repeatable)",
	)

	var ignorePatterns sliceFlag

	flag.Var(
		&ignorePatterns,
		"ignore_pattern",
		"Glob pattern to skip (repeatable)",
	)

	flag.Parse()

	fc, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	override(&fc.SourceRoot, *sourceRoot)
	override(&fc.Repository, *repository)
	override(&fc.BaseBranch, *baseBranch)
	override(&fc.NewBranch, *newBranch)
	override(&fc.CommitMessage, *commitMessage)
	override(&fc.CacheDir, *cacheDir)
	override(&fc.TmpDir, *tmpDir)

	if *timeout > 0 {
		fc.Timeout = *timeout
	}

	if *parallelism > 0 {
		fc.Parallelism = *parallelism
	}

	if len(includeFolders) > 0 {
		fc.IncludeFolders = includeFolders
	}

	if len(ignorePatterns) > 0 {
		fc.IgnorePatterns = ignorePatterns
	}

	provider, err := newGitProvider(fc.Provider)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg := syncer.Config{
		SourceRoot:     fc.SourceRoot,
		IncludeFolders: fc.IncludeFolders,
		IgnorePatterns: fc.IgnorePatterns,
		Repository:     fc.Repository,
		BaseBranch:     fc.BaseBranch,
		NewBranch:      fc.NewBranch,
		CommitMessage:  fc.CommitMessage,
		PullRequest: syncer.PullRequestOptions{
			Create:       fc.PullRequest.Create,
			Title:        fc.PullRequest.Title,
			Description:  fc.PullRequest.Description,
			CloseOnMerge: fc.PullRequest.CloseOnMerge,
			Rebase:       fc.PullRequest.Rebase,
		},
		CacheDir:               fc.CacheDir,
		TmpDir:                 fc.TmpDir,
		Timeout:                fc.Timeout,
		FingerprintParallelism: fc.Parallelism,
		Provider:               provider,
	}

	var bar *pb.ProgressBar

	if !*quiet {
		cfg.Progress = func(done, total int) {
			if bar == nil {
				bar = pb.StartNew(total)
			}

			bar.SetCurrent(int64(done))

			if done >= total {
				bar.Finish()
			}
		}
	}

	res, runErr := syncer.Run(context.Background(), cfg)

	if res != nil {
		if err := printResult(res); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", errCtx, runErr)
	}

	return nil
}

// loadConfig reads and decodes the YAML configuration
// file. An empty path yields a zero configuration so the
// command can run on flags alone.
func loadConfig(path string) (*fileConfig, error) {
	const errCtx = "loading configuration"

	fc := &fileConfig{}

	if path == "" {
		return fc, nil
	}

	raw, err := os.ReadFile(path) //nolint:gosec // user-supplied path
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := yaml.Unmarshal(raw, fc); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return fc, nil
}

// override replaces dst when the flag value is non-empty.
func override(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// printResult writes the outcome to stdout as indented
// JSON so callers can script against it.
func printResult(res *syncer.Result) error {
	const errCtx = "printing result"

	raw, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fmt.Println(string(raw))

	return nil
}

// envOr returns val, or the environment variable when val
// is empty.
func envOr(val, key string) string {
	if val != "" {
		return val
	}

	return os.Getenv(key)
}

// newGitProvider creates a git.Provider based on the
// platform name. Pattern: Factory -- selects platform
// implementation at runtime.
func newGitProvider(
	pc providerConfig,
) (git.Provider, error) {
	const errCtx = "creating git provider"

	switch pc.Name {
	case "github":
		p, err := github.NewProvider(github.Config{
			RepoOwner: pc.Owner,
			Repo:      pc.Repo,
			Credentials: git.Credentials{
				Token: envOr(
					pc.Token, "GITHUB_TOKEN",
				),
			},
			EnterpriseHost: pc.Host,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	case "gitlab":
		p, err := gitlab.NewProvider(gitlab.Config{
			Host: pc.Host,
			Repo: pc.Repo,
			Credentials: git.Credentials{
				Token: envOr(
					pc.Token, "GITLAB_TOKEN",
				),
			},
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	case "bitbucket":
		p, err := bitbucket.NewProvider(bitbucket.Config{
			Repo: pc.Repo,
			Credentials: git.Credentials{
				User: envOr(
					pc.User, "BITBUCKET_USER",
				),
				Secret: envOr(
					pc.Secret,
					"BITBUCKET_APP_PASSWORD",
				),
			},
			APIBaseURL: pc.Host,
		})
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	case "codecommit":
		p, err := codecommit.NewProvider(
			codecommit.Config{
				Repo:   pc.Repo,
				Region: pc.Region,
				Credentials: git.Credentials{
					User: envOr(
						pc.User,
						"AWS_ACCESS_KEY_ID",
					),
					Secret: envOr(
						pc.Secret,
						"AWS_SECRET_ACCESS_KEY",
					),
				},
				APIBaseURL: pc.Host,
			},
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	case "azuredevops":
		p, err := azuredevops.NewProvider(
			azuredevops.Config{
				Repo: pc.Repo,
				Credentials: git.Credentials{
					Token: envOr(
						pc.Token,
						"AZURE_DEVOPS_TOKEN",
					),
				},
				APIBaseURL: pc.Host,
			},
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		return p, nil

	default:
		return nil, fmt.Errorf(
			"%s: unknown platform %q", errCtx, pc.Name,
		)
	}
}
