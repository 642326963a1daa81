// Package filter decides which source paths take part in a
// sync pass. A path is included only when it falls under one
// of the configured include folders (or none are configured)
// and matches no ignore pattern. Ignore patterns always win:
// a path matching both an include folder and an ignore
// pattern is excluded.
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter evaluates include folders and ignore glob patterns
// against slash-separated paths relative to the source root.
// It is pure: Include has no side effects.
type Filter struct {
	folders  []string
	patterns []string
}

// New validates the ignore patterns and returns a Filter.
// Patterns support "*" within a segment and "**" across
// segments. A pattern without a slash is matched against the
// path's base name, a pattern with a slash against the whole
// relative path.
func New(
	includeFolders []string,
	ignorePatterns []string,
) (*Filter, error) {
	const errCtx = "creating filter"

	folders := make([]string, 0, len(includeFolders))

	for _, f := range includeFolders {
		f = strings.Trim(path.Clean(
			strings.TrimSpace(f),
		), "/")
		if f == "" || f == "." {
			continue
		}

		folders = append(folders, f)
	}

	patterns := make([]string, 0, len(ignorePatterns))

	for _, p := range ignorePatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf(
				"%s: invalid pattern %q", errCtx, p,
			)
		}

		patterns = append(patterns, p)
	}

	return &Filter{
		folders:  folders,
		patterns: patterns,
	}, nil
}

// Include reports whether the path relative to the source
// root takes part in the sync pass.
func (f *Filter) Include(rel string) bool {
	rel = strings.Trim(path.Clean(
		strings.ReplaceAll(rel, "\\", "/"),
	), "/")
	if rel == "" || rel == "." {
		return false
	}

	if f.ignored(rel) {
		return false
	}

	if len(f.folders) == 0 {
		return true
	}

	for _, folder := range f.folders {
		if rel == folder ||
			strings.HasPrefix(rel, folder+"/") {
			return true
		}
	}

	return false
}

// ignored reports whether any ignore pattern matches rel.
func (f *Filter) ignored(rel string) bool {
	base := path.Base(rel)

	for _, p := range f.patterns {
		target := rel
		if !strings.Contains(p, "/") {
			target = base
		}

		// Patterns were validated in New.
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}

	return false
}
