package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/gitmirror/mirror/filter"
)

func TestInclude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		folders  []string
		patterns []string
		path     string
		want     bool
	}{
		{
			name: "no folders no patterns includes all",
			path: "a.txt",
			want: true,
		},
		{
			name:     "base name pattern matches root file",
			patterns: []string{"*.log"},
			path:     "b.log",
			want:     false,
		},
		{
			name:     "base name pattern matches nested file",
			patterns: []string{"*.log"},
			path:     "sub/deep/app.log",
			want:     false,
		},
		{
			name:     "non-matching pattern keeps file",
			patterns: []string{"*.log"},
			path:     "a.txt",
			want:     true,
		},
		{
			name:     "slash pattern matches whole path",
			patterns: []string{"build/*"},
			path:     "build/out.bin",
			want:     false,
		},
		{
			name:     "slash pattern is anchored",
			patterns: []string{"build/*"},
			path:     "src/build.go",
			want:     true,
		},
		{
			name:     "doublestar spans segments",
			patterns: []string{"vendor/**"},
			path:     "vendor/a/b/c.go",
			want:     false,
		},
		{
			name:    "folder scoping includes member",
			folders: []string{"docs"},
			path:    "docs/readme.md",
			want:    true,
		},
		{
			name:    "folder scoping excludes outsider",
			folders: []string{"docs"},
			path:    "src/main.go",
			want:    false,
		},
		{
			name:    "folder name prefix is not membership",
			folders: []string{"docs"},
			path:    "docs-old/readme.md",
			want:    false,
		},
		{
			name:     "ignore wins over include folder",
			folders:  []string{"docs"},
			patterns: []string{"*.tmp"},
			path:     "docs/draft.tmp",
			want:     false,
		},
		{
			name: "empty path excluded",
			path: "",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := filter.New(
				tt.folders, tt.patterns,
			)
			require.NoError(t, err)

			assert.Equal(
				t, tt.want, f.Include(tt.path),
			)
		})
	}
}

func TestNew_invalid_pattern(t *testing.T) {
	t.Parallel()

	_, err := filter.New(nil, []string{"[unclosed"})

	assert.Error(t, err)
}

func TestNew_blank_entries_skipped(t *testing.T) {
	t.Parallel()

	f, err := filter.New(
		[]string{"", " ", "."},
		[]string{"", "  "},
	)

	require.NoError(t, err)
	assert.True(t, f.Include("anything.txt"))
}

// Ignore precedence invariant: a path matching any ignore
// pattern is excluded regardless of folder membership.
func TestInclude_ignore_precedence(t *testing.T) {
	t.Parallel()

	f, err := filter.New(
		[]string{"kept"},
		[]string{"*.log", "secret/**"},
	)
	require.NoError(t, err)

	assert.False(t, f.Include("kept/run.log"))
	assert.False(t, f.Include("secret/kept/x.txt"))
	assert.True(t, f.Include("kept/run.txt"))
}
