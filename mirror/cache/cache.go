// Package cache persists the fingerprint index of previously
// synced files between invocations. Each (provider,
// repository, branch) triple owns its own index file so
// independent sync targets never interfere. Writes are
// atomic replace-on-write: a failed sync never leaves a
// partially written index behind.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Index maps a relative path to its last-synced fingerprint.
type Index map[string]string

// Clone returns a deep copy of the index.
func (i Index) Clone() Index {
	out := make(Index, len(i))
	for k, v := range i {
		out[k] = v
	}

	return out
}

// Store reads and writes indexes under a single directory
// outside any working copy.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir. The directory is
// created on first write.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Load reads the index for the given sync target. A missing
// index file yields an empty index, not an error.
func (s *Store) Load(
	provider string,
	repository string,
	branch string,
) (Index, error) {
	const errCtx = "loading sync cache"

	fp := s.path(provider, repository, branch)

	data, err := os.ReadFile(fp) //nolint:gosec // path derives from the store dir
	if errors.Is(err, os.ErrNotExist) {
		return Index{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf(
			"%s: parse json: %w", errCtx, err,
		)
	}

	if idx == nil {
		idx = Index{}
	}

	return idx, nil
}

// Save atomically replaces the index for the given sync
// target. The new content is written to a temp file in the
// same directory and renamed over the old one.
func (s *Store) Save(
	provider string,
	repository string,
	branch string,
	idx Index,
) error {
	const errCtx = "saving sync cache"

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf(
			"%s: marshal json: %w", errCtx, err,
		)
	}

	tmp, err := os.CreateTemp(s.dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	fp := s.path(provider, repository, branch)

	if err := os.Rename(tmpName, fp); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// path derives the index file name from the sync target key.
// The sanitized readable form is suffixed with a short hash
// of the raw key so distinct keys never collide after
// sanitization.
func (s *Store) path(
	provider string,
	repository string,
	branch string,
) string {
	raw := provider + "\x00" + repository + "\x00" + branch
	sum := sha256.Sum256([]byte(raw))

	name := sanitize(
		provider + "_" + repository + "_" + branch,
	)

	return filepath.Join(
		s.dir,
		name+"-"+hex.EncodeToString(sum[:4])+".json",
	)
}

// sanitize keeps file names portable.
func sanitize(name string) string {
	var sb strings.Builder

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}

	return sb.String()
}
