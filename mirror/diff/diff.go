// Package diff classifies the files of a sync pass against
// the persisted fingerprint index.
package diff

import (
	"sort"

	"github.com/byte4ever/gitmirror/mirror/cache"
)

// Changeset partitions the paths of one sync pass into
// added, modified, and deleted. A path appears in exactly
// one partition; unchanged paths appear in none.
type Changeset struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the changeset carries no work.
func (c Changeset) Empty() bool {
	return len(c.Added) == 0 &&
		len(c.Modified) == 0 &&
		len(c.Deleted) == 0
}

// Paths returns all changed paths as one sorted slice.
func (c Changeset) Paths() []string {
	out := make(
		[]string,
		0,
		len(c.Added)+len(c.Modified)+len(c.Deleted),
	)

	out = append(out, c.Added...)
	out = append(out, c.Modified...)
	out = append(out, c.Deleted...)

	sort.Strings(out)

	return out
}

// Classify compares the current scan fingerprints against
// the cached index. A path absent from the cache is added, a
// path with a differing fingerprint is modified, a cached
// path absent from the scan is deleted, and equal
// fingerprints are unchanged. The cache is never mutated.
// Partitions come back sorted for deterministic output.
func Classify(
	current map[string]string,
	cached cache.Index,
) Changeset {
	var cs Changeset

	for path, fp := range current {
		prev, ok := cached[path]

		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case prev != fp:
			cs.Modified = append(cs.Modified, path)
		}
	}

	for path := range cached {
		if _, ok := current[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	return cs
}
