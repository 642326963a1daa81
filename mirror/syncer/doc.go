// Package syncer orchestrates one mirroring pass from a
// local file tree to a hosted git repository.
//
// A pass clones the target shallowly, fingerprints the
// filtered source tree, classifies it against the last
// synced state, applies the changeset on a dedicated
// branch, commits and pushes it, and optionally opens a
// pull request. The fingerprint cache is persisted only
// once the push is durable, so an interrupted pass simply
// retries the same changeset.
//
// Pattern: Facade -- Run hides the filter, fingerprint,
// cache, diff, and git packages behind a single call.
package syncer
