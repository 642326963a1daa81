// Package fingerprint computes content fingerprints used to
// detect file changes between sync passes. A fingerprint is
// the SHA256 hex digest of the file content.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// File computes the SHA256 hex fingerprint of the file at
// path.
func File(path string) (result string, retErr error) {
	const errCtx = "fingerprinting file"

	fi, err := os.Open(path) //nolint:gosec // path is caller-provided by design
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	defer func() {
		if closeErr := fi.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("%s: %w", errCtx, closeErr)
		}
	}()

	ha := sha256.New()

	if _, err := io.Copy(ha, fi); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return hex.EncodeToString(ha.Sum(nil)), nil
}

// Tree fingerprints the given paths (relative to root) with
// bounded parallelism and returns a map from relative path
// to fingerprint. Hashing is read-only so completion order
// does not matter. progress, if non-nil, is called after
// each file with the number of files done and the total.
func Tree(
	ctx context.Context,
	root string,
	paths []string,
	parallelism int,
	progress func(done, total int),
) (map[string]string, error) {
	const errCtx = "fingerprinting tree"

	if parallelism <= 0 {
		parallelism = 1
	}

	var (
		mu   sync.Mutex
		done int
	)

	result := make(map[string]string, len(paths))
	total := len(paths)

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(parallelism)

	for _, rel := range paths {
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}

			fp, err := File(filepath.Join(root, rel))
			if err != nil {
				return fmt.Errorf(
					"%s: %s: %w", errCtx, rel, err,
				)
			}

			mu.Lock()
			result[rel] = fp
			done++

			if progress != nil {
				progress(done, total)
			}
			mu.Unlock()

			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}
