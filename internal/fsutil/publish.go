// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Publish moves src to dst with a single rename. The parent of dst is
// created first. If dst already exists the existing output wins and src is
// removed, so a duplicate attempt never replaces a published result.
// src and dst must be on the same filesystem.
func Publish(src, dst string) (existed bool, err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return false, fmt.Errorf("create parent: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return true, os.RemoveAll(src)
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.Rename(src, dst); err != nil {
		// lost a race with a concurrent publisher
		if _, statErr := os.Lstat(dst); statErr == nil {
			return true, os.RemoveAll(src)
		}
		return false, fmt.Errorf("publish %s: %w", dst, err)
	}
	return false, syncDir(filepath.Dir(dst))
}

// syncDir flushes a directory entry so a rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 -- dir is derived from a confined path
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}

// DirSize sums the sizes of regular files under root.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
