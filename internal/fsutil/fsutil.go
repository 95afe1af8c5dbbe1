// Package fsutil holds the destructive filesystem helpers used by the backup
// lifecycle. Every removal is confined to a managed root directory.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideManagedRoot is returned when a removal targets a path that is
	// not lexically below the managed root. It always indicates a logic error.
	ErrOutsideManagedRoot = errors.New("path outside managed root")
	// ErrIO wraps unexpected filesystem failures.
	ErrIO = errors.New("filesystem operation failed")
	// ErrNotDirectory is returned when a directory was expected.
	ErrNotDirectory = errors.New("not a directory")
)

// EnsureDirectoryExist creates dirPath and its parents if needed.
func EnsureDirectoryExist(dirPath string) error {
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dirPath, err)
	}
	return nil
}

// Within reports whether path is lexically below root. root itself is not
// considered to be within root.
func Within(path, root string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// RemoveManagedDirectory deletes the directory tree at path. It refuses any
// path outside root before touching the filesystem. A path that no longer
// exists is not an error.
func RemoveManagedDirectory(path, root string) error {
	if !Within(path, root) {
		return fmt.Errorf("%w: refusing to remove %q (root %q)", ErrOutsideManagedRoot, path, root)
	}

	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: stat %q: %v", ErrIO, path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrNotDirectory, path)
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: remove %q: %v", ErrIO, path, err)
	}
	return nil
}

// Wipe removes every entry directly under dir, files and subtrees alike,
// leaving dir itself in place. dir must exist.
func Wipe(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: stat %q: %v", ErrIO, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q", ErrNotDirectory, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: list %q: %v", ErrIO, dir, err)
	}
	for _, entry := range entries {
		target := filepath.Join(dir, entry.Name())
		if !Within(target, dir) {
			return fmt.Errorf("%w: refusing to remove %q (root %q)", ErrOutsideManagedRoot, target, dir)
		}
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("%w: remove %q: %v", ErrIO, target, err)
		}
	}
	return nil
}
