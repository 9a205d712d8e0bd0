// Package fileutil implements the filesystem primitives shared by the
// object stores and the working copy: atomic content-addressed persist,
// temp files, and path normalization.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CreateOrReuseDir creates a directory, or does nothing if it already
// exists. Intermediate directories must already exist.
func CreateOrReuseDir(dirname string) error {
	err := os.Mkdir(dirname, 0o755)
	if err == nil {
		return nil
	}
	if info, statErr := os.Stat(dirname); statErr == nil && info.IsDir() {
		return nil
	}
	return err
}

// RemoveDirContents removes all files in the directory, but not the
// directory itself. The directory must contain no subdirectories.
func RemoveDirContents(dirname string) error {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", dirname, err)
	}
	for _, entry := range entries {
		p := filepath.Join(dirname, entry.Name())
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("cannot access %s: %w", p, err)
		}
	}
	return nil
}

// ExpandHomePath expands a leading "~/" to the user's home directory.
func ExpandHomePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// NormalizePath consumes as many ".." and "." components as possible
// without consulting the filesystem.
func NormalizePath(path string) string {
	return filepath.Clean(path)
}

// RelativePath turns the target into a path relative to from. Both paths
// are expected to be absolute and normalized the same way. If no relative
// form exists, the target is returned unchanged.
func RelativePath(from, to string) string {
	rel, err := filepath.Rel(from, to)
	if err != nil {
		return to
	}
	return rel
}

// TempFile creates a uniquely named file in dir. The caller is responsible
// for persisting or removing it.
func TempFile(dir, prefix string) (*os.File, error) {
	name := filepath.Join(dir, prefix+uuid.NewString())
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
}

// PersistTempFile atomically renames a closed temp file to its target.
func PersistTempFile(tempPath, target string) error {
	return os.Rename(tempPath, target)
}

// PersistContentAddressed renames a temp file to a content-addressed
// target. If the rename fails but the target already exists, the write is
// treated as a success: content addressing implies the existing file holds
// identical bytes.
func PersistContentAddressed(tempPath, target string) error {
	if err := os.Rename(tempPath, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			_ = os.Remove(tempPath)
			return nil
		}
		return err
	}
	return nil
}

// WriteFileAtomic writes contents to target via a temp file in the same
// directory followed by a rename.
func WriteFileAtomic(target string, contents []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	f, err := TempFile(dir, ".tmp-")
	if err != nil {
		return err
	}
	tempPath := f.Name()
	if _, err := f.Write(contents); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
