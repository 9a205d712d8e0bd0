//go:build windows

package fileutil

import (
	"io/fs"
	"os"
	"time"
)

// CheckExecutableBitSupport always reports false on Windows; NTFS has no
// executable bit.
func CheckExecutableBitSupport(dir string) (bool, error) { return false, nil }

// CheckSymlinkSupport reports whether symlinks can be created. Creating
// them requires Developer Mode or elevation; probe by attempting one in the
// temp directory.
func CheckSymlinkSupport() (bool, error) {
	dir, err := os.MkdirTemp("", "symlink-probe-")
	if err != nil {
		return false, err
	}
	defer os.RemoveAll(dir)
	err = os.Symlink(dir, dir+"\\link")
	return err == nil, nil
}

// TrySymlink creates a file symlink at link pointing at original. Without
// Developer Mode this fails with ERROR_PRIVILEGE_NOT_HELD.
func TrySymlink(original, link string) error {
	return os.Symlink(original, link)
}

// SetExecutable is a no-op on Windows.
func SetExecutable(path string, executable bool) error { return nil }

// IsExecutable always reports false on Windows.
func IsExecutable(info fs.FileInfo) bool { return false }

// MtimeOf returns the modification time.
func MtimeOf(info fs.FileInfo) time.Time { return info.ModTime() }
