//go:build unix

package fileutil

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// CheckExecutableBitSupport reports whether flipping the user executable bit
// on files in dir is permitted and has an observable effect. Filesystems
// such as FAT mounts silently ignore mode changes.
func CheckExecutableBitSupport(dir string) (bool, error) {
	f, err := TempFile(dir, ".exec-probe-")
	if err != nil {
		return false, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	oldMode := info.Mode().Perm()
	newMode := oldMode ^ 0o100
	if err := f.Chmod(newMode); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, nil
		}
		return false, err
	}
	info, err = f.Stat()
	if err != nil {
		return false, err
	}
	return info.Mode().Perm() == newMode, nil
}

// CheckSymlinkSupport reports whether symlinks can be created. Always true
// on Unix.
func CheckSymlinkSupport() (bool, error) { return true, nil }

// TrySymlink creates a symlink at link pointing at original.
func TrySymlink(original, link string) error {
	return os.Symlink(original, link)
}

// SetExecutable sets or clears the user/group/other executable bits.
func SetExecutable(path string, executable bool) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if executable {
		mode |= 0o111 & ^umaskMask()
	} else {
		mode &^= 0o111
	}
	return os.Chmod(path, mode)
}

func umaskMask() os.FileMode {
	// Reading the umask requires setting it; do it once.
	old := unix.Umask(0)
	unix.Umask(old)
	return os.FileMode(old)
}

// IsExecutable reports whether the file mode carries the user exec bit.
func IsExecutable(info fs.FileInfo) bool {
	return info.Mode().Perm()&0o100 != 0
}

// MtimeOf returns the modification time with the full precision the
// platform records.
func MtimeOf(info fs.FileInfo) time.Time {
	return info.ModTime()
}
