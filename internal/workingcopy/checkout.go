package workingcopy

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/conflicts"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/tree"
)

// Checkout updates the working copy from its recorded tree to newTree and
// records the new operation and commit. Paths with unsnapshotted local
// changes are skipped and counted in the returned stats.
func (wc *WorkingCopy) Checkout(ctx context.Context, opID opstore.OperationID, commitID backend.CommitID, newTree *tree.MergedTree) (CheckoutStats, error) {
	var stats CheckoutStats
	err := wc.locked(func(state *TreeState) error {
		oldTree, err := tree.Root(ctx, wc.store, state.TreeID)
		if err != nil {
			return err
		}
		matcher := state.SparseMatcher()
		err = oldTree.Diff(ctx, newTree, matcher, func(e tree.DiffEntry) error {
			return wc.applyDiffEntry(ctx, state, e, &stats)
		})
		if err != nil {
			return err
		}
		state.OpID = opID
		state.CommitID = commitID
		state.TreeID = newTree.ID()
		return state.Save(wc.statePath)
	})
	if err != nil {
		return CheckoutStats{}, err
	}
	wc.opts.Logger.Debug("checkout finished",
		zap.Int("added", stats.Added),
		zap.Int("removed", stats.Removed),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.SkippedConflicts))
	return stats, nil
}

func (wc *WorkingCopy) applyDiffEntry(ctx context.Context, state *TreeState, e tree.DiffEntry, stats *CheckoutStats) error {
	target := e.Path.FSPath(wc.root)
	afterAbsent := isWhollyAbsent(e.After)
	beforeAbsent := isWhollyAbsent(e.Before)

	diskInfo, diskErr := os.Lstat(target)
	diskExists := diskErr == nil

	switch {
	case afterAbsent:
		if !diskExists {
			state.RemoveFileState(e.Path)
			stats.Removed++
			return nil
		}
		safe, err := wc.safeToOverwrite(ctx, state, e.Path, diskInfo, e.Before)
		if err != nil {
			return err
		}
		if !safe {
			stats.SkippedConflicts++
			return nil
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return &backend.IOError{Op: "remove", Path: target, Err: err}
		}
		wc.removeEmptyParents(e.Path)
		state.RemoveFileState(e.Path)
		stats.Removed++
	case beforeAbsent:
		// Added. A file already on disk is a local change we must not
		// clobber.
		if diskExists {
			stats.SkippedConflicts++
			return nil
		}
		if err := wc.writeValue(ctx, state, e.Path, e.After); err != nil {
			return err
		}
		stats.Added++
	default:
		if !diskExists {
			// Locally deleted; leave the user's deletion alone.
			stats.SkippedConflicts++
			return nil
		}
		safe, err := wc.safeToOverwrite(ctx, state, e.Path, diskInfo, e.Before)
		if err != nil {
			return err
		}
		if !safe {
			stats.SkippedConflicts++
			return nil
		}
		if err := wc.writeValue(ctx, state, e.Path, e.After); err != nil {
			return err
		}
		stats.Updated++
	}
	return nil
}

func isWhollyAbsent(m merge.Merge[backend.TreeValue]) bool {
	for _, v := range m.Terms() {
		if !v.IsAbsent() {
			return false
		}
	}
	return true
}

// safeToOverwrite reports whether the on-disk file is still the state we
// materialized, so checkout may replace it. The stat record answers most
// cases; when the mtime sentinel makes the record inconclusive, the disk
// contents are compared against the value being replaced.
func (wc *WorkingCopy) safeToOverwrite(ctx context.Context, state *TreeState, p repopath.RepoPath, info os.FileInfo, before merge.Merge[backend.TreeValue]) (bool, error) {
	recorded, tracked := state.GetFileState(p)
	if !tracked {
		return false, nil
	}
	target := p.FSPath(wc.root)

	if recorded.Kind == KindSymlink && info.Mode()&os.ModeSymlink != 0 {
		linkTarget, err := os.Readlink(target)
		if err != nil {
			return false, nil
		}
		v, ok := before.AsResolved()
		if !ok || v.Kind != backend.TreeValueSymlink {
			return false, nil
		}
		want, err := wc.store.ReadSymlink(ctx, p, v.Symlink)
		if err != nil {
			return false, err
		}
		return linkTarget == want, nil
	}

	if recorded.MtimeMillis != 0 && recorded.Size >= 0 {
		return info.Size() == recorded.Size &&
			fileutil.MtimeOf(info).UnixMilli() == recorded.MtimeMillis, nil
	}

	// Sentinel mtime: compare contents with what the old tree holds.
	data, err := os.ReadFile(target)
	if err != nil {
		return false, nil
	}
	contents, err := wc.fileContentsMerge(ctx, p, before)
	if err != nil {
		return false, err
	}
	want := conflicts.Materialize(contents, wc.opts.MarkerStyle)
	return string(data) == want, nil
}

// writeValue materializes a merged value at path and records its state.
func (wc *WorkingCopy) writeValue(ctx context.Context, state *TreeState, p repopath.RepoPath, value merge.Merge[backend.TreeValue]) error {
	if err := wc.ensureParentDirs(p); err != nil {
		return err
	}
	target := p.FSPath(wc.root)

	if v, ok := value.AsResolved(); ok {
		switch v.Kind {
		case backend.TreeValueFile:
			size, err := wc.writeFileContent(ctx, p, target, v.File, v.Executable)
			if err != nil {
				return err
			}
			wc.recordState(state, p, target, FileState{Kind: KindFile, Size: size, Executable: v.Executable})
			return nil
		case backend.TreeValueSymlink:
			linkTarget, err := wc.store.ReadSymlink(ctx, p, v.Symlink)
			if err != nil {
				return err
			}
			return wc.writeSymlink(state, p, target, linkTarget)
		default:
			return &backend.CorruptObjectError{ID: p.String(), Reason: "unexpected tree value in checkout"}
		}
	}

	// A conflicted value materializes as marker text.
	contentMerge, err := wc.fileContentsMerge(ctx, p, value)
	if err != nil {
		return err
	}
	text := conflicts.Materialize(contentMerge, wc.opts.MarkerStyle)
	if err := wc.writeBytes(target, []byte(text)); err != nil {
		return err
	}
	wc.recordState(state, p, target, FileState{Kind: KindConflict, Size: int64(len(text))})
	return nil
}

// fileContentsMerge loads the file contents of each merge term. Absent
// terms become empty contents; symlink terms use their target text.
func (wc *WorkingCopy) fileContentsMerge(ctx context.Context, p repopath.RepoPath, value merge.Merge[backend.TreeValue]) (merge.Merge[string], error) {
	return merge.TryMap(value, func(v backend.TreeValue) (string, error) {
		switch v.Kind {
		case backend.TreeValueAbsent:
			return "", nil
		case backend.TreeValueFile:
			r, err := wc.store.ReadFile(ctx, p, v.File)
			if err != nil {
				return "", err
			}
			defer r.Close()
			data, err := io.ReadAll(r)
			if err != nil {
				return "", err
			}
			return string(data), nil
		case backend.TreeValueSymlink:
			return wc.store.ReadSymlink(ctx, p, v.Symlink)
		default:
			return "", &backend.MergeConflictError{Path: p.String()}
		}
	})
}

func (wc *WorkingCopy) writeFileContent(ctx context.Context, p repopath.RepoPath, target string, id backend.FileID, executable bool) (int64, error) {
	r, err := wc.store.ReadFile(ctx, p, id)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	f, err := fileutil.TempFile(filepath.Dir(target), ".jj-checkout-")
	if err != nil {
		return 0, &backend.IOError{Op: "create temp near", Path: target, Err: err}
	}
	tempPath := f.Name()
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, &backend.IOError{Op: "write", Path: tempPath, Err: err}
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return 0, &backend.IOError{Op: "rename to", Path: target, Err: err}
	}
	if executable {
		if supported, _ := fileutil.CheckExecutableBitSupport(filepath.Dir(target)); supported {
			if err := fileutil.SetExecutable(target, true); err != nil {
				return 0, &backend.IOError{Op: "chmod", Path: target, Err: err}
			}
		}
	}
	return size, nil
}

func (wc *WorkingCopy) writeSymlink(state *TreeState, p repopath.RepoPath, target, linkTarget string) error {
	supported, _ := fileutil.CheckSymlinkSupport()
	if supported {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return &backend.IOError{Op: "remove", Path: target, Err: err}
		}
		if err := fileutil.TrySymlink(linkTarget, target); err != nil {
			return &backend.IOError{Op: "symlink", Path: target, Err: err}
		}
		wc.recordState(state, p, target, FileState{Kind: KindSymlink, Size: int64(len(linkTarget))})
		return nil
	}
	// No symlink support: write the target text as a regular file but
	// remember it is a symlink.
	if err := wc.writeBytes(target, []byte(linkTarget)); err != nil {
		return err
	}
	wc.recordState(state, p, target, FileState{Kind: KindSymlink, Size: int64(len(linkTarget))})
	return nil
}

func (wc *WorkingCopy) writeBytes(target string, data []byte) error {
	f, err := fileutil.TempFile(filepath.Dir(target), ".jj-checkout-")
	if err != nil {
		return &backend.IOError{Op: "create temp near", Path: target, Err: err}
	}
	tempPath := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(tempPath)
		if werr == nil {
			werr = cerr
		}
		return &backend.IOError{Op: "write", Path: tempPath, Err: werr}
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return &backend.IOError{Op: "rename to", Path: target, Err: err}
	}
	return nil
}

// recordState samples the written file and stores its state. A symlink
// state skips the stat sampling, which is unreliable for links.
func (wc *WorkingCopy) recordState(state *TreeState, p repopath.RepoPath, target string, fs FileState) {
	if fs.Kind != KindSymlink {
		if info, err := os.Lstat(target); err == nil {
			fs.MtimeMillis = fileutil.MtimeOf(info).UnixMilli()
			fs.Size = info.Size()
		}
	} else {
		fs.MtimeMillis = time.Now().UnixMilli()
	}
	state.SetFileState(p, fs)
}

func (wc *WorkingCopy) ensureParentDirs(p repopath.RepoPath) error {
	dir := filepath.Dir(p.FSPath(wc.root))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &backend.IOError{Op: "create", Path: dir, Err: err}
	}
	return nil
}

// removeEmptyParents removes now-empty parent directories up to, but not
// including, the workspace root.
func (wc *WorkingCopy) removeEmptyParents(p repopath.RepoPath) {
	for dir := p.Parent(); !dir.IsRoot(); dir = dir.Parent() {
		full := dir.FSPath(wc.root)
		entries, err := os.ReadDir(full)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(full) != nil {
			return
		}
	}
}
