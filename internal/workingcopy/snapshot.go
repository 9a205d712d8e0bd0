package workingcopy

import (
	"bytes"
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/conflicts"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/tree"
)

const (
	// UntrackedFileTooLarge marks files above the snapshot size cap.
	UntrackedFileTooLarge = "file-too-large"
	// UntrackedNotAutoTracked marks files skipped because auto-tracking
	// is off.
	UntrackedNotAutoTracked = "not-auto-tracked"
)

type candidate struct {
	path repopath.RepoPath
	info os.FileInfo
}

type snapshotResult struct {
	path  repopath.RepoPath
	value merge.Merge[backend.TreeValue]
	state FileState
}

// Snapshot scans the working copy for changes and writes a new tree. It
// returns the new tree id; the caller decides what commit to attach it
// to. The working-copy lock is held for the duration.
func (wc *WorkingCopy) Snapshot(ctx context.Context) (backend.MergedTreeID, SnapshotStats, error) {
	stats := SnapshotStats{UntrackedPaths: map[repopath.RepoPath]UntrackedReason{}}
	var newTreeID backend.MergedTreeID

	err := wc.locked(func(state *TreeState) error {
		start := time.Now()
		oldTree, err := tree.Root(ctx, wc.store, state.TreeID)
		if err != nil {
			return err
		}
		matcher := state.SparseMatcher()
		execSupported, _ := fileutil.CheckExecutableBitSupport(wc.root)

		onDisk, full, err := wc.collectCandidates(state, matcher)
		if err != nil {
			return err
		}

		var toSnapshot []candidate
		seen := map[repopath.RepoPath]struct{}{}
		for _, c := range onDisk {
			seen[c.path] = struct{}{}
			recorded, tracked := state.GetFileState(c.path)
			if !tracked {
				if !wc.opts.AutoTrack {
					stats.UntrackedPaths[c.path] = UntrackedReason{Reason: UntrackedNotAutoTracked, Size: uint64(c.info.Size())}
					continue
				}
				if uint64(c.info.Size()) > wc.opts.MaxNewFileSize {
					wc.opts.Logger.Debug("file too large to track",
						zap.String("path", c.path.String()),
						zap.String("size", humanize.Bytes(uint64(c.info.Size()))))
					stats.UntrackedPaths[c.path] = UntrackedReason{Reason: UntrackedFileTooLarge, Size: uint64(c.info.Size())}
					continue
				}
				toSnapshot = append(toSnapshot, c)
				continue
			}
			if wc.unchanged(recorded, c.info, execSupported) {
				continue
			}
			toSnapshot = append(toSnapshot, c)
		}

		// Deletions: tracked paths that vanished. A full walk treats every
		// unseen tracked path as deleted; a monitor-driven snapshot checks
		// each unseen tracked path on disk.
		var deleted []repopath.RepoPath
		state.WalkFileStates(func(p repopath.RepoPath, _ FileState) bool {
			if !matcher.Matches(p) {
				return true
			}
			if _, ok := seen[p]; ok {
				return true
			}
			if full {
				deleted = append(deleted, p)
				return true
			}
			if _, err := os.Lstat(p.FSPath(wc.root)); os.IsNotExist(err) {
				deleted = append(deleted, p)
			}
			return true
		})

		results := make([]snapshotResult, len(toSnapshot))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(wc.store.Concurrency())
		for i, c := range toSnapshot {
			g.Go(func() error {
				res, err := wc.snapshotPath(gctx, state, oldTree, c, execSupported, start)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		builder := tree.NewMergedBuilder(wc.store, state.TreeID)
		for _, res := range results {
			builder.SetOrRemove(res.path, res.value)
			state.SetFileState(res.path, res.state)
		}
		for _, p := range deleted {
			builder.SetOrRemove(p, merge.Resolved(backend.TreeValue{}))
			state.RemoveFileState(p)
		}

		newTreeID, err = builder.Write(ctx)
		if err != nil {
			return err
		}
		state.TreeID = newTreeID
		stats.WatchmanClock = state.WatchmanClock
		return state.Save(wc.statePath)
	})
	if err != nil {
		return backend.MergedTreeID{}, SnapshotStats{}, err
	}
	return newTreeID, stats, nil
}

// collectCandidates lists the paths to inspect: everything under the
// sparse matcher on a full walk, or the monitor-reported set.
func (wc *WorkingCopy) collectCandidates(state *TreeState, matcher repopath.Matcher) ([]candidate, bool, error) {
	if wc.opts.Monitor != nil {
		changed, clock, err := wc.opts.Monitor.Query(state.WatchmanClock)
		if err != nil {
			wc.opts.Logger.Warn("fsmonitor query failed, falling back to full walk", zap.Error(err))
		} else {
			hadClock := state.WatchmanClock != ""
			state.WatchmanClock = clock
			if hadClock {
				var out []candidate
				for _, p := range changed {
					if !matcher.Matches(p) {
						continue
					}
					info, err := os.Lstat(p.FSPath(wc.root))
					if err != nil {
						// Deleted; the deletion scan below handles it.
						continue
					}
					if info.IsDir() {
						continue
					}
					out = append(out, candidate{path: p, info: info})
				}
				sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
				return out, false, nil
			}
		}
	}

	var out []candidate
	var mu sync.Mutex
	err := wc.walkDisk(repopath.Root(), matcher, newIgnoreStack(), func(p repopath.RepoPath, info os.FileInfo) {
		mu.Lock()
		out = append(out, candidate{path: p, info: info})
		mu.Unlock()
	}, state)
	if err != nil {
		return nil, false, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, true, nil
}

// walkDisk recursively visits files under dir, honoring the sparse
// matcher and .gitignore files. Ignored files that are already tracked
// are still visited.
func (wc *WorkingCopy) walkDisk(dir repopath.RepoPath, matcher repopath.Matcher, ignores *ignoreStack, visit func(repopath.RepoPath, os.FileInfo), state *TreeState) error {
	full := dir.FSPath(wc.root)
	entries, err := os.ReadDir(full)
	if err != nil {
		return &backend.IOError{Op: "read", Path: full, Err: err}
	}
	ignores = ignores.push(dir, full)
	for _, entry := range entries {
		name := entry.Name()
		if dir.IsRoot() && name == ".jj" {
			continue
		}
		p := dir.Join(name)
		if entry.IsDir() {
			if !matcher.VisitDir(p) {
				continue
			}
			if ignores.ignored(p, true) && !wc.hasTrackedUnder(state, p) {
				continue
			}
			if err := wc.walkDisk(p, matcher, ignores, visit, state); err != nil {
				return err
			}
			continue
		}
		if !matcher.Matches(p) {
			continue
		}
		_, tracked := state.GetFileState(p)
		if !tracked && ignores.ignored(p, false) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		visit(p, info)
	}
	return nil
}

func (wc *WorkingCopy) hasTrackedUnder(state *TreeState, dir repopath.RepoPath) bool {
	found := false
	state.WalkFileStates(func(p repopath.RepoPath, _ FileState) bool {
		if p.HasPrefix(dir) {
			found = true
			return false
		}
		return true
	})
	return found
}

// unchanged reports whether the recorded state proves the file content is
// what we already stored.
func (wc *WorkingCopy) unchanged(recorded FileState, info os.FileInfo, execSupported bool) bool {
	if recorded.MtimeMillis == 0 || recorded.Size < 0 {
		return false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		if recorded.Kind != KindSymlink {
			return false
		}
	} else if recorded.Kind == KindSymlink {
		return false
	}
	if info.Size() != recorded.Size || fileutil.MtimeOf(info).UnixMilli() != recorded.MtimeMillis {
		return false
	}
	if wc.opts.RespectExecutableBit && execSupported && recorded.Kind == KindFile {
		if fileutil.IsExecutable(info) != recorded.Executable {
			return false
		}
	}
	return true
}

// snapshotPath reads one changed path and stores its new value.
func (wc *WorkingCopy) snapshotPath(ctx context.Context, state *TreeState, oldTree *tree.MergedTree, c candidate, execSupported bool, start time.Time) (snapshotResult, error) {
	recorded, tracked := state.GetFileState(c.path)
	target := c.path.FSPath(wc.root)

	newState := func(kind FileKind, executable bool) FileState {
		fs := FileState{Kind: kind, Size: c.info.Size(), Executable: executable}
		mtime := fileutil.MtimeOf(c.info)
		// A write within the snapshot's mtime granularity could be
		// followed by another one we would never notice; force a rehash
		// next time.
		if !mtime.Before(start.Truncate(time.Millisecond)) {
			fs.MtimeMillis = 0
		} else {
			fs.MtimeMillis = mtime.UnixMilli()
		}
		return fs
	}

	if c.info.Mode()&os.ModeSymlink != 0 {
		linkTarget, err := os.Readlink(target)
		if err != nil {
			return snapshotResult{}, &backend.IOError{Op: "readlink", Path: target, Err: err}
		}
		id, err := wc.store.WriteSymlink(ctx, c.path, linkTarget)
		if err != nil {
			return snapshotResult{}, err
		}
		return snapshotResult{
			path:  c.path,
			value: merge.Resolved(backend.SymlinkValue(id)),
			state: newState(KindSymlink, false),
		}, nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return snapshotResult{}, &backend.IOError{Op: "read", Path: target, Err: err}
	}

	if tracked && recorded.Kind == KindConflict {
		if parsed, ok := conflicts.Parse(string(data)); ok {
			value, err := wc.storeConflictTerms(ctx, c.path, parsed)
			if err != nil {
				return snapshotResult{}, err
			}
			return snapshotResult{path: c.path, value: value, state: newState(KindConflict, false)}, nil
		}
		// The user resolved the conflict; fall through to a plain file.
	}

	executable := wc.executableFor(ctx, c, recorded, tracked, oldTree, execSupported)
	id, err := wc.store.WriteFile(ctx, c.path, bytes.NewReader(data))
	if err != nil {
		return snapshotResult{}, err
	}
	return snapshotResult{
		path:  c.path,
		value: merge.Resolved(backend.FileValue(id, executable)),
		state: newState(KindFile, executable),
	}, nil
}

// executableFor decides the stored exec bit: the on-disk bit when the
// platform and config allow, the previously stored bit otherwise.
func (wc *WorkingCopy) executableFor(ctx context.Context, c candidate, recorded FileState, tracked bool, oldTree *tree.MergedTree, execSupported bool) bool {
	if wc.opts.RespectExecutableBit && execSupported {
		return fileutil.IsExecutable(c.info)
	}
	if tracked {
		return recorded.Executable
	}
	if value, err := oldTree.PathValue(ctx, c.path); err == nil {
		if v, ok := value.AsResolved(); ok && v.Kind == backend.TreeValueFile {
			return v.Executable
		}
	}
	return false
}

// storeConflictTerms writes each term of an edited conflict back to the
// store, reconstructing the merged value the markers came from.
func (wc *WorkingCopy) storeConflictTerms(ctx context.Context, p repopath.RepoPath, parsed merge.Merge[string]) (merge.Merge[backend.TreeValue], error) {
	return merge.TryMap(parsed, func(content string) (backend.TreeValue, error) {
		if content == "" {
			return backend.TreeValue{}, nil
		}
		id, err := wc.store.WriteFile(ctx, p, bytes.NewReader([]byte(content)))
		if err != nil {
			return backend.TreeValue{}, err
		}
		return backend.FileValue(id, false), nil
	})
}
