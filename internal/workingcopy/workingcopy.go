package workingcopy

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/conflicts"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/fsmonitor"
	"github.com/jj-vcs/jj-go/internal/lock"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
	"github.com/jj-vcs/jj-go/internal/tree"
	"github.com/jj-vcs/jj-go/internal/view"
)

// Options tunes snapshot and checkout behavior.
type Options struct {
	// MaxNewFileSize caps the size of newly tracked files; larger files
	// are reported as untracked.
	MaxNewFileSize uint64
	// AutoTrack controls whether newly seen files are tracked at all.
	AutoTrack bool
	// RespectExecutableBit records exec-bit changes when the platform
	// supports them; otherwise stored bits are preserved.
	RespectExecutableBit bool
	// MarkerStyle selects the conflict marker flavor.
	MarkerStyle conflicts.Style
	// Monitor, when set, is queried for changed paths instead of walking
	// the whole working copy.
	Monitor fsmonitor.Monitor
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxNewFileSize == 0 {
		o.MaxNewFileSize = 1 << 20
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// WorkingCopy owns one workspace's on-disk files and their state index.
// Every mutating method takes the working-copy lock for its duration.
type WorkingCopy struct {
	root      string // workspace root
	statePath string // .jj/working_copy
	store     *store.Store
	opts      Options
}

// CheckoutStats summarizes a checkout.
type CheckoutStats struct {
	Added   int
	Removed int
	Updated int
	// SkippedConflicts counts paths left alone because the on-disk file
	// had unsnapshotted changes.
	SkippedConflicts int
}

// UntrackedReason explains why snapshot left a path untracked.
type UntrackedReason struct {
	// Reason is "file-too-large" or "not-auto-tracked".
	Reason string
	Size   uint64
}

// SnapshotStats reports snapshot side channels.
type SnapshotStats struct {
	UntrackedPaths map[repopath.RepoPath]UntrackedReason
	WatchmanClock  string
}

// Init creates the working-copy state for a fresh workspace.
func Init(s *store.Store, root, statePath string, workspace view.WorkspaceName, opID opstore.OperationID, commitID backend.CommitID, treeID backend.MergedTreeID, opts Options) (*WorkingCopy, error) {
	if err := fileutil.CreateOrReuseDir(statePath); err != nil {
		return nil, &backend.IOError{Op: "create", Path: statePath, Err: err}
	}
	state := NewTreeState()
	state.OpID = opID
	state.CommitID = commitID
	state.TreeID = treeID
	state.Workspace = workspace
	if err := state.Save(statePath); err != nil {
		return nil, err
	}
	return Load(s, root, statePath, opts), nil
}

// Load opens an existing working copy.
func Load(s *store.Store, root, statePath string, opts Options) *WorkingCopy {
	return &WorkingCopy{
		root:      root,
		statePath: statePath,
		store:     s,
		opts:      opts.withDefaults(),
	}
}

// Root returns the workspace root directory.
func (wc *WorkingCopy) Root() string { return wc.root }

// lockPath is the file lock serializing working-copy mutations.
func (wc *WorkingCopy) lockPath() string {
	return filepath.Join(wc.statePath, "working_copy.lock")
}

func (wc *WorkingCopy) locked(fn func(*TreeState) error) error {
	l, err := lock.Lock(wc.lockPath())
	if err != nil {
		return err
	}
	defer l.Unlock()
	state, err := LoadTreeState(wc.statePath)
	if err != nil {
		return err
	}
	return fn(state)
}

// State loads the persisted state without taking the lock. Read-only
// callers (status display, staleness checks) use this.
func (wc *WorkingCopy) State() (*TreeState, error) {
	return LoadTreeState(wc.statePath)
}

// CheckStale returns a StaleWorkingCopyError when the working copy was
// last updated at a different operation than the repo's current one.
func (wc *WorkingCopy) CheckStale(currentOp opstore.OperationID) error {
	state, err := wc.State()
	if err != nil {
		return err
	}
	if state.OpID != currentOp {
		return &backend.StaleWorkingCopyError{
			AtOp:       state.OpID.Hex(),
			ExpectedOp: currentOp.Hex(),
		}
	}
	return nil
}

// ResetTo repoints the working copy at an operation and commit without
// touching any file on disk. File states are marked so the next snapshot
// rehashes everything; this is the "update stale" recovery step.
func (wc *WorkingCopy) ResetTo(ctx context.Context, opID opstore.OperationID, commitID backend.CommitID, treeID backend.MergedTreeID) error {
	return wc.locked(func(state *TreeState) error {
		newTree, err := tree.Root(ctx, wc.store, treeID)
		if err != nil {
			return err
		}
		fresh := NewTreeState()
		fresh.OpID = opID
		fresh.CommitID = commitID
		fresh.TreeID = treeID
		fresh.Workspace = state.Workspace
		fresh.SparsePatterns = state.SparsePatterns
		fresh.WatchmanClock = state.WatchmanClock
		err = newTree.Entries(ctx, fresh.SparseMatcher(), func(p repopath.RepoPath, v merge.Merge[backend.TreeValue]) error {
			fresh.SetFileState(p, FileState{Kind: kindOf(v), MtimeMillis: 0, Size: -1})
			return nil
		})
		if err != nil {
			return err
		}
		return fresh.Save(wc.statePath)
	})
}

// RecordOperation updates the checkout record after the caller committed
// an operation for a snapshot the working copy already reflects. File
// states are left untouched.
func (wc *WorkingCopy) RecordOperation(opID opstore.OperationID, commitID backend.CommitID) error {
	return wc.locked(func(state *TreeState) error {
		state.OpID = opID
		state.CommitID = commitID
		return state.Save(wc.statePath)
	})
}

// kindOf classifies a merged tree value for the file-state index.
func kindOf(m merge.Merge[backend.TreeValue]) FileKind {
	if v, ok := m.AsResolved(); ok {
		if v.Kind == backend.TreeValueSymlink {
			return KindSymlink
		}
		return KindFile
	}
	return KindConflict
}
