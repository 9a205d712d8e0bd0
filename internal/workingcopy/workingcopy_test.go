package workingcopy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/fsmonitor"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
	"github.com/jj-vcs/jj-go/internal/testutil"
	"github.com/jj-vcs/jj-go/internal/tree"
	"github.com/jj-vcs/jj-go/internal/view"
)

type env struct {
	store *store.Store
	root  string
	wc    *WorkingCopy
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	s := testutil.NewStore(t)
	root := t.TempDir()
	statePath := filepath.Join(root, ".jj", "working_copy")
	require.NoError(t, os.MkdirAll(statePath, 0o755))
	wc, err := Init(s, root, statePath, view.DefaultWorkspaceName,
		opstore.OperationID("op-0"), s.RootCommitID(), s.EmptyMergedTreeID(), opts)
	require.NoError(t, err)
	return &env{store: s, root: root, wc: wc}
}

func (e *env) buildTree(t *testing.T, files map[string]string) *tree.MergedTree {
	t.Helper()
	ctx := context.Background()
	b := tree.NewBuilder(e.store, e.store.EmptyTreeID())
	for path, contents := range files {
		p := repopath.New(path)
		b.Set(p, testutil.FileValue(t, e.store, p, contents))
	}
	id, err := b.Write(ctx)
	require.NoError(t, err)
	mt, err := tree.Root(ctx, e.store, backend.ResolvedTreeID(id))
	require.NoError(t, err)
	return mt
}

func (e *env) checkout(t *testing.T, mt *tree.MergedTree, op string) CheckoutStats {
	t.Helper()
	stats, err := e.wc.Checkout(context.Background(), opstore.OperationID(op), backend.CommitID("commit-"+op), mt)
	require.NoError(t, err)
	return stats
}

func (e *env) readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.root, filepath.FromSlash(path)))
	require.NoError(t, err)
	return string(data)
}

func (e *env) writeFile(t *testing.T, path, contents string) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
}

func TestCheckoutMaterializesFiles(t *testing.T) {
	e := newEnv(t, Options{AutoTrack: true})
	mt := e.buildTree(t, map[string]string{"file": "top", "dir/sub": "nested"})
	stats := e.checkout(t, mt, "op-1")

	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, "top", e.readFile(t, "file"))
	assert.Equal(t, "nested", e.readFile(t, "dir/sub"))

	state, err := e.wc.State()
	require.NoError(t, err)
	assert.Equal(t, 2, state.FileStateCount())
	assert.Equal(t, opstore.OperationID("op-1"), state.OpID)
}

func TestCheckoutRemovesFilesAndEmptyDirs(t *testing.T) {
	e := newEnv(t, Options{AutoTrack: true})
	e.checkout(t, e.buildTree(t, map[string]string{"dir/only": "x", "keep": "k"}), "op-1")

	stats := e.checkout(t, e.buildTree(t, map[string]string{"keep": "k"}), "op-2")
	assert.Equal(t, 1, stats.Removed)
	_, err := os.Stat(filepath.Join(e.root, "dir"))
	assert.True(t, os.IsNotExist(err), "empty parent dir must be removed")
	assert.Equal(t, "k", e.readFile(t, "keep"))
}

func TestCheckoutSkipsLocalChanges(t *testing.T) {
	e := newEnv(t, Options{AutoTrack: true})
	e.checkout(t, e.buildTree(t, map[string]string{"file": "v1"}), "op-1")

	// Local edit with a clearly different mtime.
	e.writeFile(t, "file", "local edit")
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(e.root, "file"), past, past))

	stats := e.checkout(t, e.buildTree(t, map[string]string{"file": "v2"}), "op-2")
	assert.Equal(t, 1, stats.SkippedConflicts)
	assert.Equal(t, "local edit", e.readFile(t, "file"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})
	mt := e.buildTree(t, map[string]string{"a": "1", "dir/b": "2"})
	e.checkout(t, mt, "op-1")

	got, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, merge.Equal(mt.ID(), got), "snapshot(checkout(T)) must equal T")
}

func TestSnapshotDetectsChangeWithinMtimeGranularity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})

	// First snapshot records the freshly written file; when the write fell
	// in the snapshot start's millisecond, the record gets the sentinel mtime.
	e.writeFile(t, "f", "a")
	_, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)

	// Same wall-clock instant, same size, new content.
	e.writeFile(t, "f", "b")
	treeID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)

	mt, err := tree.Root(ctx, e.store, treeID)
	require.NoError(t, err)
	v, err := mt.PathValue(ctx, repopath.New("f"))
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	wantID := testutil.WriteFile(t, e.store, repopath.New("f"), "b")
	assert.Equal(t, wantID, rv.File)
}

func TestSnapshotDeletion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})
	e.checkout(t, e.buildTree(t, map[string]string{"gone": "x", "stay": "y"}), "op-1")

	require.NoError(t, os.Remove(filepath.Join(e.root, "gone")))
	treeID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)

	mt, err := tree.Root(ctx, e.store, treeID)
	require.NoError(t, err)
	v, err := mt.PathValue(ctx, repopath.New("gone"))
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	assert.True(t, rv.IsAbsent())

	state, err := e.wc.State()
	require.NoError(t, err)
	_, tracked := state.GetFileState(repopath.New("gone"))
	assert.False(t, tracked)
}

func TestSnapshotUntrackedReasons(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true, MaxNewFileSize: 4})
	e.writeFile(t, "small", "ok")
	e.writeFile(t, "large", "way too big for the cap")

	_, stats, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	reason, ok := stats.UntrackedPaths[repopath.New("large")]
	require.True(t, ok)
	assert.Equal(t, UntrackedFileTooLarge, reason.Reason)
	assert.Equal(t, uint64(len("way too big for the cap")), reason.Size)
	_, small := stats.UntrackedPaths[repopath.New("small")]
	assert.False(t, small)

	e2 := newEnv(t, Options{AutoTrack: false})
	e2.writeFile(t, "new", "x")
	_, stats2, err := e2.wc.Snapshot(ctx)
	require.NoError(t, err)
	reason2, ok := stats2.UntrackedPaths[repopath.New("new")]
	require.True(t, ok)
	assert.Equal(t, UntrackedNotAutoTracked, reason2.Reason)
}

func TestSparseRestriction(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})
	mt := e.buildTree(t, map[string]string{"dir1/x": "1", "dir2/y": "2"})
	e.checkout(t, mt, "op-1")

	stats, err := e.wc.SetSparsePatterns(ctx, []repopath.RepoPath{repopath.New("dir2")})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)

	_, err = os.Stat(filepath.Join(e.root, "dir1", "x"))
	assert.True(t, os.IsNotExist(err), "dir1/x must be gone from disk")
	assert.Equal(t, "2", e.readFile(t, "dir2/y"))

	// The excluded file stays in the tree across snapshots.
	treeID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	snap, err := tree.Root(ctx, e.store, treeID)
	require.NoError(t, err)
	v, err := snap.PathValue(ctx, repopath.New("dir1/x"))
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	assert.Equal(t, backend.TreeValueFile, rv.Kind)

	// Widening back rematerializes the file from the tree.
	stats, err = e.wc.SetSparsePatterns(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, "1", e.readFile(t, "dir1/x"))
}

func TestConflictMaterializeAndResolve(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})

	p := repopath.New("f")
	conflictValue, err := merge.New(
		[]backend.TreeValue{
			testutil.FileValue(t, e.store, p, "b\n"),
			testutil.FileValue(t, e.store, p, "c\n"),
		},
		[]backend.TreeValue{testutil.FileValue(t, e.store, p, "a\n")},
	)
	require.NoError(t, err)
	b := tree.NewMergedBuilder(e.store, e.store.EmptyMergedTreeID())
	b.SetOrRemove(p, conflictValue)
	conflictedTreeID, err := b.Write(ctx)
	require.NoError(t, err)
	mt, err := tree.Root(ctx, e.store, conflictedTreeID)
	require.NoError(t, err)

	e.checkout(t, mt, "op-1")
	materialized := e.readFile(t, "f")
	assert.Contains(t, materialized, "<<<<<<<")
	assert.Contains(t, materialized, "-a")
	assert.Contains(t, materialized, "+b")
	assert.Contains(t, materialized, "c")

	state, err := e.wc.State()
	require.NoError(t, err)
	fs, ok := state.GetFileState(p)
	require.True(t, ok)
	assert.Equal(t, KindConflict, fs.Kind)

	// An untouched conflict snapshots back to the same conflicted value.
	snapID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	snap, err := tree.Root(ctx, e.store, snapID)
	require.NoError(t, err)
	v, err := snap.PathValue(ctx, p)
	require.NoError(t, err)
	assert.False(t, v.IsResolved())

	// Editing the file to plain contents resolves it.
	e.writeFile(t, "f", "resolved\n")
	resolvedID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, resolvedID.IsResolved())
	resolvedTree, err := tree.Root(ctx, e.store, resolvedID)
	require.NoError(t, err)
	v, err = resolvedTree.PathValue(ctx, p)
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	assert.Equal(t, backend.TreeValueFile, rv.Kind)
	assert.Equal(t, testutil.WriteFile(t, e.store, p, "resolved\n"), rv.File)
}

func TestStaleDetection(t *testing.T) {
	e := newEnv(t, Options{AutoTrack: true})
	err := e.wc.CheckStale(opstore.OperationID("op-0"))
	require.NoError(t, err)

	err = e.wc.CheckStale(opstore.OperationID("op-9"))
	var stale *backend.StaleWorkingCopyError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, opstore.OperationID("op-0").Hex(), stale.AtOp)
	assert.Equal(t, opstore.OperationID("op-9").Hex(), stale.ExpectedOp)

	// ResetTo recovers: the working copy re-registers at the current op.
	require.NoError(t, e.wc.ResetTo(context.Background(), opstore.OperationID("op-9"), e.store.RootCommitID(), e.store.EmptyMergedTreeID()))
	require.NoError(t, e.wc.CheckStale(opstore.OperationID("op-9")))
}

func TestGitignore(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, Options{AutoTrack: true})
	e.writeFile(t, ".gitignore", "*.log\nbuild/\n")
	e.writeFile(t, "app.log", "noise")
	e.writeFile(t, "build/out", "artifact")
	e.writeFile(t, "src/main.go", "package main\n")

	treeID, _, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	mt, err := tree.Root(ctx, e.store, treeID)
	require.NoError(t, err)

	var paths []string
	err = mt.Entries(ctx, repopath.Everything(), func(p repopath.RepoPath, _ merge.Merge[backend.TreeValue]) error {
		paths = append(paths, p.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "src/main.go"}, paths)
}

func TestSnapshotWithMonitor(t *testing.T) {
	ctx := context.Background()
	monitor := &fsmonitor.TestMonitor{Clock: "c:1"}
	e := newEnv(t, Options{AutoTrack: true, Monitor: monitor})
	e.writeFile(t, "a", "1")
	e.writeFile(t, "b", "2")

	// First snapshot has no clock: full walk, clock recorded.
	_, stats, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c:1", stats.WatchmanClock)

	// Change both files but report only one: the monitor limits what the
	// snapshot sees.
	e.writeFile(t, "a", "1-changed")
	e.writeFile(t, "b", "2-changed")
	// Age the states so the unchanged check would otherwise trust them.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(e.root, "b"), old, old))
	monitor.Changed = []repopath.RepoPath{repopath.New("a")}
	monitor.Clock = "c:2"

	treeID, stats, err := e.wc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c:2", stats.WatchmanClock)

	mt, err := tree.Root(ctx, e.store, treeID)
	require.NoError(t, err)
	av, err := mt.PathValue(ctx, repopath.New("a"))
	require.NoError(t, err)
	arv, _ := av.AsResolved()
	assert.Equal(t, testutil.WriteFile(t, e.store, repopath.New("a"), "1-changed"), arv.File)
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewTreeState()
	s.OpID = opstore.OperationID("some-op")
	s.CommitID = backend.CommitID("some-commit")
	s.TreeID = backend.ResolvedTreeID(backend.TreeID("some-tree"))
	s.Workspace = view.DefaultWorkspaceName
	s.SparsePatterns = []repopath.RepoPath{repopath.New("dir2")}
	s.WatchmanClock = "c:42"
	s.SetFileState(repopath.New("a"), FileState{Kind: KindFile, MtimeMillis: 123, Size: 4, Executable: true})
	s.SetFileState(repopath.New("b/c"), FileState{Kind: KindConflict, MtimeMillis: 0, Size: 9})
	require.NoError(t, s.Save(dir))

	got, err := LoadTreeState(dir)
	require.NoError(t, err)
	assert.Equal(t, s.OpID, got.OpID)
	assert.Equal(t, s.CommitID, got.CommitID)
	assert.True(t, merge.Equal(s.TreeID, got.TreeID))
	assert.Equal(t, s.Workspace, got.Workspace)
	assert.Equal(t, s.SparsePatterns, got.SparsePatterns)
	assert.Equal(t, s.WatchmanClock, got.WatchmanClock)
	fs, ok := got.GetFileState(repopath.New("a"))
	require.True(t, ok)
	assert.Equal(t, FileState{Kind: KindFile, MtimeMillis: 123, Size: 4, Executable: true}, fs)
}
