package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/tree"
	"github.com/jj-vcs/jj-go/internal/view"
)

func initWorkspace(t *testing.T) *Workspace {
	t.Helper()
	// Isolate from any real user config.
	cfg := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[user]\nname = \"Test\"\nemail = \"t@example.com\"\n"), 0o644))
	t.Setenv("JJ_CONFIG", cfg)

	root := t.TempDir()
	ws, err := Init(context.Background(), root, zap.NewNop())
	require.NoError(t, err)
	return ws
}

func TestFindRoot(t *testing.T) {
	ws := initWorkspace(t)
	nested := filepath.Join(ws.Root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindRoot(nested)
	require.NoError(t, err)
	resolvedRoot, _ := filepath.EvalSymlinks(ws.Root)
	resolvedFound, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, resolvedRoot, resolvedFound)

	_, err = FindRoot(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInWorkspace)
}

func TestSnapshotCreatesOperation(t *testing.T) {
	ctx := context.Background()
	ws := initWorkspace(t)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "file"), []byte("contents\n"), 0o644))
	r, err := ws.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot working copy", r.Operation().Meta.Description)

	wcCommit, ok := r.View().GetWCCommitID(ws.Name)
	require.True(t, ok)
	commit, err := r.Store().GetCommit(ctx, wcCommit)
	require.NoError(t, err)
	mt, err := tree.Root(ctx, r.Store(), commit.RootTree)
	require.NoError(t, err)
	v, err := mt.PathValue(ctx, repopath.New("file"))
	require.NoError(t, err)
	_, resolved := v.AsResolved()
	assert.True(t, resolved)

	// No changes: snapshot is a no-op and writes no operation.
	r2, err := ws.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.OpID(), r2.OpID())
}

func TestSnapshotRecoversFromStaleWorkingCopy(t *testing.T) {
	ctx := context.Background()
	ws := initWorkspace(t)

	// Another process commits an operation the working copy never saw.
	r, err := ws.Loader.LoadAtHead(ctx)
	require.NoError(t, err)
	tx := r.StartTransaction()
	tx.Mutable().SetLocalBookmark("main", mustWCRef(t, ws))
	_, err = tx.Commit(ctx, "move bookmark elsewhere")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "file"), []byte("x\n"), 0o644))
	r2, err := ws.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot working copy", r2.Operation().Meta.Description)
}

func mustWCRef(t *testing.T, ws *Workspace) view.RefTarget {
	t.Helper()
	r, err := ws.Loader.LoadAtHead(context.Background())
	require.NoError(t, err)
	id, ok := r.View().GetWCCommitID(ws.Name)
	require.True(t, ok)
	return view.NormalRef(id)
}
