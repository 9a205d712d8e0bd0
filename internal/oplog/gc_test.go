package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/testutil"
	"github.com/jj-vcs/jj-go/internal/view"
)

func TestGCRemovesUnreachableOpsAndObjects(t *testing.T) {
	ctx := context.Background()
	ops := newOpStore(t)
	objects := testutil.NewStore(t)

	writeCommitWithFile := func(name, contents string) (backend.CommitID, backend.FileID) {
		fileID := testutil.WriteFile(t, objects, repopath.New(name), contents)
		treeObj := backend.NewTree()
		treeObj.Set(name, backend.FileValue(fileID, false))
		treeID, err := objects.WriteTree(ctx, repopath.Root(), treeObj)
		require.NoError(t, err)
		commitID, _, err := objects.WriteCommit(ctx, &backend.Commit{
			Parents:  []backend.CommitID{objects.RootCommitID()},
			RootTree: backend.ResolvedTreeID(treeID),
			Change:   backend.ChangeID("change-change-ch"),
		}, false)
		require.NoError(t, err)
		return commitID, fileID
	}

	oldTime := backend.TimestampFrom(time.Now().Add(-48 * time.Hour))

	// A stale branch of the op log, no longer reachable from the head.
	staleCommit, staleFile := writeCommitWithFile("stale", "stale contents")
	staleView := view.New()
	staleView.AddHead(staleCommit)
	staleViewID, err := ops.WriteView(staleView)
	require.NoError(t, err)
	staleOp, err := ops.WriteOperation(&opstore.Operation{
		ViewID:  staleViewID,
		Parents: []opstore.OperationID{ops.RootOperationID()},
		Meta:    opstore.Metadata{Description: "stale", StartTime: oldTime, EndTime: oldTime},
	})
	require.NoError(t, err)

	// The live chain.
	liveCommit, liveFile := writeCommitWithFile("live", "live contents")
	liveView := view.New()
	liveView.AddHead(liveCommit)
	liveViewID, err := ops.WriteView(liveView)
	require.NoError(t, err)
	liveOp, err := ops.WriteOperation(&opstore.Operation{
		ViewID:  liveViewID,
		Parents: []opstore.OperationID{ops.RootOperationID()},
		Meta:    opstore.Metadata{Description: "live", StartTime: oldTime, EndTime: oldTime},
	})
	require.NoError(t, err)

	// A future cutoff disables the recency guard so only reachability
	// keeps things alive.
	require.NoError(t, GC(ctx, ops, objects, []opstore.OperationID{liveOp}, time.Now().Add(time.Hour)))

	_, err = ops.ReadOperation(liveOp)
	require.NoError(t, err)
	_, err = ops.ReadOperation(staleOp)
	require.ErrorIs(t, err, backend.ErrNotFound)
	_, err = ops.ReadView(staleViewID)
	require.ErrorIs(t, err, backend.ErrNotFound)

	_, err = objects.ReadFile(ctx, repopath.New("live"), liveFile)
	require.NoError(t, err)
	_, err = objects.ReadFile(ctx, repopath.New("stale"), staleFile)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestGCKeepsRecentUnreachableOps(t *testing.T) {
	ctx := context.Background()
	ops := newOpStore(t)
	objects := testutil.NewStore(t)

	now := backend.TimestampFrom(time.Now())
	viewID, err := ops.WriteView(view.New())
	require.NoError(t, err)
	pending, err := ops.WriteOperation(&opstore.Operation{
		ViewID:  viewID,
		Parents: []opstore.OperationID{ops.RootOperationID()},
		Meta:    opstore.Metadata{Description: "in flight", StartTime: now, EndTime: now},
	})
	require.NoError(t, err)

	head := writeOp(t, ops, "head", ops.RootOperationID())
	require.NoError(t, GC(ctx, ops, objects, []opstore.OperationID{head}, time.Now().Add(-time.Hour)))

	// The unreachable but recent op survives.
	_, err = ops.ReadOperation(pending)
	require.NoError(t, err)
}
