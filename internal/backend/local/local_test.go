package local

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/repopath"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Init(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	path := repopath.New("dir/file")

	id, err := b.WriteFile(ctx, path, bytes.NewReader([]byte("contents")))
	require.NoError(t, err)

	r, err := b.ReadFile(ctx, path, id)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}

func TestContentAddressing(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	id1, err := b.WriteFile(ctx, repopath.New("a"), bytes.NewReader([]byte("same")))
	require.NoError(t, err)
	id2, err := b.WriteFile(ctx, repopath.New("b"), bytes.NewReader([]byte("same")))
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "identical bytes must yield identical ids")

	id3, err := b.WriteFile(ctx, repopath.New("a"), bytes.NewReader([]byte("different")))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestParallelWritesConverge(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	const n = 16
	ids := make([]backend.FileID, n)
	errs := make([]error, n)
	done := make(chan int, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			ids[i], errs[i] = b.WriteFile(ctx, repopath.New("f"), bytes.NewReader([]byte("racy contents")))
			done <- i
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	r, err := b.ReadFile(ctx, repopath.New("f"), ids[0])
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	assert.Equal(t, "racy contents", string(data))
}

func TestTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	fileID, err := b.WriteFile(ctx, repopath.New("x"), bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	tree := backend.NewTree()
	tree.Set("x", backend.FileValue(fileID, true))
	tree.Set("sub", backend.TreeDirValue(b.EmptyTreeID()))

	id, err := b.WriteTree(ctx, repopath.Root(), tree)
	require.NoError(t, err)

	got, err := b.ReadTree(ctx, repopath.Root(), id)
	require.NoError(t, err)
	assert.Equal(t, tree.Entries(), got.Entries())

	v, ok := got.Get("x")
	require.True(t, ok)
	assert.True(t, v.Executable)
}

func TestEmptyTreeIDStable(t *testing.T) {
	b1 := newBackend(t)
	b2 := newBackend(t)
	assert.Equal(t, b1.EmptyTreeID(), b2.EmptyTreeID())

	got, err := b1.ReadTree(context.Background(), repopath.Root(), b1.EmptyTreeID())
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())
}

func TestCommitRoundTripAndRoot(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	commit := &backend.Commit{
		Parents:     []backend.CommitID{b.RootCommitID()},
		RootTree:    backend.ResolvedTreeID(b.EmptyTreeID()),
		Change:      backend.ChangeID(bytes.Repeat([]byte{1}, b.ChangeIDLength())),
		Description: "initial",
		Author:      backend.Signature{Name: "Test User", Email: "test@example.com", Timestamp: backend.TimestampFrom(time.Unix(1700000000, 0))},
		Committer:   backend.Signature{Name: "Test User", Email: "test@example.com", Timestamp: backend.TimestampFrom(time.Unix(1700000000, 0))},
	}
	id, stored, err := b.WriteCommit(ctx, commit, nil)
	require.NoError(t, err)
	assert.Equal(t, commit.Description, stored.Description)

	got, err := b.ReadCommit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, commit.Parents, got.Parents)
	assert.Equal(t, commit.Change, got.Change)
	assert.Equal(t, commit.Description, got.Description)
	assert.Equal(t, commit.Author, got.Author)
	require.True(t, got.RootTree.IsResolved())

	// Same bytes, same id.
	id2, _, err := b.WriteCommit(ctx, commit, nil)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	// The synthetic root commit reads without having been written.
	root, err := b.ReadCommit(ctx, b.RootCommitID())
	require.NoError(t, err)
	assert.Empty(t, root.Parents)
	rootTree, ok := root.RootTree.AsResolved()
	require.True(t, ok)
	assert.Equal(t, b.EmptyTreeID(), rootTree)
}

func TestWriteCommitRejectsNoParents(t *testing.T) {
	b := newBackend(t)
	_, _, err := b.WriteCommit(context.Background(), &backend.Commit{
		RootTree: backend.ResolvedTreeID(b.EmptyTreeID()),
	}, nil)
	require.Error(t, err)
}

func TestSigning(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	var signedOver []byte
	sign := func(data []byte) ([]byte, error) {
		signedOver = append([]byte(nil), data...)
		return []byte("SIGNATURE"), nil
	}
	commit := &backend.Commit{
		Parents:     []backend.CommitID{b.RootCommitID()},
		RootTree:    backend.ResolvedTreeID(b.EmptyTreeID()),
		Change:      backend.ChangeID(bytes.Repeat([]byte{2}, b.ChangeIDLength())),
		Description: "signed",
	}
	id, stored, err := b.WriteCommit(ctx, commit, sign)
	require.NoError(t, err)
	assert.Equal(t, []byte("SIGNATURE"), stored.SecureSig)
	assert.NotEmpty(t, signedOver)

	got, err := b.ReadCommit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("SIGNATURE"), got.SecureSig)
	// The signed bytes are the canonical encoding without the signature.
	assert.Equal(t, signedOver, encodeCommit(got, false))
}

func TestNotFound(t *testing.T) {
	b := newBackend(t)
	_, err := b.ReadCommit(context.Background(), backend.CommitID(bytes.Repeat([]byte{9}, commitIDLength)))
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func TestGC(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	keepFile, err := b.WriteFile(ctx, repopath.New("keep"), bytes.NewReader([]byte("keep")))
	require.NoError(t, err)
	tree := backend.NewTree()
	tree.Set("keep", backend.FileValue(keepFile, false))
	treeID, err := b.WriteTree(ctx, repopath.Root(), tree)
	require.NoError(t, err)
	keepCommitID, _, err := b.WriteCommit(ctx, &backend.Commit{
		Parents:  []backend.CommitID{b.RootCommitID()},
		RootTree: backend.ResolvedTreeID(treeID),
		Change:   backend.ChangeID(bytes.Repeat([]byte{3}, changeIDLength)),
	}, nil)
	require.NoError(t, err)

	dropFile, err := b.WriteFile(ctx, repopath.New("drop"), bytes.NewReader([]byte("drop")))
	require.NoError(t, err)

	require.NoError(t, b.GC(ctx, []backend.CommitID{keepCommitID}, time.Now().Add(time.Hour)))

	_, err = b.ReadFile(ctx, repopath.New("keep"), keepFile)
	require.NoError(t, err)
	_, err = b.ReadFile(ctx, repopath.New("drop"), dropFile)
	require.ErrorIs(t, err, backend.ErrNotFound)

	// keepNewerThan in the past keeps everything.
	b2 := newBackend(t)
	f2, err := b2.WriteFile(ctx, repopath.New("f"), bytes.NewReader([]byte("fresh")))
	require.NoError(t, err)
	require.NoError(t, b2.GC(ctx, nil, time.Now().Add(-time.Hour)))
	_, err = b2.ReadFile(ctx, repopath.New("f"), f2)
	require.NoError(t, err)
}
