package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
	"github.com/jj-vcs/jj-go/internal/testutil"
)

func writeTree(t *testing.T, s *store.Store, files map[string]string) backend.TreeID {
	t.Helper()
	ctx := context.Background()
	b := NewBuilder(s, s.EmptyTreeID())
	for path, contents := range files {
		p := repopath.New(path)
		b.Set(p, testutil.FileValue(t, s, p, contents))
	}
	id, err := b.Write(ctx)
	require.NoError(t, err)
	return id
}

func TestBuilderWritesNestedDirs(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	id := writeTree(t, s, map[string]string{
		"file":       "top",
		"dir1/x":     "x",
		"dir1/sub/y": "y",
		"dir2/z":     "z",
	})

	root, err := s.GetTree(ctx, repopath.Root(), id)
	require.NoError(t, err)
	names := []string{}
	for _, e := range root.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"dir1", "dir2", "file"}, names)

	v, ok := root.Get("dir1")
	require.True(t, ok)
	require.Equal(t, backend.TreeValueTree, v.Kind)
	dir1, err := s.GetTree(ctx, repopath.New("dir1"), v.Tree)
	require.NoError(t, err)
	_, ok = dir1.Get("sub")
	assert.True(t, ok)
}

func TestBuilderNoOverridesReturnsBase(t *testing.T) {
	s := testutil.NewStore(t)
	b := NewBuilder(s, s.EmptyTreeID())
	id, err := b.Write(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.EmptyTreeID(), id)
}

func TestBuilderIdempotent(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	id := writeTree(t, s, map[string]string{"dir/a": "a", "dir/b": "b"})

	// Building again with no overrides yields the same id.
	again, err := NewBuilder(s, id).Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	// Applying identical overrides yields the same id.
	b := NewBuilder(s, id)
	p := repopath.New("dir/a")
	b.Set(p, testutil.FileValue(t, s, p, "a"))
	same, err := b.Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, same)
}

func TestBuilderRemovesEmptyDirs(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	id := writeTree(t, s, map[string]string{"dir/sub/only": "x"})

	b := NewBuilder(s, id)
	b.Remove(repopath.New("dir/sub/only"))
	pruned, err := b.Write(ctx)
	require.NoError(t, err)
	// Removing the only file removes the whole now-empty chain: the root
	// is written (even though empty) and equals the canonical empty tree.
	assert.Equal(t, s.EmptyTreeID(), pruned)
}

func TestMergedTreePathValue(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	id := writeTree(t, s, map[string]string{"dir/f": "contents"})
	mt, err := Root(ctx, s, backend.ResolvedTreeID(id))
	require.NoError(t, err)

	v, err := mt.PathValue(ctx, repopath.New("dir/f"))
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	assert.Equal(t, backend.TreeValueFile, rv.Kind)

	missing, err := mt.PathValue(ctx, repopath.New("no/such/file"))
	require.NoError(t, err)
	mv, ok := missing.AsResolved()
	require.True(t, ok)
	assert.True(t, mv.IsAbsent())
}

func TestMergedTreeConflictPathValue(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	base := writeTree(t, s, map[string]string{"f": "a\n"})
	left := writeTree(t, s, map[string]string{"f": "b\n"})
	right := writeTree(t, s, map[string]string{"f": "c\n"})

	id, err := merge.New([]backend.TreeID{left, right}, []backend.TreeID{base})
	require.NoError(t, err)
	mt, err := Root(ctx, s, id)
	require.NoError(t, err)

	v, err := mt.PathValue(ctx, repopath.New("f"))
	require.NoError(t, err)
	assert.False(t, v.IsResolved())
	assert.Len(t, v.Adds(), 2)
	assert.Len(t, v.Bases(), 1)
}

func TestDiffStreamTotalAndOrdered(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	before := writeTree(t, s, map[string]string{
		"a":       "1",
		"dir/b":   "2",
		"dir/c":   "3",
		"same":    "s",
		"zz/deep": "d",
	})
	after := writeTree(t, s, map[string]string{
		"a":     "1-changed",
		"dir/c": "3",
		"new":   "n",
		"same":  "s",
	})

	bt, err := Root(ctx, s, backend.ResolvedTreeID(before))
	require.NoError(t, err)
	at, err := Root(ctx, s, backend.ResolvedTreeID(after))
	require.NoError(t, err)

	var paths []string
	err = bt.Diff(ctx, at, repopath.Everything(), func(e DiffEntry) error {
		paths = append(paths, e.Path.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "dir/b", "new", "zz/deep"}, paths)
}

func TestDiffFileToDirTransition(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	before := writeTree(t, s, map[string]string{"p": "file"})
	after := writeTree(t, s, map[string]string{"p/inner": "dir"})

	bt, err := Root(ctx, s, backend.ResolvedTreeID(before))
	require.NoError(t, err)
	at, err := Root(ctx, s, backend.ResolvedTreeID(after))
	require.NoError(t, err)

	var entries []DiffEntry
	err = bt.Diff(ctx, at, repopath.Everything(), func(e DiffEntry) error {
		entries = append(entries, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p", entries[0].Path.String())
	assert.Equal(t, "p/inner", entries[1].Path.String())
}

func TestDiffHonorsMatcher(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	before := writeTree(t, s, map[string]string{"dir1/x": "1", "dir2/y": "2"})
	after := writeTree(t, s, map[string]string{"dir1/x": "1b", "dir2/y": "2b"})

	bt, err := Root(ctx, s, backend.ResolvedTreeID(before))
	require.NoError(t, err)
	at, err := Root(ctx, s, backend.ResolvedTreeID(after))
	require.NoError(t, err)

	matcher := repopath.NewPrefixMatcher([]repopath.RepoPath{repopath.New("dir2")})
	var paths []string
	err = bt.Diff(ctx, at, matcher, func(e DiffEntry) error {
		paths = append(paths, e.Path.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"dir2/y"}, paths)
}

func TestMergedBuilderResolvedOverride(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	base := writeTree(t, s, map[string]string{"f": "old"})

	b := NewMergedBuilder(s, backend.ResolvedTreeID(base))
	p := repopath.New("f")
	b.SetOrRemove(p, merge.Resolved(testutil.FileValue(t, s, p, "new")))
	id, err := b.Write(ctx)
	require.NoError(t, err)
	require.True(t, id.IsResolved())

	mt, err := Root(ctx, s, id)
	require.NoError(t, err)
	v, err := mt.PathValue(ctx, p)
	require.NoError(t, err)
	rv, ok := v.AsResolved()
	require.True(t, ok)
	assert.Equal(t, backend.TreeValueFile, rv.Kind)
}

func TestMergedBuilderConflictOverride(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	base := writeTree(t, s, map[string]string{"f": "base"})

	p := repopath.New("f")
	conflict, err := merge.New(
		[]backend.TreeValue{
			testutil.FileValue(t, s, p, "left"),
			testutil.FileValue(t, s, p, "right"),
		},
		[]backend.TreeValue{testutil.FileValue(t, s, p, "base")},
	)
	require.NoError(t, err)

	b := NewMergedBuilder(s, backend.ResolvedTreeID(base))
	b.SetOrRemove(p, conflict)
	id, err := b.Write(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, len(id.Terms()))

	mt, err := Root(ctx, s, id)
	require.NoError(t, err)
	v, err := mt.PathValue(ctx, p)
	require.NoError(t, err)
	assert.False(t, v.IsResolved())

	// Resolving the conflict collapses the merged id back to one term.
	b2 := NewMergedBuilder(s, id)
	b2.SetOrRemove(p, merge.Resolved(testutil.FileValue(t, s, p, "resolved")))
	id2, err := b2.Write(ctx)
	require.NoError(t, err)
	assert.True(t, id2.IsResolved())
}

func TestMergedBuilderRemove(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	base := writeTree(t, s, map[string]string{"dir/f": "x", "keep": "k"})

	b := NewMergedBuilder(s, backend.ResolvedTreeID(base))
	b.SetOrRemove(repopath.New("dir/f"), merge.Resolved(backend.TreeValue{}))
	id, err := b.Write(ctx)
	require.NoError(t, err)

	mt, err := Root(ctx, s, id)
	require.NoError(t, err)
	var paths []string
	err = mt.Entries(ctx, repopath.Everything(), func(p repopath.RepoPath, _ merge.Merge[backend.TreeValue]) error {
		paths = append(paths, p.String())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, paths)
}
