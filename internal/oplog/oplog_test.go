package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/view"
)

func newOpStore(t *testing.T) *opstore.Store {
	t.Helper()
	s, err := opstore.InitStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func writeOp(t *testing.T, s *opstore.Store, desc string, parents ...opstore.OperationID) opstore.OperationID {
	t.Helper()
	viewID, err := s.WriteView(view.New())
	require.NoError(t, err)
	id, err := s.WriteOperation(&opstore.Operation{
		ViewID:  viewID,
		Parents: parents,
		Meta:    opstore.Metadata{Description: desc},
	})
	require.NoError(t, err)
	return id
}

func TestWalkLinear(t *testing.T) {
	s := newOpStore(t)
	a := writeOp(t, s, "a", s.RootOperationID())
	b := writeOp(t, s, "b", a)
	c := writeOp(t, s, "c", b)

	var order []opstore.OperationID
	require.NoError(t, Walk(s, []opstore.OperationID{c}, func(e Entry) error {
		order = append(order, e.ID)
		return nil
	}))
	assert.Equal(t, []opstore.OperationID{c, b, a, s.RootOperationID()}, order)
}

func TestWalkDiamondVisitsOnce(t *testing.T) {
	s := newOpStore(t)
	a := writeOp(t, s, "a", s.RootOperationID())
	l := writeOp(t, s, "left", a)
	r := writeOp(t, s, "right", a)
	m := writeOp(t, s, "merge", l, r)

	seen := map[opstore.OperationID]int{}
	var order []opstore.OperationID
	require.NoError(t, Walk(s, []opstore.OperationID{m}, func(e Entry) error {
		seen[e.ID]++
		order = append(order, e.ID)
		return nil
	}))
	for id, n := range seen {
		assert.Equal(t, 1, n, "op %s visited %d times", id.Hex(), n)
	}
	assert.Equal(t, m, order[0])
	assert.Equal(t, s.RootOperationID(), order[len(order)-1])
}

func TestGreatestCommonAncestor(t *testing.T) {
	s := newOpStore(t)
	a := writeOp(t, s, "a", s.RootOperationID())
	l := writeOp(t, s, "left", a)
	r := writeOp(t, s, "right", a)

	gca, err := GreatestCommonAncestor(s, l, r)
	require.NoError(t, err)
	assert.Equal(t, a, gca)

	gca, err = GreatestCommonAncestor(s, l, a)
	require.NoError(t, err)
	assert.Equal(t, a, gca)
}

func TestIsAncestor(t *testing.T) {
	s := newOpStore(t)
	a := writeOp(t, s, "a", s.RootOperationID())
	b := writeOp(t, s, "b", a)

	ok, err := IsAncestor(s, a, b)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = IsAncestor(s, b, a)
	require.NoError(t, err)
	assert.False(t, ok)
}

func viewWithHeads(ids ...backend.CommitID) *view.View {
	v := view.New()
	for _, id := range ids {
		v.AddHead(id)
	}
	return v
}

func TestMergeViewsHeads(t *testing.T) {
	base := viewWithHeads("I")
	left := viewWithHeads("I", "A")
	right := viewWithHeads("I", "B")

	merged, conflicts := MergeViews(base, left, right)
	assert.Empty(t, conflicts)
	assert.Equal(t, []backend.CommitID{"A", "B", "I"}, merged.Heads())

	// A head removed on one side stays removed.
	left2 := viewWithHeads("Iprime")
	right2 := viewWithHeads("I", "C")
	merged2, _ := MergeViews(base, left2, right2)
	assert.Equal(t, []backend.CommitID{"C", "Iprime"}, merged2.Heads())
}

func TestMergeViewsCommutes(t *testing.T) {
	base := viewWithHeads("I")
	base.SetLocalBookmark("main", view.NormalRef("I"))
	left := viewWithHeads("A")
	left.SetLocalBookmark("main", view.NormalRef("A"))
	right := viewWithHeads("B")
	right.SetLocalBookmark("main", view.NormalRef("B"))

	lr, _ := MergeViews(base, left, right)
	rl, _ := MergeViews(base, right, left)
	assert.Equal(t, lr.Heads(), rl.Heads())
	assert.ElementsMatch(t, view.RefAddedIDs(lr.GetLocalBookmark("main")), view.RefAddedIDs(rl.GetLocalBookmark("main")))
	assert.Equal(t, view.RefRemovedIDs(lr.GetLocalBookmark("main")), view.RefRemovedIDs(rl.GetLocalBookmark("main")))
}

func TestMergeViewsBookmarks(t *testing.T) {
	base := viewWithHeads("I")
	base.SetLocalBookmark("main", view.NormalRef("I"))

	// Only one side moved the bookmark: the move wins.
	left := base.Clone()
	left.SetLocalBookmark("main", view.NormalRef("A"))
	right := base.Clone()
	merged, _ := MergeViews(base, left, right)
	id, ok := view.RefAsNormal(merged.GetLocalBookmark("main"))
	require.True(t, ok)
	assert.Equal(t, backend.CommitID("A"), id)

	// Both sides moved it differently: conflicted target preserved.
	right2 := base.Clone()
	right2.SetLocalBookmark("main", view.NormalRef("B"))
	merged2, _ := MergeViews(base, left, right2)
	target := merged2.GetLocalBookmark("main")
	assert.False(t, target.IsResolved())
	assert.ElementsMatch(t, []backend.CommitID{"A", "B"}, view.RefAddedIDs(target))
	assert.Equal(t, []backend.CommitID{"I"}, view.RefRemovedIDs(target))
}

func TestMergeViewsRemoteRefs(t *testing.T) {
	base := viewWithHeads("I")
	base.SetRemoteBookmark("origin", "main", view.NormalRef("I"))
	base.SetRemoteTag("origin", "v1", view.NormalRef("I"))

	left := base.Clone()
	left.SetRemoteBookmark("origin", "main", view.NormalRef("A"))
	right := base.Clone()
	right.SetRemoteTag("origin", "v1", view.NormalRef("B"))

	merged, _ := MergeViews(base, left, right)
	id, ok := view.RefAsNormal(merged.GetRemoteBookmark("origin", "main"))
	require.True(t, ok)
	assert.Equal(t, backend.CommitID("A"), id)
	id, ok = view.RefAsNormal(merged.GetRemoteTag("origin", "v1"))
	require.True(t, ok)
	assert.Equal(t, backend.CommitID("B"), id)
}

func TestMergeViewsWCCommits(t *testing.T) {
	base := viewWithHeads("I")
	base.SetWCCommit(view.DefaultWorkspaceName, "I")

	// Both moved the same workspace: conflict, deterministic winner.
	left := base.Clone()
	left.SetWCCommit(view.DefaultWorkspaceName, "A")
	right := base.Clone()
	right.SetWCCommit(view.DefaultWorkspaceName, "B")
	merged, conflicts := MergeViews(base, left, right)
	require.Len(t, conflicts, 1)
	assert.Equal(t, view.DefaultWorkspaceName, conflicts[0].Workspace)
	got, _ := merged.GetWCCommitID(view.DefaultWorkspaceName)
	assert.Equal(t, backend.CommitID("A"), got)

	// Moved on one side, forgotten on the other: the forget wins.
	right2 := base.Clone()
	right2.RemoveWCCommit(view.DefaultWorkspaceName)
	merged2, conflicts2 := MergeViews(base, left, right2)
	assert.Empty(t, conflicts2)
	_, ok := merged2.GetWCCommitID(view.DefaultWorkspaceName)
	assert.False(t, ok)
}
