package opheads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/opstore"
)

func TestInitRecordsRootHead(t *testing.T) {
	root := opstore.OperationID("root-op-root-op-root-op-root-op!")
	s, err := Init(t.TempDir(), root)
	require.NoError(t, err)

	heads, err := s.Heads()
	require.NoError(t, err)
	assert.Equal(t, []opstore.OperationID{root}, heads)
}

func TestPromoteSwapsHeads(t *testing.T) {
	root := opstore.OperationID("rootrootrootroot")
	s, err := Init(t.TempDir(), root)
	require.NoError(t, err)

	newOp := opstore.OperationID("new-op-new-op-ok")
	require.NoError(t, s.Promote(newOp, []opstore.OperationID{root}))
	heads, err := s.Heads()
	require.NoError(t, err)
	assert.Equal(t, []opstore.OperationID{newOp}, heads)
}

func TestConcurrentPromotesLeaveSiblings(t *testing.T) {
	root := opstore.OperationID("rootrootrootroot")
	s, err := Init(t.TempDir(), root)
	require.NoError(t, err)

	a := opstore.OperationID("aaaa-op")
	b := opstore.OperationID("bbbb-op")
	require.NoError(t, s.Promote(a, []opstore.OperationID{root}))
	// The second writer still believes root is the head.
	require.NoError(t, s.Promote(b, []opstore.OperationID{root}))

	heads, err := s.Heads()
	require.NoError(t, err)
	assert.Equal(t, []opstore.OperationID{a, b}, heads)
}

func TestAddKeepsExisting(t *testing.T) {
	root := opstore.OperationID("rootrootrootroot")
	s, err := Init(t.TempDir(), root)
	require.NoError(t, err)
	lost := opstore.OperationID("lost-op")
	require.NoError(t, s.Add(lost))

	heads, err := s.Heads()
	require.NoError(t, err)
	assert.Len(t, heads, 2)
}
