package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(t *testing.T, adds []string, bases []string) Merge[string] {
	t.Helper()
	m, err := New(adds, bases)
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	_, err := New([]string{"a", "b"}, []string{})
	require.Error(t, err)
	_, err = New([]string{}, []string{})
	require.Error(t, err)
}

func TestSimplifyCancelsAcrossPositions(t *testing.T) {
	// b - a + a  simplifies to  b
	m := mk(t, []string{"b", "a"}, []string{"a"})
	s := Simplify(m)
	v, ok := s.AsResolved()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	// a - a + b  also simplifies to  b, regardless of pair positions
	m = mk(t, []string{"a", "b"}, []string{"a"})
	s = Simplify(m)
	v, ok = s.AsResolved()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestSimplifyIdempotent(t *testing.T) {
	cases := []Merge[string]{
		Resolved("x"),
		mk(t, []string{"a", "b"}, []string{"c"}),
		mk(t, []string{"a", "b", "a"}, []string{"a", "b"}),
		mk(t, []string{"a", "a"}, []string{"a"}),
	}
	for _, m := range cases {
		once := Simplify(m)
		twice := Simplify(once)
		assert.True(t, Equal(once, twice), "simplify must be idempotent: %v vs %v", once.Terms(), twice.Terms())
	}
}

func TestSimplifyKeepsStableOrder(t *testing.T) {
	// c - a + b - b + a : the (b, b) and (a, a) pairs cancel, c remains.
	m := mk(t, []string{"c", "b", "a"}, []string{"a", "b"})
	s := Simplify(m)
	v, ok := s.AsResolved()
	require.True(t, ok)
	assert.Equal(t, "c", v)

	// d - a + e - b + f : nothing cancels, order preserved.
	m = mk(t, []string{"d", "e", "f"}, []string{"a", "b"})
	s = Simplify(m)
	assert.Equal(t, []string{"d", "e", "f"}, s.Adds())
	assert.Equal(t, []string{"a", "b"}, s.Bases())
}

func TestResolveTrivial(t *testing.T) {
	// All adds equal, all bases equal.
	m := mk(t, []string{"x", "x", "x"}, []string{"y", "y"})
	v, ok := ResolveTrivial(m)
	require.True(t, ok)
	assert.Equal(t, "x", v)

	// Genuine conflict.
	m = mk(t, []string{"x", "z"}, []string{"y"})
	_, ok = ResolveTrivial(m)
	assert.False(t, ok)
}

func TestFlattenSigns(t *testing.T) {
	// (a - b + c) - (b) + (d): flatten and simplify to a - b + c - b + d,
	// with the nested base's adds flipped to bases.
	inner1 := mk(t, []string{"a", "c"}, []string{"b"})
	base := Resolved("b")
	inner2 := Resolved("d")
	nested, err := New([]Merge[string]{inner1, inner2}, []Merge[string]{base})
	require.NoError(t, err)
	flat := Flatten(nested)
	assert.Equal(t, []string{"a", "c", "d"}, flat.Adds())
	assert.Equal(t, []string{"b", "b"}, flat.Bases())
}

func TestCombine(t *testing.T) {
	// Two sides moved off the same base to the same value: resolved.
	got := Combine(Resolved("new"), Resolved("old"), Resolved("new"))
	v, ok := got.AsResolved()
	require.True(t, ok)
	assert.Equal(t, "new", v)

	// One side moved, the other stayed: the move wins.
	got = Combine(Resolved("new"), Resolved("old"), Resolved("old"))
	v, ok = got.AsResolved()
	require.True(t, ok)
	assert.Equal(t, "new", v)

	// Both moved differently: conflict with the base preserved.
	got = Combine(Resolved("left"), Resolved("old"), Resolved("right"))
	_, ok = got.AsResolved()
	require.False(t, ok)
	assert.Equal(t, []string{"left", "right"}, got.Adds())
	assert.Equal(t, []string{"old"}, got.Bases())
}

func TestCombineCommutes(t *testing.T) {
	a := mk(t, []string{"l1", "l2"}, []string{"b1"})
	b := Resolved("r")
	base := Resolved("b1")
	ab := Combine(a, base, b)
	ba := Combine(b, base, a)
	// Same term multiset after canonical simplification.
	assert.ElementsMatch(t, ab.Adds(), ba.Adds())
	assert.ElementsMatch(t, ab.Bases(), ba.Bases())
}
