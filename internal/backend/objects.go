package backend

import (
	"sort"
	"time"

	"github.com/jj-vcs/jj-go/internal/merge"
)

// TreeValueKind discriminates the variants of a tree entry value.
type TreeValueKind int

const (
	// TreeValueAbsent is the zero value; it marks a missing entry in merge
	// terms and is never stored in a tree.
	TreeValueAbsent TreeValueKind = iota
	TreeValueFile
	TreeValueSymlink
	TreeValueTree
	TreeValueConflict
)

// TreeValue is the value of a tree entry. The struct is comparable so it
// can participate in the merge algebra directly.
type TreeValue struct {
	Kind       TreeValueKind
	File       FileID
	Executable bool
	Copy       CopyID
	Symlink    SymlinkID
	Tree       TreeID
	Conflict   ConflictID
}

// FileValue builds a file tree value.
func FileValue(id FileID, executable bool) TreeValue {
	return TreeValue{Kind: TreeValueFile, File: id, Executable: executable}
}

// SymlinkValue builds a symlink tree value.
func SymlinkValue(id SymlinkID) TreeValue {
	return TreeValue{Kind: TreeValueSymlink, Symlink: id}
}

// TreeDirValue builds a subtree tree value.
func TreeDirValue(id TreeID) TreeValue {
	return TreeValue{Kind: TreeValueTree, Tree: id}
}

// ConflictValue builds a stored-conflict tree value.
func ConflictValue(id ConflictID) TreeValue {
	return TreeValue{Kind: TreeValueConflict, Conflict: id}
}

// IsAbsent reports whether the value marks a missing entry.
func (v TreeValue) IsAbsent() bool { return v.Kind == TreeValueAbsent }

// TreeEntry is a named tree value.
type TreeEntry struct {
	Name  string
	Value TreeValue
}

// Tree is an ordered mapping from path component to TreeValue. Entries are
// kept sorted by name; names are unique.
type Tree struct {
	entries []TreeEntry
}

// NewTree returns an empty tree.
func NewTree() *Tree { return &Tree{} }

// Entries returns the entries in name order.
func (t *Tree) Entries() []TreeEntry {
	return append([]TreeEntry(nil), t.entries...)
}

// Get returns the value for name.
func (t *Tree) Get(name string) (TreeValue, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= name })
	if i < len(t.entries) && t.entries[i].Name == name {
		return t.entries[i].Value, true
	}
	return TreeValue{}, false
}

// Set inserts or replaces the value for name.
func (t *Tree) Set(name string, value TreeValue) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= name })
	if i < len(t.entries) && t.entries[i].Name == name {
		t.entries[i].Value = value
		return
	}
	t.entries = append(t.entries, TreeEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = TreeEntry{Name: name, Value: value}
}

// Remove deletes the entry for name if present.
func (t *Tree) Remove(name string) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= name })
	if i < len(t.entries) && t.entries[i].Name == name {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// IsEmpty reports whether the tree has no entries.
func (t *Tree) IsEmpty() bool { return len(t.entries) == 0 }

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	return &Tree{entries: append([]TreeEntry(nil), t.entries...)}
}

// Conflict is the stored form of an unresolved N-way merge of tree values.
type Conflict struct {
	Removes []TreeValue
	Adds    []TreeValue
}

// ToMerge converts a stored conflict into a merge term list. Absent sides
// are represented by zero TreeValues.
func (c *Conflict) ToMerge() merge.Merge[TreeValue] {
	m, _ := merge.New(append([]TreeValue(nil), c.Adds...), append([]TreeValue(nil), c.Removes...))
	return m
}

// ConflictFromMerge converts a merge into the stored conflict form.
func ConflictFromMerge(m merge.Merge[TreeValue]) *Conflict {
	return &Conflict{Removes: m.Bases(), Adds: m.Adds()}
}

// MergedTreeID identifies a (possibly conflicted) root tree as a merge of
// tree ids.
type MergedTreeID = merge.Merge[TreeID]

// ResolvedTreeID wraps a single tree id as a MergedTreeID.
func ResolvedTreeID(id TreeID) MergedTreeID { return merge.Resolved(id) }

// Timestamp is a millisecond UTC instant plus the recording zone's offset
// from UTC in minutes. The offset does not affect identity; it is kept for
// display.
type Timestamp struct {
	MillisSinceEpoch int64
	TZOffsetMinutes  int32
}

// TimestampFrom converts a time.Time.
func TimestampFrom(t time.Time) Timestamp {
	_, offset := t.Zone()
	return Timestamp{
		MillisSinceEpoch: t.UnixMilli(),
		TZOffsetMinutes:  int32(offset / 60),
	}
}

// Time converts back to a time.Time in the recorded zone.
func (ts Timestamp) Time() time.Time {
	loc := time.FixedZone("", int(ts.TZOffsetMinutes)*60)
	return time.UnixMilli(ts.MillisSinceEpoch).In(loc)
}

// Signature names the author or committer of a commit.
type Signature struct {
	Name      string
	Email     string
	Timestamp Timestamp
}

// Commit is the backend commit object.
type Commit struct {
	Parents      []CommitID
	Predecessors []CommitID
	RootTree     MergedTreeID
	Change       ChangeID
	Description  string
	Author       Signature
	Committer    Signature
	// SecureSig holds the raw signature bytes when the commit is signed.
	SecureSig []byte
}

// Clone returns a deep copy of the commit.
func (c *Commit) Clone() *Commit {
	cp := *c
	cp.Parents = append([]CommitID(nil), c.Parents...)
	cp.Predecessors = append([]CommitID(nil), c.Predecessors...)
	cp.SecureSig = append([]byte(nil), c.SecureSig...)
	return &cp
}
