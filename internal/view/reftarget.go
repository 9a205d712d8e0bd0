package view

import (
	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
)

// RefTarget is a possibly conflicted ref value: an N-way merge of optional
// commit ids. An empty CommitID term means "absent".
type RefTarget = merge.Merge[backend.CommitID]

// NormalRef returns a resolved target pointing at id.
func NormalRef(id backend.CommitID) RefTarget {
	return merge.Resolved(id)
}

// AbsentRef returns the absent target.
func AbsentRef() RefTarget {
	return merge.Resolved(backend.CommitID(""))
}

// RefIsPresent reports whether any add of the target is a commit.
func RefIsPresent(t RefTarget) bool {
	for _, id := range t.Adds() {
		if id != "" {
			return true
		}
	}
	return false
}

// RefIsAbsent reports the opposite of RefIsPresent.
func RefIsAbsent(t RefTarget) bool { return !RefIsPresent(t) }

// RefAsNormal returns the single commit id of a resolved, present target.
func RefAsNormal(t RefTarget) (backend.CommitID, bool) {
	if id, ok := t.AsResolved(); ok && id != "" {
		return id, true
	}
	return "", false
}

// RefAddedIDs returns the present adds.
func RefAddedIDs(t RefTarget) []backend.CommitID {
	var ids []backend.CommitID
	for _, id := range t.Adds() {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// RefRemovedIDs returns the present bases.
func RefRemovedIDs(t RefTarget) []backend.CommitID {
	var ids []backend.CommitID
	for _, id := range t.Bases() {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// MergeRefTargets combines two sides of a ref over their common ancestor
// target. The result is simplified; if it remains conflicted it is
// preserved and surfaced to the user.
func MergeRefTargets(side1, base, side2 RefTarget) RefTarget {
	return merge.Combine(side1, base, side2)
}
