package tree

import (
	"context"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
)

// MergedBuilder accumulates per-path merged-value overrides on a base
// merged tree and writes the result, simplifying trivial resolutions.
type MergedBuilder struct {
	store     *store.Store
	baseID    backend.MergedTreeID
	overrides map[repopath.RepoPath]merge.Merge[backend.TreeValue]
}

// NewMergedBuilder starts a builder over the given base merged tree.
func NewMergedBuilder(s *store.Store, baseID backend.MergedTreeID) *MergedBuilder {
	return &MergedBuilder{
		store:     s,
		baseID:    baseID,
		overrides: make(map[repopath.RepoPath]merge.Merge[backend.TreeValue]),
	}
}

// HasOverrides reports whether any path was changed.
func (b *MergedBuilder) HasOverrides() bool { return len(b.overrides) > 0 }

// SetOrRemove records the merged value for a path. A fully absent merge
// removes the path.
func (b *MergedBuilder) SetOrRemove(path repopath.RepoPath, value merge.Merge[backend.TreeValue]) {
	b.overrides[path] = value
}

// padTerms extends an interleaved term list to length want by repeating
// the final add as a cancelling (base, add) pair.
func padTerms[T comparable](terms []T, want int) []T {
	for len(terms) < want {
		last := terms[len(terms)-1]
		terms = append(terms, last, last)
	}
	return terms
}

// Write applies the overrides and returns the new merged tree id.
func (b *MergedBuilder) Write(ctx context.Context) (backend.MergedTreeID, error) {
	if len(b.overrides) == 0 {
		return b.baseID, nil
	}

	// All term trees of a merged tree share one arity; find the widest
	// override and pad everything to it.
	width := len(b.baseID.Terms())
	resolved := make(map[repopath.RepoPath]merge.Merge[backend.TreeValue], len(b.overrides))
	for path, value := range b.overrides {
		v := merge.Simplify(value)
		if rv, ok := merge.ResolveTrivial(v); ok {
			v = merge.Resolved(rv)
		}
		resolved[path] = v
		if n := len(v.Terms()); n > width {
			width = n
		}
	}

	baseTerms := padTerms(b.baseID.Terms(), width)
	builders := make([]*Builder, width)
	for i, treeID := range baseTerms {
		builders[i] = NewBuilder(b.store, treeID)
	}

	for path, value := range resolved {
		if rv, ok := value.AsResolved(); ok {
			for _, builder := range builders {
				if rv.IsAbsent() {
					builder.Remove(path)
				} else {
					builder.Set(path, rv)
				}
			}
			continue
		}
		terms := padTerms(value.Terms(), width)
		for i, term := range terms {
			if term.IsAbsent() {
				builders[i].Remove(path)
			} else {
				builders[i].Set(path, term)
			}
		}
	}

	ids := make([]backend.TreeID, width)
	for i, builder := range builders {
		id, err := builder.Write(ctx)
		if err != nil {
			return backend.MergedTreeID{}, err
		}
		ids[i] = id
	}
	m, err := merge.FromTerms(ids)
	if err != nil {
		return backend.MergedTreeID{}, err
	}
	return merge.Simplify(m), nil
}
