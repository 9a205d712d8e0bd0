package tree

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
)

// MergedTree is an N-way merge of backend trees sharing one store. Term
// trees are resolved lazily through the store as lookups descend.
type MergedTree struct {
	store *store.Store
	ids   backend.MergedTreeID
	// roots holds the root tree data for each merge term, in term order.
	roots []*backend.Tree
}

// Root loads the merged tree identified by id. Term trees are fetched
// concurrently, bounded by the backend's concurrency hint.
func Root(ctx context.Context, s *store.Store, id backend.MergedTreeID) (*MergedTree, error) {
	terms := id.Terms()
	roots := make([]*backend.Tree, len(terms))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency())
	for i, treeID := range terms {
		g.Go(func() error {
			t, err := s.GetTree(gctx, repopath.Root(), treeID)
			if err != nil {
				return err
			}
			roots[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &MergedTree{store: s, ids: id, roots: roots}, nil
}

// ID returns the merged tree id.
func (t *MergedTree) ID() backend.MergedTreeID { return t.ids }

// Store returns the shared object store.
func (t *MergedTree) Store() *store.Store { return t.store }

// dirTerms is the per-term view of one directory: nil marks a term in
// which the directory does not exist.
type dirTerms []*backend.Tree

func (d dirTerms) value(name string) merge.Merge[backend.TreeValue] {
	values := make([]backend.TreeValue, len(d))
	for i, tree := range d {
		if tree == nil {
			continue
		}
		if v, ok := tree.Get(name); ok {
			values[i] = v
		}
	}
	m, _ := merge.FromTerms(values)
	return m
}

// names returns the union of entry names across terms, sorted.
func (d dirTerms) names() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, tree := range d {
		if tree == nil {
			continue
		}
		for _, e := range tree.Entries() {
			if _, ok := seen[e.Name]; !ok {
				seen[e.Name] = struct{}{}
				names = append(names, e.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// subDir loads the per-term subtrees for name. Terms where the entry is
// not a tree become nil.
func (t *MergedTree) subDir(ctx context.Context, d dirTerms, dir repopath.RepoPath, name string) (dirTerms, error) {
	sub := make(dirTerms, len(d))
	path := dir.Join(name)
	for i, tree := range d {
		if tree == nil {
			continue
		}
		v, ok := tree.Get(name)
		if !ok || v.Kind != backend.TreeValueTree {
			continue
		}
		loaded, err := t.store.GetTree(ctx, path, v.Tree)
		if err != nil {
			return nil, err
		}
		sub[i] = loaded
	}
	return sub, nil
}

// normalize expands stored conflict values into merge terms and resolves
// the merge trivially when possible.
func (t *MergedTree) normalize(ctx context.Context, path repopath.RepoPath, m merge.Merge[backend.TreeValue]) (merge.Merge[backend.TreeValue], error) {
	expanded := false
	for _, v := range m.Terms() {
		if v.Kind == backend.TreeValueConflict {
			expanded = true
			break
		}
	}
	if expanded {
		nested, err := merge.TryMap(m, func(v backend.TreeValue) (merge.Merge[backend.TreeValue], error) {
			if v.Kind != backend.TreeValueConflict {
				return merge.Resolved(v), nil
			}
			return t.store.ReadConflict(ctx, path, v.Conflict)
		})
		if err != nil {
			return merge.Merge[backend.TreeValue]{}, err
		}
		m = merge.Flatten(nested)
	}
	if v, ok := merge.ResolveTrivial(m); ok {
		return merge.Resolved(v), nil
	}
	return merge.Simplify(m), nil
}

// PathValue returns the merged value at a file path, trivially resolved
// when possible. A missing path yields a resolved absent value.
func (t *MergedTree) PathValue(ctx context.Context, path repopath.RepoPath) (merge.Merge[backend.TreeValue], error) {
	if path.IsRoot() {
		return merge.Merge[backend.TreeValue]{}, &backend.PathNotInRepoError{Path: "/"}
	}
	d := dirTerms(t.roots)
	components := path.Components()
	dir := repopath.Root()
	for _, component := range components[:len(components)-1] {
		sub, err := t.subDir(ctx, d, dir, component)
		if err != nil {
			return merge.Merge[backend.TreeValue]{}, err
		}
		d = sub
		dir = dir.Join(component)
	}
	return t.normalize(ctx, path, d.value(components[len(components)-1]))
}

// Entries streams every file-level path and its merged value in
// lexicographic order of the full path.
func (t *MergedTree) Entries(ctx context.Context, matcher repopath.Matcher, fn func(repopath.RepoPath, merge.Merge[backend.TreeValue]) error) error {
	return t.walk(ctx, repopath.Root(), dirTerms(t.roots), matcher, fn)
}

func (t *MergedTree) walk(ctx context.Context, dir repopath.RepoPath, d dirTerms, matcher repopath.Matcher, fn func(repopath.RepoPath, merge.Merge[backend.TreeValue]) error) error {
	for _, name := range d.names() {
		path := dir.Join(name)
		value := d.value(name)
		if isDirish(value) {
			if !matcher.VisitDir(path) {
				continue
			}
			sub, err := t.subDir(ctx, d, dir, name)
			if err != nil {
				return err
			}
			if err := t.walk(ctx, path, sub, matcher, fn); err != nil {
				return err
			}
			continue
		}
		if !matcher.Matches(path) {
			continue
		}
		norm, err := t.normalize(ctx, path, value)
		if err != nil {
			return err
		}
		if err := fn(path, norm); err != nil {
			return err
		}
	}
	return nil
}

// isDirish reports whether every non-absent term of the merge is a
// subtree, with at least one present.
func isDirish(m merge.Merge[backend.TreeValue]) bool {
	present := false
	for _, v := range m.Terms() {
		switch v.Kind {
		case backend.TreeValueAbsent:
		case backend.TreeValueTree:
			present = true
		default:
			return false
		}
	}
	return present
}

func isAbsent(m merge.Merge[backend.TreeValue]) bool {
	for _, v := range m.Terms() {
		if !v.IsAbsent() {
			return false
		}
	}
	return true
}
