package repo

import (
	"context"
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
)

// RebaseDescendants rewrites every descendant of a rewritten or abandoned
// commit onto the replacement parents, preserving each descendant's own
// tree changes via a three-way merge of trees. It returns the number of
// commits rebased. Calling it again right away rebases nothing.
func (m *MutableRepo) RebaseDescendants(ctx context.Context) (int, error) {
	if len(m.rewritten) == 0 && len(m.abandoned) == 0 {
		return 0, nil
	}

	children, gen, err := m.commitGraph(ctx)
	if err != nil {
		return 0, err
	}

	// Collect descendants of every rewritten or abandoned commit.
	targets := map[backend.CommitID]struct{}{}
	var queue []backend.CommitID
	for id := range m.rewritten {
		queue = append(queue, id)
	}
	for id := range m.abandoned {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, child := range children[id] {
			if _, ok := targets[child]; ok {
				continue
			}
			if _, rewrittenToo := m.rewritten[child]; rewrittenToo {
				continue
			}
			if _, abandonedToo := m.abandoned[child]; abandonedToo {
				continue
			}
			targets[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	order := make([]backend.CommitID, 0, len(targets))
	for id := range targets {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		if gen[order[i]] != gen[order[j]] {
			return gen[order[i]] < gen[order[j]]
		}
		return order[i] < order[j]
	})

	count := 0
	for _, id := range order {
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return count, err
		}
		newParents, err := m.resolveParents(ctx, commit.Parents)
		if err != nil {
			return count, err
		}
		if equalIDs(newParents, commit.Parents) {
			continue
		}
		oldParentTree, err := m.parentsTree(ctx, commit.Parents)
		if err != nil {
			return count, err
		}
		newParentTree, err := m.parentsTree(ctx, newParents)
		if err != nil {
			return count, err
		}
		newTree := merge.Combine(commit.RootTree, oldParentTree, newParentTree)

		ref, err := m.RewriteCommit(id, commit).
			SetParents(newParents).
			SetTree(newTree).
			Write(ctx)
		if err != nil {
			return count, err
		}
		// Descendants of a rebased head follow it.
		if !m.view.IsHead(ref.ID) {
			hasLiveChild := false
			for _, child := range children[id] {
				if _, willRebase := targets[child]; willRebase {
					hasLiveChild = true
					break
				}
			}
			if !hasLiveChild {
				m.view.AddHead(ref.ID)
			}
		}
		count++
	}

	// The rewrites are applied; a second call starts from a clean slate.
	m.rewritten = map[backend.CommitID][]backend.CommitID{}
	m.abandoned = map[backend.CommitID]struct{}{}
	return count, nil
}

// resolveParents maps old parents through the rewrite and abandon maps.
// Abandoned parents are replaced by their own parents; an empty result
// falls back to the root commit.
func (m *MutableRepo) resolveParents(ctx context.Context, parents []backend.CommitID) ([]backend.CommitID, error) {
	var out []backend.CommitID
	seen := map[backend.CommitID]struct{}{}
	add := func(id backend.CommitID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	var resolve func(id backend.CommitID) error
	resolve = func(id backend.CommitID) error {
		if replacements, ok := m.rewritten[id]; ok {
			for _, r := range replacements {
				add(r)
			}
			return nil
		}
		if _, ok := m.abandoned[id]; ok {
			commit, err := m.base.Store().GetCommit(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range commit.Parents {
				if err := resolve(p); err != nil {
					return err
				}
			}
			return nil
		}
		add(id)
		return nil
	}
	for _, p := range parents {
		if err := resolve(p); err != nil {
			return nil, err
		}
	}
	root := m.base.Store().RootCommitID()
	if len(out) == 0 {
		out = []backend.CommitID{root}
	}
	// Drop a redundant root parent when real parents remain.
	if len(out) > 1 {
		filtered := out[:0]
		for _, id := range out {
			if id != root {
				filtered = append(filtered, id)
			}
		}
		out = filtered
	}
	return out, nil
}

// parentsTree returns the merged tree of a parent set. Multiple parents
// combine pairwise over an empty base.
func (m *MutableRepo) parentsTree(ctx context.Context, parents []backend.CommitID) (backend.MergedTreeID, error) {
	empty := m.base.Store().EmptyMergedTreeID()
	acc := empty
	for i, p := range parents {
		commit, err := m.base.Store().GetCommit(ctx, p)
		if err != nil {
			return backend.MergedTreeID{}, err
		}
		if i == 0 {
			acc = commit.RootTree
		} else {
			acc = merge.Combine(acc, empty, commit.RootTree)
		}
	}
	return acc, nil
}

// commitGraph walks the commit DAG from the view heads and from any
// still-referenced rewritten commit, building the children index and
// generation numbers used for topological ordering.
func (m *MutableRepo) commitGraph(ctx context.Context) (map[backend.CommitID][]backend.CommitID, map[backend.CommitID]int, error) {
	children := map[backend.CommitID][]backend.CommitID{}
	gen := map[backend.CommitID]int{}

	var starts []backend.CommitID
	starts = append(starts, m.view.Heads()...)
	for _, id := range m.view.ReferencedCommitIDs() {
		starts = append(starts, id)
	}

	visited := map[backend.CommitID]struct{}{}
	var visit func(id backend.CommitID) (int, error)
	visit = func(id backend.CommitID) (int, error) {
		if g, ok := gen[id]; ok {
			return g, nil
		}
		if _, ok := visited[id]; ok {
			return 0, &backend.CorruptObjectError{ID: id.Hex(), Reason: "commit parent cycle"}
		}
		visited[id] = struct{}{}
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return 0, err
		}
		g := 0
		for _, p := range commit.Parents {
			pg, err := visit(p)
			if err != nil {
				return 0, err
			}
			if pg+1 > g {
				g = pg + 1
			}
			children[p] = append(children[p], id)
		}
		gen[id] = g
		return g, nil
	}
	for _, id := range starts {
		if _, err := visit(id); err != nil {
			return nil, nil, err
		}
	}
	// Dedup children lists; a commit can be reached from several starts.
	for p, list := range children {
		seen := map[backend.CommitID]struct{}{}
		out := list[:0]
		for _, c := range list {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
		children[p] = out
	}
	return children, gen, nil
}

func equalIDs(a, b []backend.CommitID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
