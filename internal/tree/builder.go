// Package tree provides tree construction and the merged-tree view over
// possibly conflicted root trees.
package tree

import (
	"context"
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/store"
)

// Builder buffers set/remove overrides on a base tree and writes the
// altered subtree chain bottom-up. Directories that become empty are
// removed from their parent; the root tree is written even when empty.
type Builder struct {
	store      *store.Store
	baseTreeID backend.TreeID
	overrides  map[repopath.RepoPath]*backend.TreeValue // nil removes the path
}

// NewBuilder starts a builder over the given base tree.
func NewBuilder(s *store.Store, baseTreeID backend.TreeID) *Builder {
	return &Builder{
		store:      s,
		baseTreeID: baseTreeID,
		overrides:  make(map[repopath.RepoPath]*backend.TreeValue),
	}
}

// HasOverrides reports whether any path was set or removed.
func (b *Builder) HasOverrides() bool { return len(b.overrides) > 0 }

// Set records a value override for a file path.
func (b *Builder) Set(path repopath.RepoPath, value backend.TreeValue) {
	v := value
	b.overrides[path] = &v
}

// Remove records a removal for a file path.
func (b *Builder) Remove(path repopath.RepoPath) {
	b.overrides[path] = nil
}

// Write applies the overrides and returns the new root tree id.
func (b *Builder) Write(ctx context.Context) (backend.TreeID, error) {
	if len(b.overrides) == 0 {
		return b.baseTreeID, nil
	}

	trees, err := b.baseTrees(ctx)
	if err != nil {
		return "", err
	}

	// Update the parent-directory trees for each override.
	paths := make([]repopath.RepoPath, 0, len(b.overrides))
	for p := range b.overrides {
		paths = append(paths, p)
	}
	repopath.SortPaths(paths)
	for _, path := range paths {
		dir, base, ok := path.Split()
		if !ok {
			continue
		}
		tree := trees[dir]
		if value := b.overrides[path]; value != nil {
			tree.Set(base, *value)
		} else {
			tree.Remove(base)
		}
	}

	// Write trees level by level, starting with trees without children.
	for {
		leaves := make(map[repopath.RepoPath]struct{}, len(trees))
		for dir := range trees {
			leaves[dir] = struct{}{}
		}
		for dir := range trees {
			if !dir.IsRoot() {
				delete(leaves, dir.Parent())
			}
		}

		dirs := make([]repopath.RepoPath, 0, len(leaves))
		for dir := range leaves {
			dirs = append(dirs, dir)
		}
		repopath.SortPaths(dirs)

		for _, dir := range dirs {
			tree := trees[dir]
			delete(trees, dir)
			parent, base, ok := dir.Split()
			if !ok {
				// The root: write even if empty, and we are done.
				return b.store.WriteTree(ctx, dir, tree)
			}
			if tree.IsEmpty() {
				trees[parent].Remove(base)
			} else {
				id, err := b.store.WriteTree(ctx, dir, tree)
				if err != nil {
					return "", err
				}
				trees[parent].Set(base, backend.TreeDirValue(id))
			}
		}
	}
}

// baseTrees loads every directory tree on the path from the root to each
// override's parent, substituting empty trees for directories that do not
// exist in the base.
func (b *Builder) baseTrees(ctx context.Context) (map[repopath.RepoPath]*backend.Tree, error) {
	trees := make(map[repopath.RepoPath]*backend.Tree)

	root, err := b.store.GetTree(ctx, repopath.Root(), b.baseTreeID)
	if err != nil {
		return nil, err
	}
	trees[repopath.Root()] = root.Clone()

	dirs := make([]repopath.RepoPath, 0, len(b.overrides))
	for p := range b.overrides {
		dirs = append(dirs, p.Parent())
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })

	for _, dir := range dirs {
		current := repopath.Root()
		for _, component := range dir.Components() {
			next := current.Join(component)
			if _, ok := trees[next]; !ok {
				var sub *backend.Tree
				if value, ok := trees[current].Get(component); ok && value.Kind == backend.TreeValueTree {
					loaded, err := b.store.GetTree(ctx, next, value.Tree)
					if err != nil {
						return nil, err
					}
					sub = loaded.Clone()
				} else {
					sub = backend.NewTree()
				}
				trees[next] = sub
			}
			current = next
		}
	}
	return trees, nil
}
