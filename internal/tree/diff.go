package tree

import (
	"context"
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
)

// DiffEntry reports one differing path. Before and After are normalized
// merged values; an absent side is a resolved absent merge.
type DiffEntry struct {
	Path   repopath.RepoPath
	Before merge.Merge[backend.TreeValue]
	After  merge.Merge[backend.TreeValue]
}

// Diff streams every path whose value differs between t and other, each
// exactly once, in lexicographic order of the full path. Only paths
// selected by the matcher are reported, but directories are descended
// whenever the matcher may select something beneath them.
func (t *MergedTree) Diff(ctx context.Context, other *MergedTree, matcher repopath.Matcher, fn func(DiffEntry) error) error {
	return t.diffDirs(ctx, repopath.Root(), dirTerms(t.roots), dirTerms(other.roots), other, matcher, fn)
}

func absentValue() merge.Merge[backend.TreeValue] {
	return merge.Resolved(backend.TreeValue{})
}

func (t *MergedTree) diffDirs(ctx context.Context, dir repopath.RepoPath, before, after dirTerms, other *MergedTree, matcher repopath.Matcher, fn func(DiffEntry) error) error {
	names := unionNames(before, after)
	for _, name := range names {
		path := dir.Join(name)
		bv := before.value(name)
		av := after.value(name)

		bDir := isDirish(bv)
		aDir := isDirish(av)
		switch {
		case bDir && aDir:
			if !sameTrees(bv, av) && matcher.VisitDir(path) {
				bSub, err := t.subDir(ctx, before, dir, name)
				if err != nil {
					return err
				}
				aSub, err := other.subDir(ctx, after, dir, name)
				if err != nil {
					return err
				}
				if err := t.diffDirs(ctx, path, bSub, aSub, other, matcher, fn); err != nil {
					return err
				}
			}
		case bDir:
			// A directory turned into a file (or vanished). The file value
			// at the path sorts before everything beneath the directory.
			if !isAbsent(av) && matcher.Matches(path) {
				norm, err := other.normalize(ctx, path, av)
				if err != nil {
					return err
				}
				if err := fn(DiffEntry{Path: path, Before: absentValue(), After: norm}); err != nil {
					return err
				}
			}
			if matcher.VisitDir(path) {
				bSub, err := t.subDir(ctx, before, dir, name)
				if err != nil {
					return err
				}
				if err := t.walk(ctx, path, bSub, matcher, func(p repopath.RepoPath, v merge.Merge[backend.TreeValue]) error {
					return fn(DiffEntry{Path: p, Before: v, After: absentValue()})
				}); err != nil {
					return err
				}
			}
		case aDir:
			if !isAbsent(bv) && matcher.Matches(path) {
				norm, err := t.normalize(ctx, path, bv)
				if err != nil {
					return err
				}
				if err := fn(DiffEntry{Path: path, Before: norm, After: absentValue()}); err != nil {
					return err
				}
			}
			if matcher.VisitDir(path) {
				aSub, err := other.subDir(ctx, after, dir, name)
				if err != nil {
					return err
				}
				if err := other.walk(ctx, path, aSub, matcher, func(p repopath.RepoPath, v merge.Merge[backend.TreeValue]) error {
					return fn(DiffEntry{Path: p, Before: absentValue(), After: v})
				}); err != nil {
					return err
				}
			}
		default:
			if !matcher.Matches(path) {
				continue
			}
			bNorm, err := t.normalize(ctx, path, bv)
			if err != nil {
				return err
			}
			aNorm, err := other.normalize(ctx, path, av)
			if err != nil {
				return err
			}
			if merge.Equal(bNorm, aNorm) {
				continue
			}
			if err := fn(DiffEntry{Path: path, Before: bNorm, After: aNorm}); err != nil {
				return err
			}
		}
	}
	return nil
}

// sameTrees reports whether two directory merges reference identical
// subtree ids term by term, which lets the diff skip the whole subtree.
func sameTrees(a, b merge.Merge[backend.TreeValue]) bool {
	at, bt := a.Terms(), b.Terms()
	if len(at) != len(bt) {
		return false
	}
	for i := range at {
		if at[i] != bt[i] {
			return false
		}
	}
	return true
}

func unionNames(a, b dirTerms) []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(d dirTerms) {
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
	}
	add(a)
	add(b)
	sort.Strings(names)
	return names
}
