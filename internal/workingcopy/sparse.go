package workingcopy

import (
	"context"
	"os"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/tree"
)

// SetSparsePatterns changes which paths the working copy materializes.
// Paths leaving the pattern set are removed from disk and the state
// index but stay in the tree; paths entering are written out from the
// current tree.
func (wc *WorkingCopy) SetSparsePatterns(ctx context.Context, patterns []repopath.RepoPath) (CheckoutStats, error) {
	var stats CheckoutStats
	err := wc.locked(func(state *TreeState) error {
		oldMatcher := state.SparseMatcher()
		state.SparsePatterns = append([]repopath.RepoPath(nil), patterns...)
		newMatcher := state.SparseMatcher()

		currentTree, err := tree.Root(ctx, wc.store, state.TreeID)
		if err != nil {
			return err
		}

		// Leaving the matcher: remove from disk, keep in the tree.
		var leaving []repopath.RepoPath
		state.WalkFileStates(func(p repopath.RepoPath, _ FileState) bool {
			if oldMatcher.Matches(p) && !newMatcher.Matches(p) {
				leaving = append(leaving, p)
			}
			return true
		})
		for _, p := range leaving {
			target := p.FSPath(wc.root)
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return &backend.IOError{Op: "remove", Path: target, Err: err}
			}
			wc.removeEmptyParents(p)
			state.RemoveFileState(p)
			stats.Removed++
		}

		// Entering the matcher: materialize from the current tree.
		err = currentTree.Entries(ctx, newMatcher, func(p repopath.RepoPath, v merge.Merge[backend.TreeValue]) error {
			if oldMatcher.Matches(p) {
				return nil
			}
			if err := wc.writeValue(ctx, state, p, v); err != nil {
				return err
			}
			stats.Added++
			return nil
		})
		if err != nil {
			return err
		}
		return state.Save(wc.statePath)
	})
	if err != nil {
		return CheckoutStats{}, err
	}
	return stats, nil
}
