package local

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/repopath"
)

// GC removes objects unreachable from the given commits. An object whose
// file was written after keepNewerThan is kept regardless, which protects
// objects written by an operation that has not published its heads yet.
func (b *Backend) GC(ctx context.Context, keep []backend.CommitID, keepNewerThan time.Time) error {
	live := map[string]map[string]struct{}{
		dirCommits:   {},
		dirTrees:     {},
		dirFiles:     {},
		dirSymlinks:  {},
		dirConflicts: {},
	}

	pending := append([]backend.CommitID(nil), keep...)
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if id == b.rootCommit {
			continue
		}
		key := id.Hex()
		if _, seen := live[dirCommits][key]; seen {
			continue
		}
		live[dirCommits][key] = struct{}{}
		commit, err := b.ReadCommit(ctx, id)
		if err != nil {
			return err
		}
		pending = append(pending, commit.Parents...)
		for _, treeID := range commit.RootTree.Terms() {
			if err := b.markTree(ctx, repopath.Root(), treeID, live); err != nil {
				return err
			}
		}
	}

	for kind, keepSet := range live {
		if err := b.sweep(kind, keepSet, keepNewerThan); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) markTree(ctx context.Context, dir repopath.RepoPath, id backend.TreeID, live map[string]map[string]struct{}) error {
	key := id.Hex()
	if _, seen := live[dirTrees][key]; seen {
		return nil
	}
	live[dirTrees][key] = struct{}{}
	tree, err := b.ReadTree(ctx, dir, id)
	if err != nil {
		return err
	}
	for _, entry := range tree.Entries() {
		switch entry.Value.Kind {
		case backend.TreeValueFile:
			live[dirFiles][entry.Value.File.Hex()] = struct{}{}
		case backend.TreeValueSymlink:
			live[dirSymlinks][entry.Value.Symlink.Hex()] = struct{}{}
		case backend.TreeValueConflict:
			live[dirConflicts][entry.Value.Conflict.Hex()] = struct{}{}
			if err := b.markConflict(ctx, dir.Join(entry.Name), entry.Value.Conflict, live); err != nil {
				return err
			}
		case backend.TreeValueTree:
			if err := b.markTree(ctx, dir.Join(entry.Name), entry.Value.Tree, live); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) markConflict(ctx context.Context, path repopath.RepoPath, id backend.ConflictID, live map[string]map[string]struct{}) error {
	conflict, err := b.ReadConflict(ctx, path, id)
	if err != nil {
		return err
	}
	for _, v := range append(append([]backend.TreeValue(nil), conflict.Removes...), conflict.Adds...) {
		switch v.Kind {
		case backend.TreeValueFile:
			live[dirFiles][v.File.Hex()] = struct{}{}
		case backend.TreeValueSymlink:
			live[dirSymlinks][v.Symlink.Hex()] = struct{}{}
		}
	}
	return nil
}

func (b *Backend) sweep(kind string, keep map[string]struct{}, keepNewerThan time.Time) error {
	dir := filepath.Join(b.path, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &backend.IOError{Op: "read", Path: dir, Err: err}
	}
	// The empty tree is always reachable in spirit even when no commit
	// references it yet.
	if kind == dirTrees {
		keep[hex.EncodeToString([]byte(b.emptyTreeID))] = struct{}{}
	}
	for _, entry := range entries {
		name := entry.Name()
		if _, ok := keep[name]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(keepNewerThan) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, name))
	}
	return nil
}
