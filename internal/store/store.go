// Package store wraps a storage backend with typed accessors and bounded
// caches. It owns the signer so commit writes can be signed in place.
package store

import (
	"context"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/signing"
)

// There are more tree objects than commits, and trees are shared across
// commits, so the tree cache is the larger one.
const (
	commitCacheCapacity = 100
	treeCacheCapacity   = 1000
)

type treeKey struct {
	dir repopath.RepoPath
	id  backend.TreeID
}

// Store is the caching facade over a backend. It is safe for concurrent
// use; cache misses are served outside the cache lock.
type Store struct {
	backend backend.Backend
	signer  signing.Signer

	commitCache *lru.Cache[backend.CommitID, *backend.Commit]
	treeCache   *lru.Cache[treeKey, *backend.Tree]
}

// New builds a store over the backend. signer may be signing.None().
func New(b backend.Backend, signer signing.Signer) *Store {
	commitCache, _ := lru.New[backend.CommitID, *backend.Commit](commitCacheCapacity)
	treeCache, _ := lru.New[treeKey, *backend.Tree](treeCacheCapacity)
	return &Store{
		backend:     b,
		signer:      signer,
		commitCache: commitCache,
		treeCache:   treeCache,
	}
}

// Backend exposes the wrapped backend for layout inspection.
func (s *Store) Backend() backend.Backend { return s.backend }

// Signer returns the signing backend owned by the store.
func (s *Store) Signer() signing.Signer { return s.signer }

func (s *Store) CommitIDLength() int            { return s.backend.CommitIDLength() }
func (s *Store) ChangeIDLength() int            { return s.backend.ChangeIDLength() }
func (s *Store) RootCommitID() backend.CommitID { return s.backend.RootCommitID() }
func (s *Store) RootChangeID() backend.ChangeID { return s.backend.RootChangeID() }
func (s *Store) EmptyTreeID() backend.TreeID    { return s.backend.EmptyTreeID() }
func (s *Store) Concurrency() int               { return s.backend.Concurrency() }

// EmptyMergedTreeID returns the empty tree as a resolved merged id.
func (s *Store) EmptyMergedTreeID() backend.MergedTreeID {
	return backend.ResolvedTreeID(s.backend.EmptyTreeID())
}

// RootCommit reads the synthetic root commit.
func (s *Store) RootCommit(ctx context.Context) (*backend.Commit, error) {
	return s.GetCommit(ctx, s.backend.RootCommitID())
}

// GetCommit reads a commit through the cache.
func (s *Store) GetCommit(ctx context.Context, id backend.CommitID) (*backend.Commit, error) {
	if c, ok := s.commitCache.Get(id); ok {
		return c, nil
	}
	c, err := s.backend.ReadCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	s.commitCache.Add(id, c)
	return c, nil
}

// WriteCommit stores a commit, signing it when sign is true, and caches
// the stored form.
func (s *Store) WriteCommit(ctx context.Context, commit *backend.Commit, sign bool) (backend.CommitID, *backend.Commit, error) {
	var signFn backend.SigningFn
	if sign {
		signFn = s.signer.Sign
	}
	id, stored, err := s.backend.WriteCommit(ctx, commit, signFn)
	if err != nil {
		return "", nil, err
	}
	s.commitCache.Add(id, stored)
	return id, stored, nil
}

// GetTree reads the tree at dir through the cache.
func (s *Store) GetTree(ctx context.Context, dir repopath.RepoPath, id backend.TreeID) (*backend.Tree, error) {
	key := treeKey{dir: dir, id: id}
	if t, ok := s.treeCache.Get(key); ok {
		return t, nil
	}
	t, err := s.backend.ReadTree(ctx, dir, id)
	if err != nil {
		return nil, err
	}
	s.treeCache.Add(key, t)
	return t, nil
}

// WriteTree stores a tree and caches it.
func (s *Store) WriteTree(ctx context.Context, dir repopath.RepoPath, tree *backend.Tree) (backend.TreeID, error) {
	id, err := s.backend.WriteTree(ctx, dir, tree)
	if err != nil {
		return "", err
	}
	s.treeCache.Add(treeKey{dir: dir, id: id}, tree)
	return id, nil
}

// ReadFile opens file contents for streaming.
func (s *Store) ReadFile(ctx context.Context, path repopath.RepoPath, id backend.FileID) (io.ReadCloser, error) {
	return s.backend.ReadFile(ctx, path, id)
}

// WriteFile stores file contents.
func (s *Store) WriteFile(ctx context.Context, path repopath.RepoPath, contents io.Reader) (backend.FileID, error) {
	return s.backend.WriteFile(ctx, path, contents)
}

// ReadSymlink reads a symlink target.
func (s *Store) ReadSymlink(ctx context.Context, path repopath.RepoPath, id backend.SymlinkID) (string, error) {
	return s.backend.ReadSymlink(ctx, path, id)
}

// WriteSymlink stores a symlink target.
func (s *Store) WriteSymlink(ctx context.Context, path repopath.RepoPath, target string) (backend.SymlinkID, error) {
	return s.backend.WriteSymlink(ctx, path, target)
}

// ReadConflict reads a stored conflict as a merge of optional tree values.
func (s *Store) ReadConflict(ctx context.Context, path repopath.RepoPath, id backend.ConflictID) (merge.Merge[backend.TreeValue], error) {
	c, err := s.backend.ReadConflict(ctx, path, id)
	if err != nil {
		return merge.Merge[backend.TreeValue]{}, err
	}
	return c.ToMerge(), nil
}

// WriteConflict stores a merge of optional tree values as a conflict
// object.
func (s *Store) WriteConflict(ctx context.Context, path repopath.RepoPath, m merge.Merge[backend.TreeValue]) (backend.ConflictID, error) {
	return s.backend.WriteConflict(ctx, path, backend.ConflictFromMerge(m))
}

// GC delegates to the backend.
func (s *Store) GC(ctx context.Context, keep []backend.CommitID, keepNewerThan time.Time) error {
	return s.backend.GC(ctx, keep, keepNewerThan)
}
