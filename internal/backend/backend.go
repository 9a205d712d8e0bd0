package backend

import (
	"context"
	"io"
	"time"

	"github.com/jj-vcs/jj-go/internal/repopath"
)

// SigningFn signs the canonical commit bytes and returns the signature to
// store on the commit.
type SigningFn func(data []byte) ([]byte, error)

// Backend is the interface object storage implementations provide. Writes
// are deterministic and content-addressed: two writes of identical bytes
// yield identical ids, and a read of a just-written id within the same
// process succeeds.
type Backend interface {
	// Name identifies the backend kind, e.g. "local".
	Name() string

	// CommitIDLength returns the raw byte length of commit ids.
	CommitIDLength() int

	// ChangeIDLength returns the raw byte length of change ids.
	ChangeIDLength() int

	// RootCommitID returns the synthetic root commit all histories share.
	RootCommitID() CommitID

	// RootChangeID returns the change id of the root commit.
	RootChangeID() ChangeID

	// EmptyTreeID returns the id of the empty tree.
	EmptyTreeID() TreeID

	// Concurrency returns the number of object reads worth issuing in
	// parallel against this backend.
	Concurrency() int

	ReadFile(ctx context.Context, path repopath.RepoPath, id FileID) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path repopath.RepoPath, contents io.Reader) (FileID, error)

	ReadSymlink(ctx context.Context, path repopath.RepoPath, id SymlinkID) (string, error)
	WriteSymlink(ctx context.Context, path repopath.RepoPath, target string) (SymlinkID, error)

	ReadTree(ctx context.Context, path repopath.RepoPath, id TreeID) (*Tree, error)
	WriteTree(ctx context.Context, path repopath.RepoPath, tree *Tree) (TreeID, error)

	ReadConflict(ctx context.Context, path repopath.RepoPath, id ConflictID) (*Conflict, error)
	WriteConflict(ctx context.Context, path repopath.RepoPath, conflict *Conflict) (ConflictID, error)

	ReadCommit(ctx context.Context, id CommitID) (*Commit, error)
	// WriteCommit stores the commit, signing its canonical bytes with sign
	// when non-nil, and returns the id together with the commit as stored.
	WriteCommit(ctx context.Context, commit *Commit, sign SigningFn) (CommitID, *Commit, error)

	// GC removes objects unreachable from the given commits, keeping any
	// object written after keepNewerThan regardless.
	GC(ctx context.Context, keep []CommitID, keepNewerThan time.Time) error
}
