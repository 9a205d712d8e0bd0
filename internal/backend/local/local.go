// Package local implements the native object storage backend: snappy-framed
// objects in content-addressed files, ids derived with BLAKE2b.
package local

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/repopath"
)

const (
	commitIDLength = 32
	changeIDLength = 16

	dirCommits   = "commits"
	dirTrees     = "trees"
	dirFiles     = "files"
	dirSymlinks  = "symlinks"
	dirConflicts = "conflicts"
)

// Backend stores objects under a store directory, one file per object,
// named by the hex of the object's BLAKE2b-256 hash.
type Backend struct {
	path        string
	rootCommit  backend.CommitID
	rootChange  backend.ChangeID
	emptyTreeID backend.TreeID
}

var _ backend.Backend = (*Backend)(nil)

// Init creates the store layout and writes the empty tree.
func Init(path string) (*Backend, error) {
	for _, dir := range []string{"", dirCommits, dirTrees, dirFiles, dirSymlinks, dirConflicts} {
		if err := fileutil.CreateOrReuseDir(filepath.Join(path, dir)); err != nil {
			return nil, &backend.IOError{Op: "create", Path: filepath.Join(path, dir), Err: err}
		}
	}
	b := Load(path)
	if _, err := b.WriteTree(context.Background(), repopath.Root(), backend.NewTree()); err != nil {
		return nil, err
	}
	return b, nil
}

// Load opens an existing store directory.
func Load(path string) *Backend {
	return &Backend{
		path:        path,
		rootCommit:  backend.CommitID(bytes.Repeat([]byte{0}, commitIDLength)),
		rootChange:  backend.ChangeID(bytes.Repeat([]byte{0}, changeIDLength)),
		emptyTreeID: backend.TreeID(hashBytes(encodeTree(backend.NewTree()))),
	}
}

func (b *Backend) Name() string                   { return "local" }
func (b *Backend) CommitIDLength() int            { return commitIDLength }
func (b *Backend) ChangeIDLength() int            { return changeIDLength }
func (b *Backend) RootCommitID() backend.CommitID { return b.rootCommit }
func (b *Backend) RootChangeID() backend.ChangeID { return b.rootChange }
func (b *Backend) EmptyTreeID() backend.TreeID    { return b.emptyTreeID }
func (b *Backend) Concurrency() int               { return 8 }

func hashBytes(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func (b *Backend) objectPath(kind string, id []byte) string {
	return filepath.Join(b.path, kind, hex.EncodeToString(id))
}

// writeObject persists encoded object bytes under their hash and returns
// the raw id.
func (b *Backend) writeObject(kind string, data []byte) ([]byte, error) {
	id := hashBytes(data)
	target := b.objectPath(kind, id)
	if _, err := os.Stat(target); err == nil {
		return id, nil
	}
	f, err := fileutil.TempFile(filepath.Join(b.path, kind), ".tmp-")
	if err != nil {
		return nil, &backend.IOError{Op: "create temp in", Path: filepath.Join(b.path, kind), Err: err}
	}
	tempPath := f.Name()
	_, werr := f.Write(snappy.Encode(nil, data))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(tempPath)
		if werr == nil {
			werr = cerr
		}
		return nil, &backend.IOError{Op: "write", Path: tempPath, Err: werr}
	}
	if err := fileutil.PersistContentAddressed(tempPath, target); err != nil {
		return nil, &backend.IOError{Op: "persist", Path: target, Err: err}
	}
	return id, nil
}

func (b *Backend) readObject(kind string, id []byte, idHex string) ([]byte, error) {
	raw, err := os.ReadFile(b.objectPath(kind, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &backend.NotFoundError{Kind: kind[:len(kind)-1], ID: idHex}
		}
		return nil, &backend.IOError{Op: "read", Path: b.objectPath(kind, id), Err: err}
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: idHex, Reason: errors.Wrap(err, "snappy").Error()}
	}
	if !bytes.Equal(hashBytes(data), id) {
		return nil, &backend.CorruptObjectError{ID: idHex, Reason: "content hash mismatch"}
	}
	return data, nil
}

func (b *Backend) ReadFile(ctx context.Context, path repopath.RepoPath, id backend.FileID) (io.ReadCloser, error) {
	data, err := b.readObject(dirFiles, []byte(id), id.Hex())
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *Backend) WriteFile(ctx context.Context, path repopath.RepoPath, contents io.Reader) (backend.FileID, error) {
	data, err := io.ReadAll(contents)
	if err != nil {
		return "", &backend.IOError{Op: "read contents for", Path: path.String(), Err: err}
	}
	id, err := b.writeObject(dirFiles, data)
	if err != nil {
		return "", err
	}
	return backend.FileID(id), nil
}

func (b *Backend) ReadSymlink(ctx context.Context, path repopath.RepoPath, id backend.SymlinkID) (string, error) {
	data, err := b.readObject(dirSymlinks, []byte(id), id.Hex())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *Backend) WriteSymlink(ctx context.Context, path repopath.RepoPath, target string) (backend.SymlinkID, error) {
	id, err := b.writeObject(dirSymlinks, []byte(target))
	if err != nil {
		return "", err
	}
	return backend.SymlinkID(id), nil
}

func (b *Backend) ReadTree(ctx context.Context, path repopath.RepoPath, id backend.TreeID) (*backend.Tree, error) {
	data, err := b.readObject(dirTrees, []byte(id), id.Hex())
	if err != nil {
		return nil, err
	}
	tree, err := decodeTree(data)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: id.Hex(), Reason: err.Error()}
	}
	return tree, nil
}

func (b *Backend) WriteTree(ctx context.Context, path repopath.RepoPath, tree *backend.Tree) (backend.TreeID, error) {
	id, err := b.writeObject(dirTrees, encodeTree(tree))
	if err != nil {
		return "", err
	}
	return backend.TreeID(id), nil
}

func (b *Backend) ReadConflict(ctx context.Context, path repopath.RepoPath, id backend.ConflictID) (*backend.Conflict, error) {
	data, err := b.readObject(dirConflicts, []byte(id), id.Hex())
	if err != nil {
		return nil, err
	}
	conflict, err := decodeConflict(data)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: id.Hex(), Reason: err.Error()}
	}
	return conflict, nil
}

func (b *Backend) WriteConflict(ctx context.Context, path repopath.RepoPath, conflict *backend.Conflict) (backend.ConflictID, error) {
	id, err := b.writeObject(dirConflicts, encodeConflict(conflict))
	if err != nil {
		return "", err
	}
	return backend.ConflictID(id), nil
}

func (b *Backend) ReadCommit(ctx context.Context, id backend.CommitID) (*backend.Commit, error) {
	if id == b.rootCommit {
		return b.rootCommitObject(), nil
	}
	data, err := b.readObject(dirCommits, []byte(id), id.Hex())
	if err != nil {
		return nil, err
	}
	commit, err := decodeCommit(data)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: id.Hex(), Reason: err.Error()}
	}
	return commit, nil
}

func (b *Backend) rootCommitObject() *backend.Commit {
	return &backend.Commit{
		RootTree: backend.ResolvedTreeID(b.emptyTreeID),
		Change:   b.rootChange,
	}
}

func (b *Backend) WriteCommit(ctx context.Context, commit *backend.Commit, sign backend.SigningFn) (backend.CommitID, *backend.Commit, error) {
	if len(commit.Parents) == 0 {
		return "", nil, &backend.Error{Kind: b.Name(), Message: "cannot write a commit with no parents"}
	}
	stored := commit.Clone()
	if sign != nil {
		sig, err := sign(encodeCommit(stored, false))
		if err != nil {
			return "", nil, &backend.Error{Kind: b.Name(), Message: "signing failed", Err: err}
		}
		stored.SecureSig = sig
	}
	id, err := b.writeObject(dirCommits, encodeCommit(stored, true))
	if err != nil {
		return "", nil, err
	}
	return backend.CommitID(id), stored, nil
}
