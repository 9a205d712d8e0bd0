// Package opstore persists operations and views, addressed by the content
// hash of their encoded form. Operation parents therefore form a Merkle
// DAG.
package opstore

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/view"
)

const idLength = 32

// OperationID identifies an operation by content hash.
type OperationID string

// ViewID identifies a view by content hash.
type ViewID string

func (id OperationID) Hex() string { return hex.EncodeToString([]byte(id)) }
func (id ViewID) Hex() string      { return hex.EncodeToString([]byte(id)) }

// OperationIDFromHex parses a hex operation id.
func OperationIDFromHex(s string) (OperationID, error) {
	raw, err := backend.ParseHexID(s)
	if err != nil {
		return "", err
	}
	return OperationID(raw), nil
}

// Metadata describes who performed an operation and when.
type Metadata struct {
	StartTime   backend.Timestamp
	EndTime     backend.Timestamp
	Description string
	Hostname    string
	Username    string
	Tags        map[string]string
}

// Operation records one transition of the view. Its id is the content
// hash of the encoded form.
type Operation struct {
	ViewID  ViewID
	Parents []OperationID
	Meta    Metadata
	// CommitPredecessors records, per rewritten commit, the commits it
	// evolved from. Kept on the operation so commits stay acyclic.
	CommitPredecessors map[backend.CommitID][]backend.CommitID
}

// SortOperationIDs orders ids ascending; the canonical order for
// operation parents.
func SortOperationIDs(ids []OperationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Store reads and writes operations and views under a directory.
type Store struct {
	path string

	rootOpID    OperationID
	emptyViewID ViewID
}

// InitStore creates the on-disk layout.
func InitStore(path string) (*Store, error) {
	for _, dir := range []string{"", "operations", "views"} {
		if err := fileutil.CreateOrReuseDir(filepath.Join(path, dir)); err != nil {
			return nil, &backend.IOError{Op: "create", Path: filepath.Join(path, dir), Err: err}
		}
	}
	return LoadStore(path), nil
}

// LoadStore opens an existing layout.
func LoadStore(path string) *Store {
	return &Store{
		path:        path,
		rootOpID:    OperationID(bytes.Repeat([]byte{0}, idLength)),
		emptyViewID: ViewID(hashBytes(encodeView(view.New()))),
	}
}

// RootOperationID returns the synthetic root every op log shares.
func (s *Store) RootOperationID() OperationID { return s.rootOpID }

// EmptyViewID returns the id of the empty view, the root operation's view.
func (s *Store) EmptyViewID() ViewID { return s.emptyViewID }

// RootOperation returns the synthetic root operation.
func (s *Store) RootOperation() *Operation {
	return &Operation{ViewID: s.emptyViewID}
}

func hashBytes(data []byte) []byte {
	sum := blake2b.Sum256(data)
	return sum[:]
}

func (s *Store) writeObject(kind string, data []byte) ([]byte, error) {
	id := hashBytes(data)
	target := filepath.Join(s.path, kind, hex.EncodeToString(id))
	if _, err := os.Stat(target); err == nil {
		return id, nil
	}
	f, err := fileutil.TempFile(filepath.Join(s.path, kind), ".tmp-")
	if err != nil {
		return nil, &backend.IOError{Op: "create temp in", Path: filepath.Join(s.path, kind), Err: err}
	}
	tempPath := f.Name()
	_, werr := f.Write(data)
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

func (s *Store) readObject(kind, idHex string, id []byte) ([]byte, error) {
	p := filepath.Join(s.path, kind, idHex)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &backend.NotFoundError{Kind: kind[:len(kind)-1], ID: idHex}
		}
		return nil, &backend.IOError{Op: "read", Path: p, Err: err}
	}
	if !bytes.Equal(hashBytes(data), id) {
		return nil, &backend.CorruptObjectError{ID: idHex, Reason: "content hash mismatch"}
	}
	return data, nil
}

// WriteView stores a view and returns its content-hash id.
func (s *Store) WriteView(v *view.View) (ViewID, error) {
	id, err := s.writeObject("views", encodeView(v))
	if err != nil {
		return "", err
	}
	return ViewID(id), nil
}

// ReadView loads a view by id.
func (s *Store) ReadView(id ViewID) (*view.View, error) {
	if id == s.emptyViewID {
		return view.New(), nil
	}
	data, err := s.readObject("views", id.Hex(), []byte(id))
	if err != nil {
		return nil, err
	}
	v, err := decodeView(data)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: id.Hex(), Reason: errors.Wrap(err, "decode view").Error()}
	}
	return v, nil
}

// WriteOperation stores an operation and returns its content-hash id.
func (s *Store) WriteOperation(op *Operation) (OperationID, error) {
	id, err := s.writeObject("operations", encodeOperation(op))
	if err != nil {
		return "", err
	}
	return OperationID(id), nil
}

// ReadOperation loads an operation by id.
func (s *Store) ReadOperation(id OperationID) (*Operation, error) {
	if id == s.rootOpID {
		return s.RootOperation(), nil
	}
	data, err := s.readObject("operations", id.Hex(), []byte(id))
	if err != nil {
		return nil, err
	}
	op, err := decodeOperation(data)
	if err != nil {
		return nil, &backend.CorruptObjectError{ID: id.Hex(), Reason: errors.Wrap(err, "decode operation").Error()}
	}
	return op, nil
}

// RemoveOperation deletes an operation blob. Used only by GC.
func (s *Store) RemoveOperation(id OperationID) error {
	if id == s.rootOpID {
		return nil
	}
	return os.Remove(filepath.Join(s.path, "operations", id.Hex()))
}

// RemoveView deletes a view blob. Used only by GC.
func (s *Store) RemoveView(id ViewID) error {
	if id == s.emptyViewID {
		return nil
	}
	return os.Remove(filepath.Join(s.path, "views", id.Hex()))
}

// ListOperationIDs enumerates every stored operation.
func (s *Store) ListOperationIDs() ([]OperationID, error) {
	return listIDs[OperationID](filepath.Join(s.path, "operations"))
}

// ListViewIDs enumerates every stored view.
func (s *Store) ListViewIDs() ([]ViewID, error) {
	return listIDs[ViewID](filepath.Join(s.path, "views"))
}

func listIDs[T ~string](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &backend.IOError{Op: "read", Path: dir, Err: err}
	}
	var ids []T
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, T(raw))
	}
	return ids, nil
}
