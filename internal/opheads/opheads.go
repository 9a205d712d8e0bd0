// Package opheads tracks the current heads of the operation log as
// zero-length files in a heads directory. The directory is the
// synchronization point for operation commits.
package opheads

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/lock"
	"github.com/jj-vcs/jj-go/internal/opstore"
)

// Store manages the op-heads directory.
type Store struct {
	path string // contains heads/ and the lock file
}

// Init creates the layout and records the root operation as the initial
// head.
func Init(path string, rootOp opstore.OperationID) (*Store, error) {
	for _, dir := range []string{"", "heads"} {
		if err := fileutil.CreateOrReuseDir(filepath.Join(path, dir)); err != nil {
			return nil, &backend.IOError{Op: "create", Path: filepath.Join(path, dir), Err: err}
		}
	}
	s := &Store{path: path}
	if err := s.addHead(rootOp); err != nil {
		return nil, err
	}
	return s, nil
}

// Load opens an existing layout.
func Load(path string) *Store { return &Store{path: path} }

func (s *Store) headsDir() string { return filepath.Join(s.path, "heads") }

func (s *Store) headPath(id opstore.OperationID) string {
	return filepath.Join(s.headsDir(), id.Hex())
}

// Heads enumerates the current head ids in ascending order.
func (s *Store) Heads() ([]opstore.OperationID, error) {
	entries, err := os.ReadDir(s.headsDir())
	if err != nil {
		return nil, &backend.IOError{Op: "read", Path: s.headsDir(), Err: err}
	}
	var ids []opstore.OperationID
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Name())
		if err != nil {
			// Not a head file; ignore.
			continue
		}
		ids = append(ids, opstore.OperationID(raw))
	}
	opstore.SortOperationIDs(ids)
	return ids, nil
}

func (s *Store) addHead(id opstore.OperationID) error {
	f, err := os.OpenFile(s.headPath(id), os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return &backend.IOError{Op: "create", Path: s.headPath(id), Err: err}
	}
	return f.Close()
}

func (s *Store) removeHead(id opstore.OperationID) {
	// A concurrent process may have removed it already.
	_ = os.Remove(s.headPath(id))
}

// Lock takes the op-heads lock, blocking until available.
func (s *Store) Lock() (*lock.FileLock, error) {
	return lock.Lock(filepath.Join(s.path, "op_heads.lock"))
}

// Promote publishes newID as a head and retires the given ancestors,
// under the op-heads lock. The new head file is created before the old
// ones are removed so a crash can only leave extra heads, never none.
// If other heads were published concurrently they remain; the next load
// reconciles them.
func (s *Store) Promote(newID opstore.OperationID, ancestors []opstore.OperationID) error {
	l, err := s.Lock()
	if err != nil {
		return err
	}
	defer l.Unlock()
	return s.PromoteLocked(newID, ancestors)
}

// PromoteLocked is Promote for callers that already hold the lock.
func (s *Store) PromoteLocked(newID opstore.OperationID, ancestors []opstore.OperationID) error {
	if err := s.addHead(newID); err != nil {
		return err
	}
	for _, id := range ancestors {
		if id != newID {
			s.removeHead(id)
		}
	}
	return nil
}

// Add publishes an id as a head without retiring anything. Used to
// integrate an operation that fell off the head path.
func (s *Store) Add(id opstore.OperationID) error {
	return s.addHead(id)
}
