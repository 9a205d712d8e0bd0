// Package workingcopy implements the on-disk working copy: the
// file-state index, snapshot (disk to tree), checkout (tree to disk),
// and sparse patterns.
package workingcopy

import (
	"os"
	"path/filepath"

	"github.com/google/btree"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/view"
)

// FileKind classifies a tracked path.
type FileKind int

const (
	KindFile FileKind = iota
	KindSymlink
	KindConflict
	KindGitSubmodule
)

// FileState is the per-path record used to decide whether a path changed
// without rehashing it. MtimeMillis == 0 is a sentinel meaning "always
// rehash", stored when a write raced the snapshot's mtime granularity.
type FileState struct {
	Kind        FileKind
	MtimeMillis int64
	Size        int64
	Executable  bool
}

type fileStateEntry struct {
	path  repopath.RepoPath
	state FileState
}

func lessEntry(a, b *fileStateEntry) bool { return a.path < b.path }

// TreeState is the persistent working-copy state: the checkout record
// plus the ordered file-state index.
type TreeState struct {
	// Checkout record.
	OpID      opstore.OperationID
	CommitID  backend.CommitID
	TreeID    backend.MergedTreeID
	Workspace view.WorkspaceName

	SparsePatterns []repopath.RepoPath
	WatchmanClock  string

	states *btree.BTreeG[*fileStateEntry]
}

// NewTreeState returns an empty state.
func NewTreeState() *TreeState {
	return &TreeState{states: btree.NewG(8, lessEntry)}
}

// GetFileState returns the record for a path.
func (s *TreeState) GetFileState(p repopath.RepoPath) (FileState, bool) {
	if e, ok := s.states.Get(&fileStateEntry{path: p}); ok {
		return e.state, true
	}
	return FileState{}, false
}

// SetFileState records a path.
func (s *TreeState) SetFileState(p repopath.RepoPath, state FileState) {
	s.states.ReplaceOrInsert(&fileStateEntry{path: p, state: state})
}

// RemoveFileState forgets a path.
func (s *TreeState) RemoveFileState(p repopath.RepoPath) {
	s.states.Delete(&fileStateEntry{path: p})
}

// WalkFileStates visits records in path order.
func (s *TreeState) WalkFileStates(fn func(repopath.RepoPath, FileState) bool) {
	s.states.Ascend(func(e *fileStateEntry) bool {
		return fn(e.path, e.state)
	})
}

// FileStateCount returns the number of tracked paths.
func (s *TreeState) FileStateCount() int { return s.states.Len() }

// SparseMatcher builds the matcher for the current sparse patterns.
// Empty patterns mean everything.
func (s *TreeState) SparseMatcher() repopath.Matcher {
	if len(s.SparsePatterns) == 0 {
		return repopath.Everything()
	}
	return repopath.NewPrefixMatcher(s.SparsePatterns)
}

const (
	checkoutFile  = "checkout"
	treeStateFile = "tree_state"
)

// Save persists the state atomically: the checkout record and the
// file-state index are separate files so a crash between them still
// leaves both decodable.
func (s *TreeState) Save(dir string) error {
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, checkoutFile), s.encodeCheckout(), 0o644); err != nil {
		return &backend.IOError{Op: "write", Path: filepath.Join(dir, checkoutFile), Err: err}
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, treeStateFile), s.encodeTreeState(), 0o644); err != nil {
		return &backend.IOError{Op: "write", Path: filepath.Join(dir, treeStateFile), Err: err}
	}
	return nil
}

// LoadTreeState reads the persisted state from dir.
func LoadTreeState(dir string) (*TreeState, error) {
	s := NewTreeState()
	data, err := os.ReadFile(filepath.Join(dir, checkoutFile))
	if err != nil {
		return nil, &backend.IOError{Op: "read", Path: filepath.Join(dir, checkoutFile), Err: err}
	}
	if err := s.decodeCheckout(data); err != nil {
		return nil, &backend.CorruptObjectError{ID: checkoutFile, Reason: err.Error()}
	}
	data, err = os.ReadFile(filepath.Join(dir, treeStateFile))
	if err != nil {
		return nil, &backend.IOError{Op: "read", Path: filepath.Join(dir, treeStateFile), Err: err}
	}
	if err := s.decodeTreeState(data); err != nil {
		return nil, &backend.CorruptObjectError{ID: treeStateFile, Reason: err.Error()}
	}
	return s, nil
}

func (s *TreeState) encodeCheckout() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(s.OpID))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(s.CommitID))
	for _, term := range s.TreeID.Terms() {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(term))
	}
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, string(s.Workspace))
	return b
}

func (s *TreeState) decodeCheckout(b []byte) error {
	var terms []backend.TreeID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			s.OpID = opstore.OperationID(raw)
		case 2:
			s.CommitID = backend.CommitID(raw)
		case 3:
			terms = append(terms, backend.TreeID(raw))
		case 4:
			s.Workspace = view.WorkspaceName(raw)
		}
	}
	tree, err := merge.FromTerms(terms)
	if err != nil {
		return err
	}
	s.TreeID = tree
	return nil
}

func (s *TreeState) encodeTreeState() []byte {
	var b []byte
	s.states.Ascend(func(e *fileStateEntry) bool {
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendString(m, string(e.path))
		m = protowire.AppendTag(m, 2, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(e.state.Kind))
		m = protowire.AppendTag(m, 3, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeZigZag(e.state.MtimeMillis))
		m = protowire.AppendTag(m, 4, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeZigZag(e.state.Size))
		if e.state.Executable {
			m = protowire.AppendTag(m, 5, protowire.VarintType)
			m = protowire.AppendVarint(m, 1)
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
		return true
	})
	for _, p := range s.SparsePatterns {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, string(p))
	}
	if s.WatchmanClock != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, s.WatchmanClock)
	}
	return b
}

func (s *TreeState) decodeTreeState(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			path, state, err := decodeFileStateEntry(raw)
			if err != nil {
				return err
			}
			s.SetFileState(path, state)
		case 2:
			s.SparsePatterns = append(s.SparsePatterns, repopath.RepoPath(raw))
		case 3:
			s.WatchmanClock = string(raw)
		}
	}
	return nil
}

func decodeFileStateEntry(b []byte) (repopath.RepoPath, FileState, error) {
	var path repopath.RepoPath
	var state FileState
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", state, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", state, protowire.ParseError(n)
			}
			path = repopath.RepoPath(raw)
			b = b[n:]
		case 2, 3, 4, 5:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", state, protowire.ParseError(n)
			}
			switch num {
			case 2:
				state.Kind = FileKind(x)
			case 3:
				state.MtimeMillis = protowire.DecodeZigZag(x)
			case 4:
				state.Size = protowire.DecodeZigZag(x)
			case 5:
				state.Executable = x != 0
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", state, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return path, state, nil
}
