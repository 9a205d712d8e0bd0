package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/backend/local"
	"github.com/jj-vcs/jj-go/internal/fileutil"
	"github.com/jj-vcs/jj-go/internal/opheads"
	"github.com/jj-vcs/jj-go/internal/oplog"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/signing"
	"github.com/jj-vcs/jj-go/internal/store"
	"github.com/jj-vcs/jj-go/internal/view"
)

// Loader resolves the on-disk store layout of a repository and loads it
// at an operation.
type Loader struct {
	repoPath string
	opts     Options

	store   *store.Store
	opStore *opstore.Store
	opHeads *opheads.Store
}

// Init creates a repository under repoPath (the ".jj/repo" directory) and
// writes the initial operation: an empty working-copy commit on top of
// the root, checked out in the default workspace.
func Init(ctx context.Context, repoPath string, signer signing.Signer, opts Options) (*ReadonlyRepo, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, &backend.IOError{Op: "create", Path: repoPath, Err: err}
	}
	storeBackend, err := local.Init(filepath.Join(repoPath, "store"))
	if err != nil {
		return nil, err
	}
	if err := writeKindFile(filepath.Join(repoPath, "store", "type"), storeBackend.Name()); err != nil {
		return nil, err
	}
	ops, err := opstore.InitStore(filepath.Join(repoPath, "op_store"))
	if err != nil {
		return nil, err
	}
	if err := writeKindFile(filepath.Join(repoPath, "op_store", "type"), "simple"); err != nil {
		return nil, err
	}
	heads, err := opheads.Init(filepath.Join(repoPath, "op_heads"), ops.RootOperationID())
	if err != nil {
		return nil, err
	}
	if err := fileutil.CreateOrReuseDir(filepath.Join(repoPath, "index")); err != nil {
		return nil, &backend.IOError{Op: "create", Path: filepath.Join(repoPath, "index"), Err: err}
	}

	loader := &Loader{
		repoPath: repoPath,
		opts:     opts,
		store:    store.New(storeBackend, signer),
		opStore:  ops,
		opHeads:  heads,
	}

	root, err := loader.loadAt(ctx, ops.RootOperationID())
	if err != nil {
		return nil, err
	}
	tx := root.StartTransaction()
	wc, err := tx.Mutable().NewCommit(
		[]backend.CommitID{loader.store.RootCommitID()},
		loader.store.EmptyMergedTreeID(),
	).Write(ctx)
	if err != nil {
		return nil, err
	}
	tx.Mutable().SetWCCommit(view.DefaultWorkspaceName, wc.ID)
	return tx.Commit(ctx, "initialize repo")
}

// NewLoader opens an existing repository layout.
func NewLoader(repoPath string, signer signing.Signer, opts Options) (*Loader, error) {
	opts = opts.withDefaults()
	kind, err := readKindFile(filepath.Join(repoPath, "store", "type"))
	if err != nil {
		return nil, err
	}
	if kind != "local" {
		return nil, &backend.Error{Kind: kind, Message: "unknown store backend"}
	}
	opKind, err := readKindFile(filepath.Join(repoPath, "op_store", "type"))
	if err != nil {
		return nil, err
	}
	if opKind != "simple" {
		return nil, &backend.Error{Kind: opKind, Message: "unknown operation store"}
	}
	return &Loader{
		repoPath: repoPath,
		opts:     opts,
		store:    store.New(local.Load(filepath.Join(repoPath, "store")), signer),
		opStore:  opstore.LoadStore(filepath.Join(repoPath, "op_store")),
		opHeads:  opheads.Load(filepath.Join(repoPath, "op_heads")),
	}, nil
}

// RepoPath returns the .jj/repo directory.
func (l *Loader) RepoPath() string { return l.repoPath }

// Store returns the object store.
func (l *Loader) Store() *store.Store { return l.store }

// OpStore returns the operation store.
func (l *Loader) OpStore() *opstore.Store { return l.opStore }

// OpHeads returns the op-heads store.
func (l *Loader) OpHeads() *opheads.Store { return l.opHeads }

// LoadAt loads the repository at the given operation.
func (l *Loader) LoadAt(ctx context.Context, opID opstore.OperationID) (*ReadonlyRepo, error) {
	return l.loadAt(ctx, opID)
}

func (l *Loader) loadAt(ctx context.Context, opID opstore.OperationID) (*ReadonlyRepo, error) {
	op, err := l.opStore.ReadOperation(opID)
	if err != nil {
		return nil, err
	}
	v, err := l.opStore.ReadView(op.ViewID)
	if err != nil {
		return nil, err
	}
	return &ReadonlyRepo{loader: l, opID: opID, op: op, view: v}, nil
}

// LoadAtHead loads the repository at the current operation head,
// reconciling concurrent heads into a merged operation first when needed.
func (l *Loader) LoadAtHead(ctx context.Context) (*ReadonlyRepo, error) {
	heads, err := l.opHeads.Heads()
	if err != nil {
		return nil, err
	}
	switch len(heads) {
	case 0:
		return nil, &backend.CorruptObjectError{ID: "op_heads", Reason: "no operation heads"}
	case 1:
		return l.loadAt(ctx, heads[0])
	default:
		return l.reconcile(ctx, heads)
	}
}

// Integrate re-runs reconciliation with an extra operation added to the
// head set, surfacing an operation that fell off the head path.
func (l *Loader) Integrate(ctx context.Context, opID opstore.OperationID) (*ReadonlyRepo, error) {
	if err := l.opHeads.Add(opID); err != nil {
		return nil, err
	}
	heads, err := l.opHeads.Heads()
	if err != nil {
		return nil, err
	}
	// Drop heads that are ancestors of other heads before merging.
	filtered, err := l.filterAncestorHeads(heads)
	if err != nil {
		return nil, err
	}
	if len(filtered) == 1 {
		if err := l.opHeads.Promote(filtered[0], heads); err != nil {
			return nil, err
		}
		return l.loadAt(ctx, filtered[0])
	}
	return l.reconcile(ctx, filtered)
}

func (l *Loader) filterAncestorHeads(heads []opstore.OperationID) ([]opstore.OperationID, error) {
	var tips []opstore.OperationID
	for _, candidate := range heads {
		isTip := true
		for _, other := range heads {
			if other == candidate {
				continue
			}
			ancestor, err := oplog.IsAncestor(l.opStore, candidate, other)
			if err != nil {
				return nil, err
			}
			if ancestor {
				isTip = false
				break
			}
		}
		if isTip {
			tips = append(tips, candidate)
		}
	}
	return tips, nil
}

// reconcile merges concurrent operation heads into one operation whose
// parents are the heads in sorted order, rebasing descendants of commits
// rewritten on either side.
func (l *Loader) reconcile(ctx context.Context, heads []opstore.OperationID) (*ReadonlyRepo, error) {
	opstore.SortOperationIDs(heads)
	l.opts.Logger.Info("merging concurrent operations",
		zap.Int("heads", len(heads)))

	repo, err := l.loadAt(ctx, heads[0])
	if err != nil {
		return nil, err
	}
	tx := repo.StartTransaction()
	mut := tx.Mutable()

	for _, other := range heads[1:] {
		baseOpID, err := oplog.GreatestCommonAncestor(l.opStore, heads[0], other)
		if err != nil {
			return nil, err
		}
		baseOp, err := l.opStore.ReadOperation(baseOpID)
		if err != nil {
			return nil, err
		}
		baseView, err := l.opStore.ReadView(baseOp.ViewID)
		if err != nil {
			return nil, err
		}
		otherOp, err := l.opStore.ReadOperation(other)
		if err != nil {
			return nil, err
		}
		otherView, err := l.opStore.ReadView(otherOp.ViewID)
		if err != nil {
			return nil, err
		}

		merged, wcConflicts := oplog.MergeViews(baseView, mut.view, otherView)
		for _, c := range wcConflicts {
			tx.AddTag("wc-conflict:"+string(c.Workspace), c.Discarded.Hex())
		}
		if err := mut.noteRewritesBetween(ctx, baseView, mut.view); err != nil {
			return nil, err
		}
		if err := mut.noteRewritesBetween(ctx, baseView, otherView); err != nil {
			return nil, err
		}
		mut.view = merged
		tx.AddParent(other)
	}

	if _, err := mut.RebaseDescendants(ctx); err != nil {
		return nil, err
	}
	return tx.Commit(ctx, fmt.Sprintf("reconcile %d concurrent operations", len(heads)))
}

// NewChangeID generates a fresh random change id of the backend's length.
func (l *Loader) NewChangeID() backend.ChangeID {
	var raw []byte
	for len(raw) < l.store.ChangeIDLength() {
		u := uuid.New()
		raw = append(raw, u[:]...)
	}
	return backend.ChangeID(raw[:l.store.ChangeIDLength()])
}

func (l *Loader) now() backend.Timestamp {
	return backend.TimestampFrom(time.Now())
}

func writeKindFile(path, kind string) error {
	if err := fileutil.WriteFileAtomic(path, []byte(kind+"\n"), 0o644); err != nil {
		return &backend.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func readKindFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &backend.IOError{Op: "read", Path: path, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}
