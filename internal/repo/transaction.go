package repo

import (
	"context"
	"time"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/opstore"
)

// Transaction wraps a MutableRepo and turns it into a new operation on
// commit. Until Commit succeeds, nothing the transaction wrote is
// reachable; orphaned objects are collected by a later GC.
type Transaction struct {
	mut          *MutableRepo
	startTime    backend.Timestamp
	extraParents []opstore.OperationID
	tags         map[string]string
}

func newTransaction(base *ReadonlyRepo) *Transaction {
	return &Transaction{
		mut:       newMutableRepo(base),
		startTime: backend.TimestampFrom(time.Now()),
		tags:      map[string]string{},
	}
}

// Mutable returns the staged repository.
func (tx *Transaction) Mutable() *MutableRepo { return tx.mut }

// AddParent records an extra operation parent, used when merging
// concurrent heads.
func (tx *Transaction) AddParent(id opstore.OperationID) {
	tx.extraParents = append(tx.extraParents, id)
}

// AddTag attaches a metadata tag to the operation.
func (tx *Transaction) AddTag(key, value string) {
	tx.tags[key] = value
}

// Commit writes the staged view and a new operation whose parents are the
// operations the repo was loaded at, then publishes it as an op head. On
// any error before the head swap, the op log is unchanged.
func (tx *Transaction) Commit(ctx context.Context, description string) (*ReadonlyRepo, error) {
	loader := tx.mut.base.loader

	viewID, err := loader.opStore.WriteView(tx.mut.view)
	if err != nil {
		return nil, err
	}

	parents := append([]opstore.OperationID{tx.mut.base.opID}, tx.extraParents...)
	opstore.SortOperationIDs(parents)

	var tags map[string]string
	if len(tx.tags) > 0 {
		tags = tx.tags
	}
	op := &opstore.Operation{
		ViewID:  viewID,
		Parents: parents,
		Meta: opstore.Metadata{
			StartTime:   tx.startTime,
			EndTime:     backend.TimestampFrom(time.Now()),
			Description: description,
			Hostname:    loader.opts.Hostname,
			Username:    loader.opts.Username,
			Tags:        tags,
		},
	}
	if len(tx.mut.predecessors) > 0 {
		op.CommitPredecessors = tx.mut.predecessors
	}

	opID, err := loader.opStore.WriteOperation(op)
	if err != nil {
		return nil, err
	}
	if err := loader.opHeads.Promote(opID, parents); err != nil {
		return nil, err
	}
	return &ReadonlyRepo{loader: loader, opID: opID, op: op, view: tx.mut.view}, nil
}
