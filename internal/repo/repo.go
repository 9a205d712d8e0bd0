// Package repo ties the stores together: loading a repository at an
// operation, mutating it in a transaction, and committing new operations.
package repo

import (
	"go.uber.org/zap"

	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/store"
	"github.com/jj-vcs/jj-go/internal/view"
)

// Options carries the ambient identity and policy the engine needs when
// writing operations and commits.
type Options struct {
	Username    string
	Hostname    string
	SignCommits bool
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Username == "" {
		o.Username = "unknown"
	}
	if o.Hostname == "" {
		o.Hostname = "unknown"
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ReadonlyRepo is a repository loaded at a specific operation. It is
// immutable; start a transaction to change anything.
type ReadonlyRepo struct {
	loader *Loader
	opID   opstore.OperationID
	op     *opstore.Operation
	view   *view.View
}

// Loader returns the loader this repo came from.
func (r *ReadonlyRepo) Loader() *Loader { return r.loader }

// Store returns the shared object store.
func (r *ReadonlyRepo) Store() *store.Store { return r.loader.store }

// OpStore returns the operation store.
func (r *ReadonlyRepo) OpStore() *opstore.Store { return r.loader.opStore }

// OpID returns the operation the repo is loaded at.
func (r *ReadonlyRepo) OpID() opstore.OperationID { return r.opID }

// Operation returns the loaded operation.
func (r *ReadonlyRepo) Operation() *opstore.Operation { return r.op }

// View returns the loaded view. Callers must not mutate it.
func (r *ReadonlyRepo) View() *view.View { return r.view }

// StartTransaction opens a mutable copy of the repo.
func (r *ReadonlyRepo) StartTransaction() *Transaction {
	return newTransaction(r)
}
