// Package testutil provides shared helpers for engine tests.
package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/backend/local"
	"github.com/jj-vcs/jj-go/internal/repopath"
	"github.com/jj-vcs/jj-go/internal/signing"
	"github.com/jj-vcs/jj-go/internal/store"
)

// NewStore builds a store over a fresh local backend in a temp dir.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	b, err := local.Init(t.TempDir())
	require.NoError(t, err)
	return store.New(b, signing.None())
}

// WriteFile stores file contents and returns the id.
func WriteFile(t *testing.T, s *store.Store, path repopath.RepoPath, contents string) backend.FileID {
	t.Helper()
	id, err := s.WriteFile(context.Background(), path, bytes.NewReader([]byte(contents)))
	require.NoError(t, err)
	return id
}

// FileValue stores file contents and wraps the id as a tree value.
func FileValue(t *testing.T, s *store.Store, path repopath.RepoPath, contents string) backend.TreeValue {
	t.Helper()
	return backend.FileValue(WriteFile(t, s, path, contents), false)
}
