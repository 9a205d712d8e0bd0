package lock

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockExcludes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	l, err := Lock(path)
	require.NoError(t, err)

	var mu sync.Mutex
	events := []string{}
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		l2, err := Lock(path)
		require.NoError(t, err)
		record("second acquired")
		require.NoError(t, l2.Unlock())
	}()

	record("first held")
	require.NoError(t, l.Unlock())
	<-done

	require.Equal(t, []string{"first held", "second acquired"}, events)
}

func TestUnlockTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	l, err := Lock(path)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())
}
