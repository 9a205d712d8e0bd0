// Package fsmonitor integrates an external filesystem monitor so
// snapshots can query for changed paths instead of crawling the whole
// working copy.
package fsmonitor

import (
	"fmt"

	"github.com/jj-vcs/jj-go/internal/repopath"
)

// Kind selects the monitor implementation.
type Kind string

const (
	// KindNone disables monitoring; snapshots walk the working copy.
	KindNone Kind = "none"
	// KindWatchman queries a running watchman daemon.
	KindWatchman Kind = "watchman"
	// KindTest replays a fixed set of changed files. Tests only.
	KindTest Kind = "test"
)

// ParseKind validates a configured monitor name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNone, KindWatchman:
		return Kind(s), nil
	case KindTest:
		return "", fmt.Errorf("cannot use test fsmonitor in a real repository")
	default:
		return "", fmt.Errorf("unknown fsmonitor kind: %q", s)
	}
}

// Monitor answers "which paths changed since this clock".
type Monitor interface {
	// Query returns the paths changed since the previous clock and the
	// clock to persist for next time. With an empty previous clock the
	// caller must fall back to a full walk; changed is nil then and only
	// the clock is meaningful.
	Query(previousClock string) (changed []repopath.RepoPath, clock string, err error)
}

// TestMonitor replays fixed results; used by working-copy tests.
type TestMonitor struct {
	Changed []repopath.RepoPath
	Clock   string
}

func (m *TestMonitor) Query(previousClock string) ([]repopath.RepoPath, string, error) {
	if previousClock == "" {
		return nil, m.Clock, nil
	}
	return m.Changed, m.Clock, nil
}
