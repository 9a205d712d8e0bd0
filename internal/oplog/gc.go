package oplog

import (
	"context"
	"time"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/opstore"
	"github.com/jj-vcs/jj-go/internal/store"
)

// GC deletes operation and view blobs unreachable from heads, keeping any
// operation that ended at or after keepNewerThan, then asks the object
// store to collect commits unreachable from the kept views.
func GC(ctx context.Context, ops *opstore.Store, objects *store.Store, heads []opstore.OperationID, keepNewerThan time.Time) error {
	keepOps := map[opstore.OperationID]struct{}{}
	keepViews := map[opstore.ViewID]struct{}{}

	err := Walk(ops, heads, func(e Entry) error {
		keepOps[e.ID] = struct{}{}
		keepViews[e.Op.ViewID] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	allOps, err := ops.ListOperationIDs()
	if err != nil {
		return err
	}
	cutoff := keepNewerThan.UnixMilli()
	for _, id := range allOps {
		if _, ok := keepOps[id]; ok {
			continue
		}
		op, err := ops.ReadOperation(id)
		if err != nil {
			// An unreadable orphan is exactly what GC removes.
			_ = ops.RemoveOperation(id)
			continue
		}
		if op.Meta.EndTime.MillisSinceEpoch >= cutoff {
			// Possibly in-flight work; keep its view alive too.
			keepOps[id] = struct{}{}
			keepViews[op.ViewID] = struct{}{}
			continue
		}
		if err := ops.RemoveOperation(id); err != nil {
			return err
		}
	}

	allViews, err := ops.ListViewIDs()
	if err != nil {
		return err
	}
	for _, id := range allViews {
		if _, ok := keepViews[id]; ok {
			continue
		}
		if err := ops.RemoveView(id); err != nil {
			return err
		}
	}

	// Commits referenced by any kept view are the object-store root set.
	rootSet := map[backend.CommitID]struct{}{}
	for id := range keepViews {
		v, err := ops.ReadView(id)
		if err != nil {
			return err
		}
		for _, cid := range v.ReferencedCommitIDs() {
			rootSet[cid] = struct{}{}
		}
	}
	keep := make([]backend.CommitID, 0, len(rootSet))
	for id := range rootSet {
		keep = append(keep, id)
	}
	return objects.GC(ctx, keep, keepNewerThan)
}
