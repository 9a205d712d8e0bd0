// Package oplog implements queries over the operation DAG: ancestry
// walks, merging of concurrent views, and garbage collection.
package oplog

import (
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/opstore"
)

// Entry pairs an operation with its id during walks.
type Entry struct {
	ID opstore.OperationID
	Op *opstore.Operation
}

// Walk visits every ancestor of heads exactly once, newest first
// (reverse-topological, ties broken by generation then id). Parents are
// fetched lazily through the store. A parent cycle is reported as a
// corrupt operation.
func Walk(s *opstore.Store, heads []opstore.OperationID, fn func(Entry) error) error {
	entries, err := walkEntries(s, heads)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func walkEntries(s *opstore.Store, heads []opstore.OperationID) ([]Entry, error) {
	ops := map[opstore.OperationID]*opstore.Operation{}
	gen := map[opstore.OperationID]int{}

	type frame struct {
		id       opstore.OperationID
		expanded bool
	}
	inStack := map[opstore.OperationID]bool{}
	var stack []frame
	for _, h := range heads {
		stack = append(stack, frame{id: h})
	}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if _, done := gen[top.id]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		if !top.expanded {
			if inStack[top.id] {
				return nil, &backend.CorruptObjectError{ID: top.id.Hex(), Reason: "operation parent cycle"}
			}
			inStack[top.id] = true
			top.expanded = true
			op, ok := ops[top.id]
			if !ok {
				loaded, err := s.ReadOperation(top.id)
				if err != nil {
					return nil, err
				}
				ops[top.id] = loaded
				op = loaded
			}
			for _, p := range op.Parents {
				if _, done := gen[p]; !done {
					if inStack[p] {
						return nil, &backend.CorruptObjectError{ID: p.Hex(), Reason: "operation parent cycle"}
					}
					stack = append(stack, frame{id: p})
				}
			}
			continue
		}
		// Parents resolved; assign generation.
		g := 0
		for _, p := range ops[top.id].Parents {
			if gen[p]+1 > g {
				g = gen[p] + 1
			}
		}
		gen[top.id] = g
		delete(inStack, top.id)
		stack = stack[:len(stack)-1]
	}

	entries := make([]Entry, 0, len(ops))
	for id, op := range ops {
		entries = append(entries, Entry{ID: id, Op: op})
	}
	sort.Slice(entries, func(i, j int) bool {
		gi, gj := gen[entries[i].ID], gen[entries[j].ID]
		if gi != gj {
			return gi > gj
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
func IsAncestor(s *opstore.Store, ancestor, descendant opstore.OperationID) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	found := false
	err := Walk(s, []opstore.OperationID{descendant}, func(e Entry) error {
		if e.ID == ancestor {
			found = true
		}
		return nil
	})
	return found, err
}

// CommonAncestors returns the ids reachable from every head.
func commonAncestors(s *opstore.Store, heads []opstore.OperationID) (map[opstore.OperationID]struct{}, error) {
	counts := map[opstore.OperationID]int{}
	for _, h := range heads {
		err := Walk(s, []opstore.OperationID{h}, func(e Entry) error {
			counts[e.ID]++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	common := map[opstore.OperationID]struct{}{}
	for id, n := range counts {
		if n == len(heads) {
			common[id] = struct{}{}
		}
	}
	return common, nil
}

// GreatestCommonAncestor picks the common ancestor of the two heads with
// the greatest generation, the base for view merges. Ties break by id.
func GreatestCommonAncestor(s *opstore.Store, a, b opstore.OperationID) (opstore.OperationID, error) {
	common, err := commonAncestors(s, []opstore.OperationID{a, b})
	if err != nil {
		return "", err
	}
	// walkEntries orders newest first, so the first common entry wins.
	entries, err := walkEntries(s, []opstore.OperationID{a, b})
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if _, ok := common[e.ID]; ok {
			return e.ID, nil
		}
	}
	return s.RootOperationID(), nil
}
