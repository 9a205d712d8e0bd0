package repo

import (
	"context"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/merge"
	"github.com/jj-vcs/jj-go/internal/view"
)

// MutableRepo holds a staged copy of the view plus the rewrite
// bookkeeping accumulated during a transaction.
type MutableRepo struct {
	base *ReadonlyRepo
	view *view.View

	// rewritten maps an old commit to its replacements, in the order they
	// were written.
	rewritten map[backend.CommitID][]backend.CommitID
	abandoned map[backend.CommitID]struct{}
	// predecessors records evolution: new commit id -> commits it came
	// from. Written into the operation at commit time.
	predecessors map[backend.CommitID][]backend.CommitID
}

func newMutableRepo(base *ReadonlyRepo) *MutableRepo {
	return &MutableRepo{
		base:         base,
		view:         base.view.Clone(),
		rewritten:    map[backend.CommitID][]backend.CommitID{},
		abandoned:    map[backend.CommitID]struct{}{},
		predecessors: map[backend.CommitID][]backend.CommitID{},
	}
}

// View returns the staged view.
func (m *MutableRepo) View() *view.View { return m.view }

// Base returns the repo the transaction started from.
func (m *MutableRepo) Base() *ReadonlyRepo { return m.base }

// SetWCCommit points a workspace at a commit.
func (m *MutableRepo) SetWCCommit(name view.WorkspaceName, id backend.CommitID) {
	m.view.SetWCCommit(name, id)
}

// RemoveWCCommit forgets a workspace.
func (m *MutableRepo) RemoveWCCommit(name view.WorkspaceName) {
	m.view.RemoveWCCommit(name)
}

// SetLocalBookmark sets or deletes a local bookmark.
func (m *MutableRepo) SetLocalBookmark(name string, target view.RefTarget) {
	m.view.SetLocalBookmark(name, target)
}

// SetTag sets or deletes a tag.
func (m *MutableRepo) SetTag(name string, target view.RefTarget) {
	m.view.SetTag(name, target)
}

// SetRemoteBookmark sets or deletes a remote-tracking bookmark.
func (m *MutableRepo) SetRemoteBookmark(remote, name string, target view.RefTarget) {
	m.view.SetRemoteBookmark(remote, name, target)
}

// SetRemoteTag sets or deletes a remote-tracking tag.
func (m *MutableRepo) SetRemoteTag(remote, name string, target view.RefTarget) {
	m.view.SetRemoteTag(remote, name, target)
}

// SetGitRef sets or deletes a git ref.
func (m *MutableRepo) SetGitRef(name string, target view.RefTarget) {
	m.view.SetGitRef(name, target)
}

// CommitRef is a written commit together with its id.
type CommitRef struct {
	ID     backend.CommitID
	Commit *backend.Commit
}

// CommitBuilder assembles a commit to be written through the store.
type CommitBuilder struct {
	mut    *MutableRepo
	commit *backend.Commit
	// rewriteOf is set when the builder replaces an existing commit.
	rewriteOf backend.CommitID
}

// NewCommit starts a builder for a fresh commit with a new change id.
func (m *MutableRepo) NewCommit(parents []backend.CommitID, tree backend.MergedTreeID) *CommitBuilder {
	now := m.base.loader.now()
	sig := backend.Signature{
		Name:      m.base.loader.opts.Username,
		Email:     m.base.loader.opts.Username + "@" + m.base.loader.opts.Hostname,
		Timestamp: now,
	}
	return &CommitBuilder{
		mut: m,
		commit: &backend.Commit{
			Parents:   append([]backend.CommitID(nil), parents...),
			RootTree:  tree,
			Change:    m.base.loader.NewChangeID(),
			Author:    sig,
			Committer: sig,
		},
	}
}

// RewriteCommit starts a builder pre-filled from an existing commit. The
// new commit keeps the old change id; the old commit is retired when the
// builder writes.
func (m *MutableRepo) RewriteCommit(oldID backend.CommitID, old *backend.Commit) *CommitBuilder {
	c := old.Clone()
	c.Predecessors = []backend.CommitID{oldID}
	c.Committer.Timestamp = m.base.loader.now()
	return &CommitBuilder{mut: m, commit: c, rewriteOf: oldID}
}

// SetDescription sets the commit message.
func (b *CommitBuilder) SetDescription(description string) *CommitBuilder {
	b.commit.Description = description
	return b
}

// SetParents replaces the parent list.
func (b *CommitBuilder) SetParents(parents []backend.CommitID) *CommitBuilder {
	b.commit.Parents = append([]backend.CommitID(nil), parents...)
	return b
}

// SetTree replaces the root tree.
func (b *CommitBuilder) SetTree(tree backend.MergedTreeID) *CommitBuilder {
	b.commit.RootTree = tree
	return b
}

// SetAuthor replaces the author signature.
func (b *CommitBuilder) SetAuthor(sig backend.Signature) *CommitBuilder {
	b.commit.Author = sig
	return b
}

// Write stores the commit and updates the staged view.
func (b *CommitBuilder) Write(ctx context.Context) (*CommitRef, error) {
	m := b.mut
	id, stored, err := m.base.Store().WriteCommit(ctx, b.commit, m.base.loader.opts.SignCommits)
	if err != nil {
		return nil, err
	}
	if b.rewriteOf != "" && b.rewriteOf != id {
		m.recordRewrite(b.rewriteOf, id)
	} else if b.rewriteOf == "" {
		m.view.AddHead(id)
		for _, p := range stored.Parents {
			m.view.RemoveHead(p)
		}
	}
	return &CommitRef{ID: id, Commit: stored}, nil
}

func (m *MutableRepo) recordRewrite(oldID, newID backend.CommitID) {
	m.rewritten[oldID] = append(m.rewritten[oldID], newID)
	m.predecessors[newID] = append(m.predecessors[newID], oldID)
	if m.view.IsHead(oldID) {
		m.view.RemoveHead(oldID)
		m.view.AddHead(newID)
	}
	m.retargetRefs(oldID, newID)
}

// AbandonCommit removes a commit from the visible set; its descendants
// are reparented onto its parents by RebaseDescendants.
func (m *MutableRepo) AbandonCommit(ctx context.Context, id backend.CommitID) error {
	m.abandoned[id] = struct{}{}
	if m.view.IsHead(id) {
		m.view.RemoveHead(id)
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return err
		}
		for _, p := range commit.Parents {
			if p != m.base.Store().RootCommitID() || len(m.view.HeadIDs) == 0 {
				m.view.AddHead(p)
			}
		}
	}
	return nil
}

// retargetRefs repoints refs and working copies from an old commit to its
// replacement.
func (m *MutableRepo) retargetRefs(oldID, newID backend.CommitID) {
	replace := func(t view.RefTarget) view.RefTarget {
		return merge.Map(t, func(id backend.CommitID) backend.CommitID {
			if id == oldID {
				return newID
			}
			return id
		})
	}
	for name, t := range m.view.LocalBookmarks {
		m.view.LocalBookmarks[name] = replace(t)
	}
	for name, t := range m.view.Tags {
		m.view.Tags[name] = replace(t)
	}
	for name, t := range m.view.GitRefs {
		m.view.GitRefs[name] = replace(t)
	}
	m.view.GitHead = replace(m.view.GitHead)
	for ws, id := range m.view.WCCommitIDs {
		if id == oldID {
			m.view.WCCommitIDs[ws] = newID
		}
	}
}

// noteRewritesBetween compares a side view against the merge base and
// records commits the side rewrote or abandoned, so descendants created
// on the other side can be rebased.
func (m *MutableRepo) noteRewritesBetween(ctx context.Context, base, side *view.View) error {
	var removed, added []backend.CommitID
	for id := range base.HeadIDs {
		if !side.IsHead(id) {
			removed = append(removed, id)
		}
	}
	for id := range side.HeadIDs {
		if !base.IsHead(id) {
			added = append(added, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	// Heads that disappeared because a descendant took their place are
	// neither rewritten nor abandoned.
	ancestors, err := m.ancestorSet(ctx, added)
	if err != nil {
		return err
	}

	changeOf := map[backend.ChangeID][]backend.CommitID{}
	for _, id := range added {
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return err
		}
		changeOf[commit.Change] = append(changeOf[commit.Change], id)
	}

	for _, id := range removed {
		if _, ok := ancestors[id]; ok {
			continue
		}
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return err
		}
		if replacements, ok := changeOf[commit.Change]; ok {
			m.rewritten[id] = append(m.rewritten[id], replacements...)
		} else {
			m.abandoned[id] = struct{}{}
		}
	}
	return nil
}

func (m *MutableRepo) ancestorSet(ctx context.Context, heads []backend.CommitID) (map[backend.CommitID]struct{}, error) {
	seen := map[backend.CommitID]struct{}{}
	pending := append([]backend.CommitID(nil), heads...)
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		commit, err := m.base.Store().GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range commit.Parents {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				pending = append(pending, p)
			}
		}
	}
	return seen, nil
}
