// Package view models the repository state an operation points at: heads,
// refs, and per-workspace working-copy commits.
package view

import (
	"path"
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
)

// WorkspaceName identifies a workspace of the repository.
type WorkspaceName string

// DefaultWorkspaceName is the workspace created by init.
const DefaultWorkspaceName WorkspaceName = "default"

// RemoteView is the tracked state of one remote.
type RemoteView struct {
	Bookmarks map[string]RefTarget
	Tags      map[string]RefTarget
}

// NewRemoteView returns an empty remote view.
func NewRemoteView() *RemoteView {
	return &RemoteView{
		Bookmarks: map[string]RefTarget{},
		Tags:      map[string]RefTarget{},
	}
}

// View is a pure in-memory value. Mutations happen on a MutableRepo's
// copy; the serialized view is written only when an operation commits.
type View struct {
	HeadIDs        map[backend.CommitID]struct{}
	LocalBookmarks map[string]RefTarget
	Tags           map[string]RefTarget
	RemoteViews    map[string]*RemoteView
	GitRefs        map[string]RefTarget
	GitHead        RefTarget
	WCCommitIDs    map[WorkspaceName]backend.CommitID
}

// New returns an empty view.
func New() *View {
	return &View{
		HeadIDs:        map[backend.CommitID]struct{}{},
		LocalBookmarks: map[string]RefTarget{},
		Tags:           map[string]RefTarget{},
		RemoteViews:    map[string]*RemoteView{},
		GitRefs:        map[string]RefTarget{},
		GitHead:        AbsentRef(),
		WCCommitIDs:    map[WorkspaceName]backend.CommitID{},
	}
}

// Clone returns a deep copy.
func (v *View) Clone() *View {
	c := New()
	for id := range v.HeadIDs {
		c.HeadIDs[id] = struct{}{}
	}
	for name, t := range v.LocalBookmarks {
		c.LocalBookmarks[name] = t
	}
	for name, t := range v.Tags {
		c.Tags[name] = t
	}
	for remote, rv := range v.RemoteViews {
		nrv := NewRemoteView()
		for name, t := range rv.Bookmarks {
			nrv.Bookmarks[name] = t
		}
		for name, t := range rv.Tags {
			nrv.Tags[name] = t
		}
		c.RemoteViews[remote] = nrv
	}
	for name, t := range v.GitRefs {
		c.GitRefs[name] = t
	}
	c.GitHead = v.GitHead
	for ws, id := range v.WCCommitIDs {
		c.WCCommitIDs[ws] = id
	}
	return c
}

// Heads returns the head commit ids sorted by id.
func (v *View) Heads() []backend.CommitID {
	ids := make([]backend.CommitID, 0, len(v.HeadIDs))
	for id := range v.HeadIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsHead reports whether id is a view head.
func (v *View) IsHead(id backend.CommitID) bool {
	_, ok := v.HeadIDs[id]
	return ok
}

// AddHead marks id as a head.
func (v *View) AddHead(id backend.CommitID) { v.HeadIDs[id] = struct{}{} }

// RemoveHead unmarks id.
func (v *View) RemoveHead(id backend.CommitID) { delete(v.HeadIDs, id) }

// GetLocalBookmark returns the bookmark target, absent when unset.
func (v *View) GetLocalBookmark(name string) RefTarget {
	if t, ok := v.LocalBookmarks[name]; ok {
		return t
	}
	return AbsentRef()
}

// SetLocalBookmark sets or, for an absent target, deletes a bookmark.
func (v *View) SetLocalBookmark(name string, target RefTarget) {
	if RefIsAbsent(target) {
		delete(v.LocalBookmarks, name)
		return
	}
	v.LocalBookmarks[name] = target
}

// LocalBookmarksMatching returns the bookmark names matching a glob
// pattern, sorted.
func (v *View) LocalBookmarksMatching(pattern string) []string {
	var names []string
	for name := range v.LocalBookmarks {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetTag returns the tag target, absent when unset.
func (v *View) GetTag(name string) RefTarget {
	if t, ok := v.Tags[name]; ok {
		return t
	}
	return AbsentRef()
}

// SetTag sets or deletes a tag.
func (v *View) SetTag(name string, target RefTarget) {
	if RefIsAbsent(target) {
		delete(v.Tags, name)
		return
	}
	v.Tags[name] = target
}

// GetRemoteBookmark returns a remote-tracking bookmark target.
func (v *View) GetRemoteBookmark(remote, name string) RefTarget {
	if rv, ok := v.RemoteViews[remote]; ok {
		if t, ok := rv.Bookmarks[name]; ok {
			return t
		}
	}
	return AbsentRef()
}

// SetRemoteBookmark sets or deletes a remote-tracking bookmark.
func (v *View) SetRemoteBookmark(remote, name string, target RefTarget) {
	rv, ok := v.RemoteViews[remote]
	if !ok {
		if RefIsAbsent(target) {
			return
		}
		rv = NewRemoteView()
		v.RemoteViews[remote] = rv
	}
	if RefIsAbsent(target) {
		delete(rv.Bookmarks, name)
		if len(rv.Bookmarks) == 0 && len(rv.Tags) == 0 {
			delete(v.RemoteViews, remote)
		}
		return
	}
	rv.Bookmarks[name] = target
}

// GetRemoteTag returns a remote-tracking tag target.
func (v *View) GetRemoteTag(remote, name string) RefTarget {
	if rv, ok := v.RemoteViews[remote]; ok {
		if t, ok := rv.Tags[name]; ok {
			return t
		}
	}
	return AbsentRef()
}

// SetRemoteTag sets or deletes a remote-tracking tag.
func (v *View) SetRemoteTag(remote, name string, target RefTarget) {
	rv, ok := v.RemoteViews[remote]
	if !ok {
		if RefIsAbsent(target) {
			return
		}
		rv = NewRemoteView()
		v.RemoteViews[remote] = rv
	}
	if RefIsAbsent(target) {
		delete(rv.Tags, name)
		if len(rv.Bookmarks) == 0 && len(rv.Tags) == 0 {
			delete(v.RemoteViews, remote)
		}
		return
	}
	rv.Tags[name] = target
}

// GetGitRef returns a git ref target.
func (v *View) GetGitRef(name string) RefTarget {
	if t, ok := v.GitRefs[name]; ok {
		return t
	}
	return AbsentRef()
}

// SetGitRef sets or deletes a git ref.
func (v *View) SetGitRef(name string, target RefTarget) {
	if RefIsAbsent(target) {
		delete(v.GitRefs, name)
		return
	}
	v.GitRefs[name] = target
}

// GetWCCommitID returns the working-copy commit of a workspace.
func (v *View) GetWCCommitID(name WorkspaceName) (backend.CommitID, bool) {
	id, ok := v.WCCommitIDs[name]
	return id, ok
}

// SetWCCommit points a workspace at a commit.
func (v *View) SetWCCommit(name WorkspaceName, id backend.CommitID) {
	v.WCCommitIDs[name] = id
}

// RemoveWCCommit forgets a workspace.
func (v *View) RemoveWCCommit(name WorkspaceName) {
	delete(v.WCCommitIDs, name)
}

// WorkspaceNames returns the live workspaces sorted by name.
func (v *View) WorkspaceNames() []WorkspaceName {
	names := make([]WorkspaceName, 0, len(v.WCCommitIDs))
	for name := range v.WCCommitIDs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ReferencedCommitIDs returns every commit id that a present ref target,
// working-copy pointer, or head points at directly; ancestors are not
// included. Used as the GC root set.
func (v *View) ReferencedCommitIDs() []backend.CommitID {
	seen := map[backend.CommitID]struct{}{}
	addTarget := func(t RefTarget) {
		for _, id := range RefAddedIDs(t) {
			seen[id] = struct{}{}
		}
	}
	for id := range v.HeadIDs {
		seen[id] = struct{}{}
	}
	for _, t := range v.LocalBookmarks {
		addTarget(t)
	}
	for _, t := range v.Tags {
		addTarget(t)
	}
	for _, rv := range v.RemoteViews {
		for _, t := range rv.Bookmarks {
			addTarget(t)
		}
		for _, t := range rv.Tags {
			addTarget(t)
		}
	}
	for _, t := range v.GitRefs {
		addTarget(t)
	}
	addTarget(v.GitHead)
	for _, id := range v.WCCommitIDs {
		seen[id] = struct{}{}
	}
	ids := make([]backend.CommitID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
