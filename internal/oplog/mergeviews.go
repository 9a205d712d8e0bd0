package oplog

import (
	"sort"

	"github.com/jj-vcs/jj-go/internal/backend"
	"github.com/jj-vcs/jj-go/internal/view"
)

// WCConflict records a workspace that was moved to different commits by
// both sides of a merge.
type WCConflict struct {
	Workspace view.WorkspaceName
	Chosen    backend.CommitID
	Discarded backend.CommitID
}

// MergeViews merges two concurrent views over their common-ancestor view,
// field by field. The result is deterministic in its inputs; swapping the
// sides yields the same view up to canonical simplification.
func MergeViews(base, left, right *view.View) (*view.View, []WCConflict) {
	out := view.New()

	// Heads: union of both sides minus the heads either side removed. A
	// head of one side that the base also had, but the other side dropped,
	// was removed by that other side.
	for id := range left.HeadIDs {
		if _, inRight := right.HeadIDs[id]; inRight || !base.IsHead(id) {
			out.AddHead(id)
		}
	}
	for id := range right.HeadIDs {
		if _, inLeft := left.HeadIDs[id]; inLeft || !base.IsHead(id) {
			out.AddHead(id)
		}
	}

	mergeRefMaps(base.LocalBookmarks, left.LocalBookmarks, right.LocalBookmarks, func(name string, t view.RefTarget) {
		out.SetLocalBookmark(name, t)
	})
	mergeRefMaps(base.Tags, left.Tags, right.Tags, func(name string, t view.RefTarget) {
		out.SetTag(name, t)
	})
	mergeRefMaps(base.GitRefs, left.GitRefs, right.GitRefs, func(name string, t view.RefTarget) {
		out.SetGitRef(name, t)
	})
	out.GitHead = view.MergeRefTargets(left.GitHead, base.GitHead, right.GitHead)

	for _, remote := range unionKeys(remoteNames(base), remoteNames(left), remoteNames(right)) {
		mergeRefMaps(remoteBookmarks(base, remote), remoteBookmarks(left, remote), remoteBookmarks(right, remote), func(name string, t view.RefTarget) {
			out.SetRemoteBookmark(remote, name, t)
		})
		mergeRefMaps(remoteTags(base, remote), remoteTags(left, remote), remoteTags(right, remote), func(name string, t view.RefTarget) {
			out.SetRemoteTag(remote, name, t)
		})
	}

	conflicts := mergeWCCommits(base, left, right, out)
	return out, conflicts
}

func mergeWCCommits(base, left, right, out *view.View) []WCConflict {
	var conflicts []WCConflict
	names := map[view.WorkspaceName]struct{}{}
	for _, v := range []*view.View{base, left, right} {
		for name := range v.WCCommitIDs {
			names[name] = struct{}{}
		}
	}
	sorted := make([]view.WorkspaceName, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for _, name := range sorted {
		b, bok := base.GetWCCommitID(name)
		l, lok := left.GetWCCommitID(name)
		r, rok := right.GetWCCommitID(name)
		switch {
		case lok && rok && l == r:
			out.SetWCCommit(name, l)
		case !lok && !rok:
			// Forgotten on both sides (or never existed).
		case !lok || !rok:
			// Absent on one side. If the base knew the workspace, that
			// side forgot it and the forget wins even against a move;
			// otherwise the workspace is new on the side that has it.
			if !bok {
				if lok {
					out.SetWCCommit(name, l)
				} else {
					out.SetWCCommit(name, r)
				}
			}
		case bok && l == b:
			out.SetWCCommit(name, r)
		case bok && r == b:
			out.SetWCCommit(name, l)
		default:
			// Both sides moved the workspace differently. Keep the
			// smaller id for determinism and surface the conflict.
			chosen, discarded := l, r
			if r < l {
				chosen, discarded = r, l
			}
			out.SetWCCommit(name, chosen)
			conflicts = append(conflicts, WCConflict{Workspace: name, Chosen: chosen, Discarded: discarded})
		}
	}
	return conflicts
}

func mergeRefMaps(base, left, right map[string]view.RefTarget, set func(string, view.RefTarget)) {
	for _, name := range unionKeys(base, left, right) {
		merged := view.MergeRefTargets(lookupRef(left, name), lookupRef(base, name), lookupRef(right, name))
		set(name, merged)
	}
}

func lookupRef(m map[string]view.RefTarget, name string) view.RefTarget {
	if t, ok := m[name]; ok {
		return t
	}
	return view.AbsentRef()
}

func unionKeys[V any](maps ...map[string]V) []string {
	seen := map[string]struct{}{}
	var keys []string
	for _, m := range maps {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func remoteNames(v *view.View) map[string]*view.RemoteView { return v.RemoteViews }

func remoteBookmarks(v *view.View, remote string) map[string]view.RefTarget {
	if rv, ok := v.RemoteViews[remote]; ok {
		return rv.Bookmarks
	}
	return nil
}

func remoteTags(v *view.View, remote string) map[string]view.RefTarget {
	if rv, ok := v.RemoteViews[remote]; ok {
		return rv.Tags
	}
	return nil
}
