package repopath

import "testing"

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		path RepoPath
		dir  RepoPath
		base string
		ok   bool
	}{
		{"root", Root(), Root(), "", false},
		{"top level file", New("foo"), Root(), "foo", true},
		{"nested", New("dir1/dir2/file"), New("dir1/dir2"), "file", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, base, ok := tt.path.Split()
			if dir != tt.dir || base != tt.base || ok != tt.ok {
				t.Errorf("Split(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, dir, base, ok, tt.dir, tt.base, tt.ok)
			}
		})
	}
}

func TestFromFSPath(t *testing.T) {
	tests := []struct {
		input string
		want  RepoPath
		ok    bool
	}{
		{".", Root(), true},
		{"foo/bar", New("foo/bar"), true},
		{"../escape", Root(), false},
		{"a/./b", Root(), false},
	}

	for _, tt := range tests {
		got, ok := FromFSPath(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FromFSPath(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHasPrefix(t *testing.T) {
	if !New("dir/sub/file").HasPrefix(New("dir")) {
		t.Error("expected dir/sub/file to be under dir")
	}
	if New("dirx/file").HasPrefix(New("dir")) {
		t.Error("dirx/file must not match prefix dir")
	}
	if !New("anything").HasPrefix(Root()) {
		t.Error("everything is under the root")
	}
}

func TestPrefixMatcher(t *testing.T) {
	m := NewPrefixMatcher([]RepoPath{New("dir2")})
	if m.Matches(New("dir1/x")) {
		t.Error("dir1/x must not match sparse prefix dir2")
	}
	if !m.Matches(New("dir2/y")) {
		t.Error("dir2/y must match")
	}
	if !m.VisitDir(Root()) {
		t.Error("walk must descend through the root toward dir2")
	}
	if m.VisitDir(New("dir1")) {
		t.Error("walk must not descend into dir1")
	}
}

func TestFilesMatcher(t *testing.T) {
	m := NewFilesMatcher([]RepoPath{New("a/b/c"), New("d")})
	if !m.Matches(New("a/b/c")) || !m.Matches(New("d")) {
		t.Error("listed files must match")
	}
	if m.Matches(New("a/b")) {
		t.Error("directories are not files")
	}
	if !m.VisitDir(New("a")) || !m.VisitDir(New("a/b")) {
		t.Error("ancestor dirs of listed files must be visited")
	}
	if m.VisitDir(New("x")) {
		t.Error("unrelated dirs must not be visited")
	}
}
