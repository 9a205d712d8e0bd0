package repopath

// Matcher selects a subset of repository paths. It is used by sparse
// checkout, snapshot walks, and tree diffs.
type Matcher interface {
	// Matches reports whether the file path is selected.
	Matches(p RepoPath) bool
	// VisitDir reports whether a walk should descend into the directory.
	VisitDir(dir RepoPath) bool
}

type everything struct{}

func (everything) Matches(RepoPath) bool  { return true }
func (everything) VisitDir(RepoPath) bool { return true }

// Everything matches all paths.
func Everything() Matcher { return everything{} }

type nothing struct{}

func (nothing) Matches(RepoPath) bool  { return false }
func (nothing) VisitDir(RepoPath) bool { return false }

// Nothing matches no paths.
func Nothing() Matcher { return nothing{} }

// FilesMatcher matches an explicit set of file paths.
type FilesMatcher struct {
	files map[RepoPath]struct{}
	dirs  map[RepoPath]struct{}
}

// NewFilesMatcher builds a matcher over the given file paths.
func NewFilesMatcher(paths []RepoPath) *FilesMatcher {
	m := &FilesMatcher{
		files: make(map[RepoPath]struct{}, len(paths)),
		dirs:  make(map[RepoPath]struct{}),
	}
	for _, p := range paths {
		m.files[p] = struct{}{}
		for dir := p.Parent(); ; dir = dir.Parent() {
			m.dirs[dir] = struct{}{}
			if dir.IsRoot() {
				break
			}
		}
	}
	return m
}

func (m *FilesMatcher) Matches(p RepoPath) bool {
	_, ok := m.files[p]
	return ok
}

func (m *FilesMatcher) VisitDir(dir RepoPath) bool {
	_, ok := m.dirs[dir]
	return ok
}

// PrefixMatcher matches everything under a set of directory prefixes. A
// prefix that is the root matches everything. This is the matcher behind
// sparse patterns.
type PrefixMatcher struct {
	prefixes []RepoPath
}

// NewPrefixMatcher builds a matcher from directory prefixes.
func NewPrefixMatcher(prefixes []RepoPath) *PrefixMatcher {
	ps := append([]RepoPath(nil), prefixes...)
	SortPaths(ps)
	return &PrefixMatcher{prefixes: ps}
}

// Prefixes returns the sorted prefix list.
func (m *PrefixMatcher) Prefixes() []RepoPath {
	return append([]RepoPath(nil), m.prefixes...)
}

func (m *PrefixMatcher) Matches(p RepoPath) bool {
	for _, pre := range m.prefixes {
		if p.HasPrefix(pre) {
			return true
		}
	}
	return false
}

func (m *PrefixMatcher) VisitDir(dir RepoPath) bool {
	for _, pre := range m.prefixes {
		// Descend if the dir is inside a prefix, or a prefix is inside the dir.
		if dir.HasPrefix(pre) || pre.HasPrefix(dir) {
			return true
		}
	}
	return false
}

// IntersectionMatcher matches paths selected by both inner matchers.
type IntersectionMatcher struct {
	a, b Matcher
}

// Intersect combines two matchers.
func Intersect(a, b Matcher) Matcher { return &IntersectionMatcher{a: a, b: b} }

func (m *IntersectionMatcher) Matches(p RepoPath) bool {
	return m.a.Matches(p) && m.b.Matches(p)
}

func (m *IntersectionMatcher) VisitDir(dir RepoPath) bool {
	return m.a.VisitDir(dir) && m.b.VisitDir(dir)
}
