package workingcopy

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jj-vcs/jj-go/internal/repopath"
)

// Snapshot honors .gitignore files so untracked build products are not
// swept into commits. The matcher supports the common pattern forms:
// comments, negation, directory-only patterns, anchored patterns, and *
// globs. Last matching rule wins.

type ignoreRule struct {
	base     repopath.RepoPath // directory the .gitignore lives in
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

type ignoreStack struct {
	parent *ignoreStack
	rules  []ignoreRule
}

func newIgnoreStack() *ignoreStack { return &ignoreStack{} }

// push layers the .gitignore of dir (if any) on top of the stack.
func (s *ignoreStack) push(dir repopath.RepoPath, fsDir string) *ignoreStack {
	data, err := os.ReadFile(filepath.Join(fsDir, ".gitignore"))
	if err != nil {
		return s
	}
	rules := parseIgnoreFile(dir, string(data))
	if len(rules) == 0 {
		return s
	}
	return &ignoreStack{parent: s, rules: rules}
}

func parseIgnoreFile(base repopath.RepoPath, content string) []ignoreRule {
	var rules []ignoreRule
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{base: base}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.anchored = true
			line = line[1:]
		} else if strings.Contains(line, "/") {
			rule.anchored = true
		}
		if line == "" {
			continue
		}
		rule.pattern = line
		rules = append(rules, rule)
	}
	return rules
}

// ignored reports whether p is ignored, consulting rules from the
// outermost .gitignore inward so inner files can override outer ones.
func (s *ignoreStack) ignored(p repopath.RepoPath, isDir bool) bool {
	ignored := false
	s.apply(p, isDir, &ignored)
	return ignored
}

func (s *ignoreStack) apply(p repopath.RepoPath, isDir bool, result *bool) {
	if s == nil {
		return
	}
	s.parent.apply(p, isDir, result)
	for _, rule := range s.rules {
		if rule.matches(p, isDir) {
			*result = !rule.negate
		}
	}
}

func (r ignoreRule) matches(p repopath.RepoPath, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	if !p.HasPrefix(r.base) {
		return false
	}
	rel := strings.TrimPrefix(string(p), string(r.base))
	rel = strings.TrimPrefix(rel, "/")
	if r.anchored {
		ok, err := path.Match(r.pattern, rel)
		return err == nil && ok
	}
	// Unanchored patterns match the basename at any depth.
	ok, err := path.Match(r.pattern, path.Base(rel))
	return err == nil && ok
}
