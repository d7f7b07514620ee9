package scanner

import (
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// PathFilter excludes changed files from scanning by path pattern.
type PathFilter struct {
	patterns []*regexp.Regexp
}

// NewPathFilter compiles the given RE2 patterns. A nil filter excludes nothing.
func NewPathFilter(patterns []string) (*PathFilter, error) {
	f := &PathFilter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Skip reports whether path matches any exclusion pattern.
func (f *PathFilter) Skip(path string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Patterns returns the source of every compiled pattern.
func (f *PathFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, len(f.patterns))
	for _, re := range f.patterns {
		out = append(out, re.String())
	}
	return out
}
