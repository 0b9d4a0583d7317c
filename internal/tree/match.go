package tree

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher selects relative paths for Funnel include and exclude lists.
type Matcher interface {
	Match(relativePath string) bool
	String() string
}

type globMatcher struct{ glob string }

func (m globMatcher) Match(p string) bool {
	ok, err := doublestar.Match(m.glob, p)
	return err == nil && ok
}
func (m globMatcher) String() string { return m.glob }

// Glob matches slash-separated relative paths against a doublestar pattern
// (`*`, `?`, `**`, `[...]` and `{a,b}`). It panics on an invalid pattern.
func Glob(pattern string) Matcher {
	if !doublestar.ValidatePattern(pattern) {
		panic(fmt.Sprintf("tree: invalid glob %q: %v", pattern, doublestar.ErrBadPattern))
	}
	return globMatcher{glob: pattern}
}

type funcMatcher struct {
	desc string
	fn   func(string) bool
}

func (m funcMatcher) Match(p string) bool { return m.fn(p) }
func (m funcMatcher) String() string      { return m.desc }

// Func adapts a predicate.
func Func(description string, fn func(relativePath string) bool) Matcher {
	return funcMatcher{desc: description, fn: fn}
}

// Exact matches the listed paths only.
func Exact(paths ...string) Matcher {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return Func(strings.Join(paths, ","), func(p string) bool {
		_, ok := set[p]
		return ok
	})
}

func matchAny(ms []Matcher, p string) bool {
	for _, m := range ms {
		if m != nil && m.Match(p) {
			return true
		}
	}
	return false
}
