// Package restrict holds the policies that can veto a job start.
//
// A restriction is consulted immediately before a start with the keys of the
// jobs that are running at that moment. Returning true blocks the start for
// this cycle; the scheduler combines restrictions with a logical OR.
package restrict

import (
	"fmt"
	"strings"
)

// Restriction decides whether candidate may start while running are in flight.
type Restriction interface {
	Restrict(candidate string, running []string) bool
}

// Func adapts a plain function to Restriction.
type Func func(candidate string, running []string) bool

func (f Func) Restrict(candidate string, running []string) bool { return f(candidate, running) }

// Named is implemented by restrictions that describe themselves in logs.
type Named interface {
	Name() string
}

// NameOf returns a short label for r.
func NameOf(r Restriction) string {
	if n, ok := r.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}

type keySet map[string]struct{}

func newKeySet(keys []string) keySet {
	s := make(keySet, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

func (s keySet) has(k string) bool {
	_, ok := s[k]
	return ok
}

func (s keySet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

// Resetter is implemented by stateful restrictions that start over each time
// the scheduler loop starts.
type Resetter interface {
	Reset()
}
