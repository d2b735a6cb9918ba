package restrict

import (
	"fmt"
	"sort"
	"strings"
)

// groupLimit is one named concurrency group.
//
// Note: a job may belong to several groups; it is blocked if any of them is full.
type groupLimit struct {
	name    string
	limit   int
	members keySet
}

// GroupLimit caps concurrent executions inside named job groups.
type GroupLimit struct {
	groups []groupLimit
}

func NewGroupLimit() *GroupLimit { return &GroupLimit{} }

// Add registers a group. A limit <= 0 is treated as 1.
func (g *GroupLimit) Add(name string, limit int, members ...string) *GroupLimit {
	if limit <= 0 {
		limit = 1
	}
	g.groups = append(g.groups, groupLimit{name: strings.TrimSpace(name), limit: limit, members: newKeySet(members)})
	return g
}

func (g *GroupLimit) Restrict(candidate string, running []string) bool {
	for _, gr := range g.groups {
		if !gr.members.has(candidate) {
			continue
		}
		n := 0
		for _, k := range running {
			if gr.members.has(k) {
				n++
			}
		}
		if n >= gr.limit {
			return true
		}
	}
	return false
}

func (g *GroupLimit) Name() string {
	parts := make([]string, 0, len(g.groups))
	for _, gr := range g.groups {
		parts = append(parts, fmt.Sprintf("%s=%d", gr.name, gr.limit))
	}
	sort.Strings(parts)
	return "groups(" + strings.Join(parts, ",") + ")"
}
