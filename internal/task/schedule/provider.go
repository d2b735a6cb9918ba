package schedule

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolved is returned when a Resolved provider names an unknown schedule.
var ErrUnresolved = errors.New("schedule not resolvable")

// Resolver builds schedule instances by name.
type Resolver interface {
	ResolveSchedule(name string) (Schedule, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (Schedule, error)

func (f ResolverFunc) ResolveSchedule(name string) (Schedule, error) { return f(name) }

// ProviderKind tags the Provider variant.
type ProviderKind int

const (
	ProviderFixed ProviderKind = iota + 1
	ProviderResolved
)

// Provider supplies the schedule of a registered job. It is either a fixed
// instance reused on every evaluation, or a name that is resolved again on
// every evaluation so the schedule can follow changing configuration.
type Provider struct {
	kind  ProviderKind
	fixed Schedule
	name  string
}

// Fixed wraps one schedule instance.
func Fixed(s Schedule) Provider {
	return Provider{kind: ProviderFixed, fixed: s}
}

// Resolved names a schedule that is looked up through a Resolver each time.
func Resolved(name string) Provider {
	return Provider{kind: ProviderResolved, name: strings.TrimSpace(name)}
}

func (p Provider) Kind() ProviderKind { return p.kind }

// Name is the resolvable name of a Resolved provider ("" otherwise).
func (p Provider) Name() string { return p.name }

// Valid reports whether p was built with Fixed or Resolved and carries a value.
func (p Provider) Valid() bool {
	switch p.kind {
	case ProviderFixed:
		return p.fixed != nil
	case ProviderResolved:
		return p.name != ""
	default:
		return false
	}
}

// Schedule returns the schedule to evaluate now.
func (p Provider) Schedule(r Resolver) (Schedule, error) {
	switch p.kind {
	case ProviderFixed:
		if p.fixed == nil {
			return nil, fmt.Errorf("fixed schedule is nil")
		}
		return p.fixed, nil
	case ProviderResolved:
		if r == nil {
			return nil, fmt.Errorf("%w: %q (no resolver)", ErrUnresolved, p.name)
		}
		s, err := r.ResolveSchedule(p.name)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnresolved, p.name)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("schedule provider not set")
	}
}

func (p Provider) String() string {
	switch p.kind {
	case ProviderFixed:
		return Describe(p.fixed)
	case ProviderResolved:
		return "resolved(" + p.name + ")"
	default:
		return "<unset>"
	}
}
