// Package extension schedules boot-time plugins ("extensions").
//
// Extensions register under a Group. Draining a group runs every member's
// Init at most once, in registration order, after the synthetic
// "BEFORE <group>" pseudo-group has been drained:
//
//	sched := extension.NewScheduler([]extension.Registration{
//	    {Group: "routes", Extension: routesExt},
//	    {Group: "openapi", Extension: docsExt, Before: "routes"}, // docsExt runs before any "routes" member
//	}, extension.WithLogger(log))
//
//	values, err := sched.Init(ctx, "routes")
package extension

import (
	"context"
	"fmt"
	"strings"
)

const beforePrefix = "BEFORE "

// Group names a set of extensions drained together.
type Group string

// BeforeGroup returns the pseudo-group drained right before g.
func BeforeGroup(g Group) Group { return Group(beforePrefix + string(g)) }

// IsBefore reports whether g is a BEFORE pseudo-group.
func (g Group) IsBefore() bool { return strings.HasPrefix(string(g), beforePrefix) }

// TokenName lets groups render nicely in diagnostics.
func (g Group) TokenName() string { return string(g) }

// Extension is a boot-time plugin. Init may return nil to decline to
// contribute, a slice whose elements are flattened into the group result, or
// any other single value. Implementations must be comparable (usually a
// pointer); identity is what makes "at most once" work.
type Extension interface {
	Init(ctx context.Context) (any, error)
}

// Plugin adapts a function to Extension.
type Plugin struct {
	Name string
	Fn   func(ctx context.Context) (any, error)
}

// New returns a Plugin named name.
func New(name string, fn func(ctx context.Context) (any, error)) *Plugin {
	return &Plugin{Name: name, Fn: fn}
}

// Init implements Extension.
func (p *Plugin) Init(ctx context.Context) (any, error) {
	if p.Fn == nil {
		return nil, nil
	}
	return p.Fn(ctx)
}

func (p *Plugin) String() string { return p.Name }

// Registration places an Extension in a Group.
type Registration struct {
	Group     Group
	Extension Extension
	// Before, when set, also registers the extension in BeforeGroup(Before).
	Before Group
	// Export makes the registration visible to importing modules.
	Export bool
}

// Validate reports an unusable registration.
func (r Registration) Validate() error {
	if r.Group == "" {
		return fmt.Errorf("extension %s has no group", Name(r.Extension))
	}
	if r.Extension == nil {
		return fmt.Errorf("group %s: nil extension", r.Group)
	}
	if r.Group.IsBefore() || r.Before.IsBefore() {
		return fmt.Errorf("extension %s: BEFORE groups are synthetic and cannot be registered directly", Name(r.Extension))
	}
	if r.Before == r.Group {
		return fmt.Errorf("extension %s cannot run before its own group %s", Name(r.Extension), r.Group)
	}
	return nil
}

// Name returns a display name for ext.
func Name(ext Extension) string {
	if ext == nil {
		return "<nil>"
	}
	if s, ok := ext.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", ext)
}
