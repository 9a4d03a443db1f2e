package provider

import "fmt"

// Scope is a provider lifetime level, ordered broad to narrow.
type Scope uint8

const (
	App Scope = iota
	Mod
	Rou
	Req
)

// Scopes lists every scope, broad to narrow.
var Scopes = [...]Scope{App, Mod, Rou, Req}

// ModuleScopes lists the scopes resolved per module (everything except App).
var ModuleScopes = [...]Scope{Mod, Rou, Req}

var scopeNames = [...]string{"App", "Mod", "Rou", "Req"}

func (s Scope) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
	return scopeNames[s]
}

// Valid reports whether s is one of the four declared scopes.
func (s Scope) Valid() bool { return s <= Req }

// Narrower reports whether s is strictly narrower than other.
func (s Scope) Narrower(other Scope) bool { return s > other }

// Upward returns s followed by every broader scope, narrowest first.
//
//	provider.Req.Upward() // [Req Rou Mod App]
func (s Scope) Upward() []Scope {
	out := make([]Scope, 0, int(s)+1)
	for i := int(s); i >= int(App); i-- {
		out = append(out, Scope(i))
	}
	return out
}

// ParseScope maps a case-insensitive scope name to a Scope.
func ParseScope(name string) (Scope, error) {
	switch name {
	case "app", "App", "APP", "perApp":
		return App, nil
	case "mod", "Mod", "MOD", "perMod":
		return Mod, nil
	case "rou", "Rou", "ROU", "perRou":
		return Rou, nil
	case "req", "Req", "REQ", "perReq":
		return Req, nil
	}
	return 0, fmt.Errorf("unknown scope %q", name)
}

// PerScope holds one value per Scope.
type PerScope[T any] [4]T

// At returns the value stored for s.
func (p *PerScope[T]) At(s Scope) T { return p[s] }

// Set stores v for s.
func (p *PerScope[T]) Set(s Scope, v T) { p[s] = v }
