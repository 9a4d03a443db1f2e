package provider

import (
	"errors"
	"fmt"
	"reflect"
)

// ── Implementation strategies ────────────────────────────────────────────────

// Kind selects how a provider builds its value.
type Kind uint8

const (
	KindClass Kind = iota + 1
	KindValue
	KindFactory
	KindAlias
)

func (k Kind) String() string {
	switch k {
	case KindClass:
		return "useClass"
	case KindValue:
		return "useValue"
	case KindFactory:
		return "useFactory"
	case KindAlias:
		return "useAlias"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Class is a constructor with declared dependencies. The pointer is the
// implementation identity: two providers using the same *Class are identical.
type Class struct {
	Name string
	Deps []Token
	New  func(args ...any) (any, error)
}

func (c *Class) String() string { return c.Name }

// Factory is a function with declared dependencies. Identity is the pointer.
type Factory struct {
	Name string
	Deps []Token
	Fn   func(args ...any) (any, error)
}

func (f *Factory) String() string { return f.Name }

// ── Provider ─────────────────────────────────────────────────────────────────

// Provider binds a Token to one implementation strategy.
type Provider struct {
	Token   Token
	Kind    Kind
	Class   *Class
	Value   any
	Factory *Factory
	Alias   Token
	// Multi providers never collide: every contribution is retained.
	Multi bool
}

// Of binds a class to itself.
//
//	provider.Of(UserRepo) // == provider.UseClass(UserRepo, UserRepo)
func Of(c *Class) Provider { return UseClass(c, c) }

// UseClass binds tok to a class.
func UseClass(tok Token, c *Class) Provider {
	return Provider{Token: tok, Kind: KindClass, Class: c}
}

// UseValue binds tok to a pre-built value.
func UseValue(tok Token, v any) Provider {
	return Provider{Token: tok, Kind: KindValue, Value: v}
}

// UseFactory binds tok to a factory.
func UseFactory(tok Token, f *Factory) Provider {
	return Provider{Token: tok, Kind: KindFactory, Factory: f}
}

// UseAlias makes tok resolve to whatever target resolves to.
func UseAlias(tok, target Token) Provider {
	return Provider{Token: tok, Kind: KindAlias, Alias: target}
}

// AsMulti returns a copy of p flagged as a multi-provider.
func (p Provider) AsMulti() Provider {
	p.Multi = true
	return p
}

// Deps returns the constructor dependencies declared by p's implementation.
func (p Provider) Deps() []Token {
	switch p.Kind {
	case KindClass:
		if p.Class != nil {
			return append([]Token(nil), p.Class.Deps...)
		}
	case KindFactory:
		if p.Factory != nil {
			return append([]Token(nil), p.Factory.Deps...)
		}
	case KindAlias:
		return []Token{p.Alias}
	}
	return nil
}

// Validate checks that p names a usable token and exactly the implementation
// its Kind promises.
func (p Provider) Validate() error {
	if !Comparable(p.Token) {
		return fmt.Errorf("provider token %s is not comparable", Stringify(p.Token))
	}
	switch p.Kind {
	case KindClass:
		if p.Class == nil {
			return fmt.Errorf("provider %s: useClass without a class", Stringify(p.Token))
		}
	case KindFactory:
		if p.Factory == nil {
			return fmt.Errorf("provider %s: useFactory without a factory", Stringify(p.Token))
		}
	case KindAlias:
		if !Comparable(p.Alias) {
			return fmt.Errorf("provider %s: alias target is not comparable", Stringify(p.Token))
		}
		if p.Alias == p.Token {
			return fmt.Errorf("provider %s: aliased to itself", Stringify(p.Token))
		}
	case KindValue:
	default:
		return errors.New("provider " + Stringify(p.Token) + ": unknown kind")
	}
	return nil
}

// String renders p for diagnostics, e.g. "Logger{useClass: ConsoleLogger}".
func (p Provider) String() string {
	var impl string
	switch p.Kind {
	case KindClass:
		impl = Stringify(p.Class)
	case KindFactory:
		impl = Stringify(p.Factory)
	case KindAlias:
		impl = Stringify(p.Alias)
	default:
		impl = fmt.Sprintf("%v", p.Value)
	}
	s := fmt.Sprintf("%s{%s: %s}", Stringify(p.Token), p.Kind, impl)
	if p.Multi {
		s += "[multi]"
	}
	return s
}

// SameImplementation reports whether a and b would build the same thing.
// Redeclaring an identical implementation is never a collision.
func SameImplementation(a, b Provider) bool {
	if a.Kind != b.Kind || a.Multi != b.Multi {
		return false
	}
	switch a.Kind {
	case KindClass:
		return a.Class == b.Class
	case KindFactory:
		return a.Factory == b.Factory
	case KindAlias:
		return a.Alias == b.Alias
	case KindValue:
		return sameValue(a.Value, b.Value)
	}
	return false
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	// Type.Comparable is true for structs holding interfaces, even when the
	// dynamic value inside is a slice; only the value knows.
	if reflect.ValueOf(a).Comparable() && reflect.ValueOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
