package container

import (
	"fmt"
	"sync"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/provider"
)

// ── Bindings ──────────────────────────────────────────────────────────────────

// binding is what one token resolves to inside one injector.
type binding struct {
	providers []provider.Provider
	multi     bool
}

// Token under which every injector registers itself.
var Token = provider.TypeToken[*Injector]()

// ── Injector ──────────────────────────────────────────────────────────────────

// Injector holds the providers of one scope. Lookups that miss fall through
// to the parent, which is always a broader scope, so a narrower injector
// sees everything above it and never the reverse.
//
// Every resolved value is cached in the injector that owns the binding:
// app values live as long as the application, request values as long as the
// request injector.
type Injector struct {
	mu sync.RWMutex

	parent *Injector
	scope  provider.Scope
	name   string

	bindings  map[provider.Token]*binding
	order     []provider.Token
	instances map[provider.Token]any
}

// Option configures an Injector.
type Option func(*Injector)

// WithParent sets the injector consulted for tokens this one lacks.
func WithParent(p *Injector) Option {
	return func(i *Injector) { i.parent = p }
}

// WithName labels the injector in diagnostics, usually with a module name.
func WithName(name string) Option {
	return func(i *Injector) { i.name = name }
}

// New builds an injector for scope from ps. For single providers the last
// registration of a token wins; multi providers accumulate.
//
//	app, err := container.New(provider.App, appProviders)
//	mod, err := app.Child(provider.Mod, modProviders, "UsersModule")
func New(scope provider.Scope, ps []provider.Provider, opts ...Option) (*Injector, error) {
	i := &Injector{
		scope:     scope,
		bindings:  make(map[provider.Token]*binding),
		instances: make(map[provider.Token]any),
	}
	for _, opt := range opts {
		opt(i)
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("container: invalid scope %s", scope)
	}
	if i.parent != nil && !scope.Narrower(i.parent.scope) {
		return nil, fmt.Errorf("container: %s injector cannot have a %s parent", scope, i.parent.scope)
	}

	for _, p := range provider.Dedupe(ps) {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("container: %w", err)
		}
		b, ok := i.bindings[p.Token]
		if !ok {
			b = &binding{multi: p.Multi}
			i.bindings[p.Token] = b
			i.order = append(i.order, p.Token)
		}
		if b.multi != p.Multi {
			return nil, fmt.Errorf("container: %s is bound both as multi and single provider", provider.Stringify(p.Token))
		}
		b.providers = append(b.providers, p)
	}
	i.instances[Token] = i
	return i, nil
}

// Child returns a narrower injector whose parent is i.
func (i *Injector) Child(scope provider.Scope, ps []provider.Provider, name string) (*Injector, error) {
	if name == "" {
		name = i.name
	}
	return New(scope, ps, WithParent(i), WithName(name))
}

// Scope returns the injector's scope.
func (i *Injector) Scope() provider.Scope { return i.scope }

// Parent returns the broader injector, or nil.
func (i *Injector) Parent() *Injector { return i.parent }

// Name returns the diagnostic label.
func (i *Injector) Name() string { return i.name }

// ── Registration ──────────────────────────────────────────────────────────────

// Instance registers a pre-built value, replacing any binding for tok in
// this injector.
//
//	req.Instance("Request", r)
func (i *Injector) Instance(tok provider.Token, v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.bindings[tok]; !ok {
		i.order = append(i.order, tok)
	}
	i.bindings[tok] = &binding{providers: []provider.Provider{provider.UseValue(tok, v)}}
	i.instances[tok] = v
}

// ── Resolution ────────────────────────────────────────────────────────────────

// Get resolves tok. Multi-provider tokens resolve to []any.
func (i *Injector) Get(tok provider.Token) (any, error) {
	return i.get(tok, nil)
}

func (i *Injector) get(tok provider.Token, stack []provider.Token) (any, error) {
	if !provider.Comparable(tok) {
		return nil, fmt.Errorf("container: token %s is not comparable", provider.Stringify(tok))
	}
	for owner := i; owner != nil; owner = owner.parent {
		owner.mu.RLock()
		v, done := owner.instances[tok]
		b, bound := owner.bindings[tok]
		owner.mu.RUnlock()
		if done {
			return v, nil
		}
		if bound {
			return owner.instantiate(tok, b, stack)
		}
	}
	path := make([]string, len(stack))
	for n, t := range stack {
		path[n] = provider.Stringify(t)
	}
	return nil, &diag.NoProviderError{Module: i.name, Scope: i.scope, Token: provider.Stringify(tok), Path: path}
}

// instantiate builds b inside i, the injector that owns it.
func (i *Injector) instantiate(tok provider.Token, b *binding, stack []provider.Token) (any, error) {
	for n, t := range stack {
		if t == tok {
			return nil, i.cycle(stack, n, tok)
		}
	}
	stack = append(stack[:len(stack):len(stack)], tok)

	var v any
	if b.multi {
		values := make([]any, 0, len(b.providers))
		for _, p := range b.providers {
			pv, err := i.build(p, stack)
			if err != nil {
				return nil, err
			}
			values = append(values, pv)
		}
		v = values
	} else {
		var err error
		if v, err = i.build(b.providers[len(b.providers)-1], stack); err != nil {
			return nil, err
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if existing, ok := i.instances[tok]; ok {
		return existing, nil
	}
	i.instances[tok] = v
	return v, nil
}

func (i *Injector) build(p provider.Provider, stack []provider.Token) (any, error) {
	switch p.Kind {
	case provider.KindValue:
		return p.Value, nil
	case provider.KindAlias:
		return i.get(p.Alias, stack)
	case provider.KindClass:
		if p.Class.New == nil {
			return nil, fmt.Errorf("container: class %s has no constructor", p.Class.Name)
		}
		args, err := i.args(p.Class.Deps, stack)
		if err != nil {
			return nil, err
		}
		return wrap(p)(p.Class.New(args...))
	case provider.KindFactory:
		if p.Factory.Fn == nil {
			return nil, fmt.Errorf("container: factory %s has no function", p.Factory.Name)
		}
		args, err := i.args(p.Factory.Deps, stack)
		if err != nil {
			return nil, err
		}
		return wrap(p)(p.Factory.Fn(args...))
	}
	return nil, fmt.Errorf("container: cannot build %s", p)
}

func (i *Injector) args(deps []provider.Token, stack []provider.Token) ([]any, error) {
	args := make([]any, len(deps))
	for n, dep := range deps {
		v, err := i.get(dep, stack)
		if err != nil {
			return nil, err
		}
		args[n] = v
	}
	return args, nil
}

func wrap(p provider.Provider) func(any, error) (any, error) {
	return func(v any, err error) (any, error) {
		if err != nil {
			return nil, fmt.Errorf("container: build %s: %w", provider.Stringify(p.Token), err)
		}
		return v, nil
	}
}

func (i *Injector) cycle(stack []provider.Token, start int, tok provider.Token) error {
	names := make([]string, 0, len(stack)+1)
	for _, t := range stack {
		names = append(names, provider.Stringify(t))
	}
	names = append(names, provider.Stringify(tok))
	return &diag.CircularDependencyError{Module: i.name, Prefix: names[:start], Cycle: names[start:]}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// Has reports whether tok is bound here or in any parent.
func (i *Injector) Has(tok provider.Token) bool {
	if !provider.Comparable(tok) {
		return false
	}
	for owner := i; owner != nil; owner = owner.parent {
		owner.mu.RLock()
		_, ok := owner.bindings[tok]
		owner.mu.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

// Resolved reports whether tok has been built in this injector.
func (i *Injector) Resolved(tok provider.Token) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.instances[tok]
	return ok
}

// Tokens returns the tokens bound in this injector, in registration order.
func (i *Injector) Tokens() []provider.Token {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]provider.Token(nil), i.order...)
}

// ── Generics helper ───────────────────────────────────────────────────────────

// Resolve calls Get and type-asserts the result.
//
//	repo, err := container.Resolve[*UserRepo](mod, UserRepoToken)
func Resolve[T any](i *Injector, tok provider.Token) (T, error) {
	var zero T
	v, err := i.Get(tok)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: Resolve[%T]: %s resolved to %T", zero, provider.Stringify(tok), v)
	}
	return typed, nil
}

// MustResolve is Resolve that panics on error. Use it where a missing
// binding is a programming mistake.
func MustResolve[T any](i *Injector, tok provider.Token) T {
	v, err := Resolve[T](i, tok)
	if err != nil {
		panic(err)
	}
	return v
}
