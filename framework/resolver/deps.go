package resolver

import (
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

// DepsOption configures a DepsResolver.
type DepsOption func(*DepsResolver)

// WithDepsLogger sets the dependency resolver's logger.
func WithDepsLogger(log zerolog.Logger) DepsOption {
	return func(d *DepsResolver) { d.log = log }
}

// WithAppTokens marks tokens provided at application scope. They satisfy
// any dependency.
func WithAppTokens(toks ...provider.Token) DepsOption {
	return func(d *DepsResolver) {
		for _, t := range toks {
			d.app[t] = true
		}
	}
}

// WithBaseline excludes always-available tokens from the walk.
func WithBaseline(toks ...provider.Token) DepsOption {
	return func(d *DepsResolver) {
		for _, t := range toks {
			d.baseline[t] = true
		}
	}
}

// frame is one (module, provider) pair on the resolution stack.
type frame struct {
	module module.Ref
	token  provider.Token
}

// DepsResolver walks the constructor dependencies of imported providers and
// pulls whatever the consumer cannot see from the exporting module.
type DepsResolver struct {
	reader   module.Reader
	log      zerolog.Logger
	mods     map[module.Ref]*ModuleProviders
	order    []*ModuleProviders
	app      map[provider.Token]bool
	baseline map[provider.Token]bool

	stack  []frame
	done   map[frame]bool
	pulled int
}

// NewDeps returns a resolver that mutates the Pulled lists of mods.
func NewDeps(reader module.Reader, mods []*ModuleProviders, opts ...DepsOption) *DepsResolver {
	d := &DepsResolver{
		reader:   reader,
		log:      zerolog.Nop(),
		mods:     make(map[module.Ref]*ModuleProviders, len(mods)),
		order:    mods,
		app:      make(map[provider.Token]bool),
		baseline: make(map[provider.Token]bool),
	}
	for _, mp := range mods {
		d.mods[mp.Node.Ref] = mp
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pulled counts providers pulled into consumers.
func (d *DepsResolver) Pulled() int { return d.pulled }

// Resolve walks every imported provider of every module.
func (d *DepsResolver) Resolve() error {
	for _, mp := range d.order {
		d.done = make(map[frame]bool)
		for _, s := range provider.ModuleScopes {
			for _, tok := range mp.Imports[s].Keys() {
				obj, _ := mp.Imports[s].Get(tok)
				if err := d.walkAll(mp, s, obj.Module, obj.Providers); err != nil {
					return err
				}
			}
			for _, m := range mp.Multi[s] {
				if err := d.walkAll(mp, s, m.Module, m.Providers); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *DepsResolver) walkAll(consumer *ModuleProviders, s provider.Scope, src *module.Node, ps []provider.Provider) error {
	for _, p := range ps {
		if err := d.walk(consumer, s, src, p); err != nil {
			return err
		}
	}
	return nil
}

// walk checks every dependency of p, which consumer sees at scope s and
// which originates in src.
func (d *DepsResolver) walk(consumer *ModuleProviders, s provider.Scope, src *module.Node, p provider.Provider) error {
	f := frame{module: src.Ref, token: p.Token}
	for i, on := range d.stack {
		if on == f {
			return d.cycle(consumer, i, p.Token)
		}
	}
	if d.done[f] {
		return nil
	}
	d.stack = append(d.stack, f)
	defer func() { d.stack = d.stack[:len(d.stack)-1] }()

	for _, dep := range d.reader.ConstructorDeps(p) {
		if d.baseline[dep] {
			continue
		}
		ok, err := d.inConsumer(consumer, s, dep)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		ok, err = d.pull(consumer, s, src, dep)
		if err != nil {
			return err
		}
		if !ok {
			return &diag.NoProviderError{
				Module: consumer.Node.Name,
				Scope:  s,
				Token:  provider.Stringify(dep),
				Path:   d.path(0),
			}
		}
	}
	d.done[f] = true
	return nil
}

// inConsumer searches consumer from s up to Mod, then application scope.
// Imported and pulled matches are walked in turn so dependency cycles that
// span imported providers are still detected.
func (d *DepsResolver) inConsumer(consumer *ModuleProviders, s provider.Scope, dep provider.Token) (bool, error) {
	for _, sc := range s.Upward() {
		if sc == provider.App {
			break
		}
		if consumer.Node.DeclaresLocally(sc, dep) {
			return true, nil
		}
		if obj, ok := consumer.Imports[sc].Get(dep); ok {
			return true, d.walkAll(consumer, sc, obj.Module, obj.Providers)
		}
		found := false
		for _, m := range consumer.Multi[sc] {
			if m.Token() == dep {
				found = true
				if err := d.walkAll(consumer, sc, m.Module, m.Providers); err != nil {
					return true, err
				}
			}
		}
		for _, obj := range consumer.Pulled[sc] {
			if obj.Providers[0].Token == dep {
				found = true
				if err := d.walkAll(consumer, sc, obj.Module, obj.Providers); err != nil {
					return true, err
				}
			}
		}
		if found {
			return true, nil
		}
	}
	return d.app[dep], nil
}

// pull looks for dep in src (its locals, then what src itself imported),
// walking from s up to Mod. A match is front-inserted into the consumer's
// pulled list at the scope it was found and walked recursively.
func (d *DepsResolver) pull(consumer *ModuleProviders, s provider.Scope, src *module.Node, dep provider.Token) (bool, error) {
	srcMP, ok := d.mods[src.Ref]
	if !ok {
		return false, nil
	}
	for _, sc := range s.Upward() {
		if sc == provider.App {
			break
		}
		var found []ImportObj
		if ps := provider.Filter(src.Providers[sc], dep); len(ps) > 0 {
			if !ps[0].Multi {
				ps = ps[len(ps)-1:]
			}
			found = append(found, ImportObj{Module: src, Providers: ps})
		} else if obj, ok := srcMP.Imports[sc].Get(dep); ok {
			found = append(found, ImportObj{Module: obj.Module, Providers: provider.Clone(obj.Providers)})
		} else {
			for _, m := range srcMP.Multi[sc] {
				if m.Token() == dep {
					found = append(found, ImportObj{Module: m.Module, Providers: provider.Clone(m.Providers)})
				}
			}
			for _, obj := range srcMP.Pulled[sc] {
				if obj.Providers[0].Token == dep {
					found = append(found, ImportObj{Module: obj.Module, Providers: provider.Clone(obj.Providers)})
				}
			}
		}
		if len(found) == 0 {
			continue
		}

		consumer.Pulled[sc] = append(append([]ImportObj(nil), found...), consumer.Pulled[sc]...)
		d.pulled += len(found)
		d.log.Debug().
			Str("module", consumer.Node.Name).
			Str("scope", sc.String()).
			Str("token", provider.Stringify(dep)).
			Str("from", found[0].Module.Name).
			Msg("dependency pulled")
		for _, obj := range found {
			if err := d.walkAll(consumer, sc, obj.Module, obj.Providers); err != nil {
				return true, err
			}
		}
		return true, nil
	}
	return false, nil
}

func (d *DepsResolver) path(from int) []string {
	out := make([]string, 0, len(d.stack)-from)
	for _, f := range d.stack[from:] {
		out = append(out, provider.Stringify(f.token))
	}
	return out
}

func (d *DepsResolver) cycle(consumer *ModuleProviders, start int, tok provider.Token) error {
	return &diag.CircularDependencyError{
		Module: consumer.Node.Name,
		Prefix: d.path(0)[:start],
		Cycle:  append(d.path(start), provider.Stringify(tok)),
	}
}
