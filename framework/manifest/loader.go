package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/extension"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

// ModuleRef names a manifest module in the catalog.
type ModuleRef string

func (r ModuleRef) String() string { return string(r) }

// Instance is what a manifest class builds.
type Instance struct {
	Class string
	Args  []any
}

// Loader compiles manifests into one long-lived catalog. Reloading adds new
// modules; declarations already in the catalog are kept because the module
// graph only picks up import changes at runtime.
type Loader struct {
	path    string
	dir     string
	log     zerolog.Logger
	catalog *module.Catalog
	specs   map[string]ModuleSpec
	classes map[string]*provider.Class
	exts    map[string]*extension.Plugin
	root    ModuleRef
}

// NewLoader returns a loader for the manifest at path.
func NewLoader(path string, log zerolog.Logger) *Loader {
	return &Loader{
		path:    path,
		dir:     filepath.Dir(path),
		log:     log,
		catalog: module.NewCatalog(),
		specs:   make(map[string]ModuleSpec),
		classes: make(map[string]*provider.Class),
		exts:    make(map[string]*extension.Plugin),
	}
}

// Path returns the manifest path.
func (l *Loader) Path() string { return l.path }

// Catalog returns the catalog every Load compiles into.
func (l *Loader) Catalog() *module.Catalog { return l.catalog }

// Root returns the root module ref of the first loaded manifest.
func (l *Loader) Root() module.Ref { return l.root }

// Load reads the manifest and compiles it.
func (l *Loader) Load() (*Manifest, error) {
	m, err := Read(l.path)
	if err != nil {
		return nil, err
	}
	if err := l.Compile(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Compile adds the modules of m that the catalog does not know yet.
func (l *Loader) Compile(m *Manifest) error {
	if l.root == "" {
		l.root = ModuleRef(m.Root)
	} else if ModuleRef(m.Root) != l.root {
		return fmt.Errorf("%w: root changed from %s to %s; restart to switch roots", ErrInvalid, l.root, m.Root)
	}

	added := 0
	for _, spec := range m.Modules {
		if old, ok := l.specs[spec.Name]; ok {
			if !sameDeclaration(old, spec) {
				l.log.Warn().Str("module", spec.Name).Msg("module declaration changed; only import edges are applied at runtime")
			}
			continue
		}
		decl, err := l.declaration(spec, spec.Name == m.Root)
		if err != nil {
			return err
		}
		if err := l.catalog.Add(ModuleRef(spec.Name), decl); err != nil {
			return err
		}
		l.specs[spec.Name] = spec
		added++
	}
	l.log.Debug().Str("path", l.path).Int("added", added).Msg("manifest compiled")
	return nil
}

// Imports returns the refs the manifest declares for module name, building
// fresh *WithParams values for imports with params.
func (l *Loader) Imports(spec ModuleSpec) ([]module.Ref, error) {
	return l.refs(spec.Name, spec.Imports)
}

func (l *Loader) declaration(spec ModuleSpec, root bool) (*module.Declaration, error) {
	d := &module.Declaration{Name: spec.Name, ID: spec.ID}
	if root {
		d.Kind = module.KindRoot
	}
	if spec.Dir != "" {
		d.DeclaredInDir = filepath.Join(l.dir, spec.Dir)
	}

	var err error
	if d.Imports, err = l.refs(spec.Name, spec.Imports); err != nil {
		return nil, err
	}
	if d.Appends, err = l.refs(spec.Name, spec.Appends); err != nil {
		return nil, err
	}
	for _, e := range spec.Exports {
		if imports(spec, e) {
			d.Exports = append(d.Exports, ModuleRef(e))
		} else {
			d.Exports = append(d.Exports, exportToken(spec, e))
		}
	}
	if d.Providers, err = l.providers(spec.Name, spec.Providers); err != nil {
		return nil, err
	}
	for scope, ds := range spec.Resolved {
		s, _ := provider.ParseScope(scope)
		for _, dir := range ds {
			d.ResolvedCollisions[s] = append(d.ResolvedCollisions[s], module.Directive{Token: dir.Token, Module: ModuleRef(dir.Module)})
		}
	}
	for _, ext := range spec.Extensions {
		d.Extensions = append(d.Extensions, extension.Registration{
			Group:     extension.Group(ext.Group),
			Extension: l.extension(ext.Name),
			Before:    extension.Group(ext.Before),
			Export:    ext.Export,
		})
	}
	for _, c := range spec.Controllers {
		d.Controllers = append(d.Controllers, c)
	}
	d.Guards = guards(spec.Guards)
	return d, nil
}

// imports reports whether spec imports the module called name.
func imports(spec ModuleSpec, name string) bool {
	for _, imp := range spec.Imports {
		if imp.Module == name {
			return true
		}
	}
	return false
}

// exportToken turns an exported name into a token. Extension groups are
// typed so they match registrations.
func exportToken(spec ModuleSpec, name string) any {
	for _, ext := range spec.Extensions {
		if ext.Group == name {
			return extension.Group(name)
		}
	}
	return name
}

func (l *Loader) refs(mod string, specs []ImportSpec) ([]module.Ref, error) {
	out := make([]module.Ref, 0, len(specs))
	for _, imp := range specs {
		if imp.Plain() {
			out = append(out, ModuleRef(imp.Module))
			continue
		}
		ps, err := l.providers(mod, imp.Providers)
		if err != nil {
			return nil, err
		}
		wp := &module.WithParams{
			Module:    ModuleRef(imp.Module),
			ID:        imp.ID,
			Path:      imp.Path,
			Guards:    guards(imp.Guards),
			Providers: ps,
		}
		for _, e := range imp.Exports {
			wp.Exports = append(wp.Exports, e)
		}
		out = append(out, wp)
	}
	return out, nil
}

func (l *Loader) providers(mod string, per map[string][]ProviderSpec) (provider.PerScope[[]provider.Provider], error) {
	var out provider.PerScope[[]provider.Provider]
	scopes := make([]string, 0, len(per))
	for scope := range per {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	for _, scope := range scopes {
		s, err := provider.ParseScope(scope)
		if err != nil {
			return out, fmt.Errorf("%w: module %s: %v", ErrInvalid, mod, err)
		}
		for _, ps := range per[scope] {
			p, err := l.provider(ps)
			if err != nil {
				return out, fmt.Errorf("%w: module %s: %v", ErrInvalid, mod, err)
			}
			out[s] = append(out[s], p)
		}
	}
	return out, nil
}

func (l *Loader) provider(ps ProviderSpec) (provider.Provider, error) {
	var p provider.Provider
	switch {
	case ps.Class != "":
		c, err := l.class(ps.Class, ps.Deps)
		if err != nil {
			return p, err
		}
		p = provider.UseClass(ps.Token, c)
	case ps.Alias != "":
		p = provider.UseAlias(ps.Token, ps.Alias)
	default:
		p = provider.UseValue(ps.Token, ps.Value)
	}
	if ps.Multi {
		p = p.AsMulti()
	}
	return p, nil
}

func (l *Loader) class(name string, deps []string) (*provider.Class, error) {
	toks := make([]provider.Token, len(deps))
	for i, d := range deps {
		toks[i] = d
	}
	if c, ok := l.classes[name]; ok {
		if !reflect.DeepEqual(c.Deps, toks) {
			return nil, fmt.Errorf("class %s redeclared with deps %v, was %v", name, deps, c.Deps)
		}
		return c, nil
	}
	c := &provider.Class{Name: name, Deps: toks, New: func(args ...any) (any, error) {
		return &Instance{Class: name, Args: args}, nil
	}}
	l.classes[name] = c
	return c, nil
}

// extension returns the plugin registered under name. Its Init contributes
// the plugin name to every group it belongs to.
func (l *Loader) extension(name string) *extension.Plugin {
	if p, ok := l.exts[name]; ok {
		return p
	}
	p := extension.New(name, func(context.Context) (any, error) { return name, nil })
	l.exts[name] = p
	return p
}

func guards(names []string) []module.Guard {
	var out []module.Guard
	for _, g := range names {
		out = append(out, module.Guard{Token: g})
	}
	return out
}

func sameDeclaration(a, b ModuleSpec) bool {
	a.Imports, b.Imports = nil, nil
	return reflect.DeepEqual(a, b)
}
