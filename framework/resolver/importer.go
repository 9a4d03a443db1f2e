package resolver

import (
	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
)

// importer accumulates the providers exported into one host module and
// applies the host's collision directives.
type importer struct {
	graph *module.Graph
	host  *module.Node
	log   zerolog.Logger
	// localWins makes the host's own declarations shadow anything imported.
	localWins bool

	imports    provider.PerScope[*ImportMap]
	multi      provider.PerScope[[]MultiObj]
	extensions []ExtensionObj
	visited    map[module.Ref]bool
	candidates provider.PerScope[map[provider.Token][]*module.Node]
	resolved   int
}

func newImporter(graph *module.Graph, host *module.Node, localWins bool, log zerolog.Logger) *importer {
	im := &importer{
		graph:     graph,
		host:      host,
		log:       log,
		localWins: localWins,
		imports:   newImportMaps(),
		visited:   make(map[module.Ref]bool),
	}
	for _, s := range provider.Scopes {
		im.candidates[s] = make(map[provider.Token][]*module.Node)
	}
	return im
}

// importFrom pulls in everything src exports, re-exported modules first.
func (im *importer) importFrom(src *module.Node) error {
	if im.visited[src.Ref] {
		return nil
	}
	im.visited[src.Ref] = true

	for _, ref := range src.ExportedModules {
		child, ok := im.graph.Node(ref)
		if !ok {
			return diag.Declarationf(src.Name, "re-exports %s, which is not part of the module graph", provider.Stringify(ref))
		}
		if err := im.importFrom(child); err != nil {
			return err
		}
	}

	for _, s := range provider.ModuleScopes {
		if err := im.addAll(s, src, src.ExportedProviders[s]); err != nil {
			return err
		}
	}
	if len(src.ExportedExtensions) > 0 {
		im.extensions = append(im.extensions, ExtensionObj{
			Module:        src,
			Registrations: append(src.ExportedExtensions[:0:0], src.ExportedExtensions...),
		})
	}
	return nil
}

// addAll adds the providers src contributes at scope s, grouped by token.
func (im *importer) addAll(s provider.Scope, src *module.Node, ps []provider.Provider) error {
	for _, tok := range provider.Tokens(ps) {
		group := provider.Filter(ps, tok)
		im.addCandidate(s, tok, src)
		if group[0].Multi {
			im.multi[s] = append(im.multi[s], MultiObj{Module: src, Providers: group})
			continue
		}
		// Last registration wins inside one module.
		if err := im.addSingle(s, tok, src, group[len(group)-1:]); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) addCandidate(s provider.Scope, tok provider.Token, src *module.Node) {
	for _, n := range im.candidates[s][tok] {
		if n.Ref == src.Ref {
			return
		}
	}
	im.candidates[s][tok] = append(im.candidates[s][tok], src)
}

func (im *importer) addSingle(s provider.Scope, tok provider.Token, src *module.Node, ps []provider.Provider) error {
	if src.Ref == im.host.Ref {
		im.imports[s].Set(tok, &ImportObj{Module: src, Providers: ps})
		return nil
	}
	if im.localWins && im.host.DeclaresLocally(s, tok) {
		return nil
	}

	existing, ok := im.imports[s].Get(tok)
	if !ok || existing.Module.Ref == src.Ref {
		im.imports[s].Set(tok, &ImportObj{Module: src, Providers: ps})
		return nil
	}
	if existing.Module.Ref == im.host.Ref || sameProviders(existing.Providers, ps) {
		return nil
	}

	if d, ok := im.host.Directive(s, tok); ok {
		switch {
		case d.Module == existing.Module.Ref:
		case d.Module == src.Ref:
			im.imports[s].Set(tok, &ImportObj{Module: src, Providers: ps})
		case existing.Module.Matches(d.Module) && src.Matches(d.Module):
			return diag.Declarationf(im.host.Name,
				"collision directive for %s names %s, which is mounted more than once; name the mount instead",
				provider.Stringify(tok), provider.Stringify(d.Module))
		case src.Matches(d.Module):
			im.imports[s].Set(tok, &ImportObj{Module: src, Providers: ps})
		}
		im.resolved++
		im.log.Debug().
			Str("module", im.host.Name).
			Str("scope", s.String()).
			Str("token", provider.Stringify(tok)).
			Str("winner", provider.Stringify(d.Module)).
			Msg("collision resolved by directive")
		return nil
	}
	return &diag.CollisionError{
		Host:    im.host.Name,
		Scope:   s,
		Token:   provider.Stringify(tok),
		Modules: []string{existing.Module.Name, src.Name},
	}
}

// validateDirectives checks every directive the host declares at scopes.
func (im *importer) validateDirectives(scopes ...provider.Scope) error {
	for _, s := range scopes {
		for _, d := range im.host.ResolvedCollisions[s] {
			name := provider.Stringify(d.Token)
			if im.isMulti(s, d.Token) {
				return &diag.MultiProviderMisuseError{Host: im.host.Name, Scope: s, Token: name}
			}
			if im.host.Matches(d.Module) && im.host.DeclaresLocally(s, d.Token) {
				continue
			}
			found := false
			for _, n := range im.candidates[s][d.Token] {
				if n.Matches(d.Module) {
					found = true
					break
				}
			}
			if !found {
				return &diag.UnresolvedCollisionDirectiveError{
					Host:   im.host.Name,
					Scope:  s,
					Token:  name,
					Module: provider.Stringify(d.Module),
				}
			}
		}
	}
	return nil
}

func (im *importer) isMulti(s provider.Scope, tok provider.Token) bool {
	if provider.HasMulti(im.host.Providers[s], tok) {
		return true
	}
	for _, m := range im.multi[s] {
		if m.Token() == tok {
			return true
		}
	}
	return false
}

func sameProviders(a, b []provider.Provider) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !provider.SameImplementation(a[i], b[i]) {
			return false
		}
	}
	return true
}
