package http

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/km-arc/modgraph/framework/app"
	gohttp "github.com/km-arc/modgraph/framework/http"
	"github.com/km-arc/modgraph/framework/http/validation"
	"github.com/km-arc/modgraph/framework/metrics"
	"github.com/km-arc/modgraph/framework/module"
	"github.com/km-arc/modgraph/framework/provider"
	"github.com/km-arc/modgraph/routing"
)

// Admin serves the administrative API.
type Admin struct {
	boot    *app.Bootstrapper
	log     zerolog.Logger
	metrics *metrics.Collector
	token   string
	ref     func(name string) module.Ref
}

// Option configures Admin.
type Option func(*Admin)

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Admin) { a.log = log }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Admin) { a.metrics = m }
}

// WithToken requires token as a bearer token on mutating routes.
func WithToken(token string) Option {
	return func(a *Admin) { a.token = token }
}

// WithRefs sets how a module name in a request body becomes a module ref.
// The default uses the name itself.
func WithRefs(fn func(name string) module.Ref) Option {
	return func(a *Admin) { a.ref = fn }
}

// NewAdmin returns the admin API over boot.
func NewAdmin(boot *app.Bootstrapper, opts ...Option) *Admin {
	a := &Admin{
		boot: boot,
		log:  zerolog.Nop(),
		ref:  func(name string) module.Ref { return name },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register mounts every admin route on r.
func (a *Admin) Register(r *routing.Router) {
	r.Get("/healthz", a.health)
	r.Get("/routes", a.routes)
	if a.metrics != nil {
		r.Handle("/metrics", a.metrics.Handler())
	}

	r.Prefix("/modules", func(m *routing.Router) {
		m.Get("/", a.listModules)
		m.Get("/{id}", a.showModule)
		m.Group(func(g *routing.Router) {
			g.Middleware(a.authenticate)
			g.Post("/{id}/imports", a.addImport)
			g.Delete("/{id}/imports/{target}", a.removeImport)
		})
	})

	r.Group(func(g *routing.Router) {
		g.Middleware(a.authenticate)
		g.Post("/reinit", a.reinit)
		g.Post("/rollback", a.rollback)
	})
}

func (a *Admin) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			got := gohttp.NewRequest(r).BearerToken()
			if subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) != 1 {
				NewResponse(w).Unauthorized()
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ── Views ────────────────────────────────────────────────────────────────────

// ModuleView is the JSON form of one module's metadata.
type ModuleView struct {
	ID          string                  `json:"id,omitempty"`
	Name        string                  `json:"name"`
	Prefix      string                  `json:"prefix"`
	External    bool                    `json:"external"`
	Edges       []string                `json:"edges,omitempty"`
	Providers   map[string][]string     `json:"providers,omitempty"`
	Imports     map[string][]ImportView `json:"imports,omitempty"`
	Guards      []string                `json:"guards,omitempty"`
	Controllers []string                `json:"controllers,omitempty"`
	Extensions  map[string]int          `json:"extensions,omitempty"`
}

// ImportView tells where an imported token came from.
type ImportView struct {
	Token  string `json:"token"`
	Module string `json:"module"`
	Multi  bool   `json:"multi,omitempty"`
	Pulled bool   `json:"pulled,omitempty"`
}

// RouteView is a module's mount point.
type RouteView struct {
	Module      string   `json:"module"`
	Prefix      string   `json:"prefix"`
	Guards      []string `json:"guards,omitempty"`
	Controllers []string `json:"controllers,omitempty"`
}

// view renders m, listing providers and imports only for scopes.
func (a *Admin) view(m *app.MetadataPerModule, scopes []provider.Scope) ModuleView {
	v := ModuleView{
		ID:        m.ID,
		Name:      m.Name,
		Prefix:    m.Prefix,
		External:  m.IsExternal,
		Providers: make(map[string][]string),
	}
	if n, ok := a.boot.Registry().Metadata(m.Ref); ok {
		for _, ref := range n.Imports {
			v.Edges = append(v.Edges, provider.Stringify(ref))
		}
	}
	for _, s := range scopes {
		for _, p := range m.Providers[s] {
			v.Providers[s.String()] = append(v.Providers[s.String()], provider.Stringify(p.Token))
		}
		for _, rec := range m.Imports[s] {
			if v.Imports == nil {
				v.Imports = make(map[string][]ImportView)
			}
			v.Imports[s.String()] = append(v.Imports[s.String()], ImportView{
				Token:  provider.Stringify(rec.Token),
				Module: rec.Module,
				Multi:  rec.Multi,
				Pulled: rec.Pulled,
			})
		}
	}
	v.Guards = guardNames(m.Guards)
	v.Controllers = names(m.Controllers)
	for g, values := range m.Extensions {
		if v.Extensions == nil {
			v.Extensions = make(map[string]int)
		}
		v.Extensions[string(g)] = len(values)
	}
	return v
}

func guardNames(gs []module.Guard) []string {
	var out []string
	for _, g := range gs {
		out = append(out, provider.Stringify(g.Token))
	}
	return out
}

func names(vs []any) []string {
	var out []string
	for _, v := range vs {
		out = append(out, provider.Stringify(v))
	}
	return out
}

// ── Read handlers ────────────────────────────────────────────────────────────

func (a *Admin) health(w http.ResponseWriter, r *http.Request) {
	res := NewResponse(w)
	pass := a.boot.PassID()
	if pass == "" {
		res.Error(http.StatusServiceUnavailable, "not bootstrapped")
		return
	}
	res.Success(map[string]any{"status": "ok", "pass": pass})
}

// listModules serves GET /modules. Query filters: scope (providers and
// imports of one scope only), external (true or false), q (substring of the
// id or name) and view (full or summary, which drops providers and imports).
func (a *Admin) listModules(w http.ResponseWriter, r *http.Request) {
	req := gohttp.NewRequest(r)
	res := NewResponse(w)

	filter := map[string]string{
		"scope":    req.Query("scope"),
		"external": req.Query("external"),
		"q":        req.Query("q"),
		"view":     req.Query("view", "full"),
	}
	v := validation.Make(filter, validation.Rules{
		"scope":    "sometimes|scope",
		"external": "sometimes|boolean",
		"q":        "sometimes|min:2|max:200|regex:^[A-Za-z0-9._-]+$",
		"view":     "required|in:full,summary",
	})
	if v.Fails() {
		res.ValidationError(v.Errors())
		return
	}

	scopes := provider.ModuleScopes[:]
	if filter["scope"] != "" {
		s, _ := provider.ParseScope(filter["scope"])
		scopes = []provider.Scope{s}
	}
	if filter["view"] == "summary" {
		scopes = nil
	}
	q := strings.ToLower(filter["q"])

	out := make([]ModuleView, 0)
	for _, m := range a.boot.AllMetadata() {
		if filter["external"] != "" && req.QueryBool("external", false) != m.IsExternal {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(m.Key()), q) && !strings.Contains(strings.ToLower(m.Name), q) {
			continue
		}
		out = append(out, a.view(m, scopes))
	}
	res.Success(out)
}

func (a *Admin) showModule(w http.ResponseWriter, r *http.Request) {
	res := NewResponse(w)
	id := routing.Param(r, "id")
	m, ok := a.boot.Metadata(id)
	if !ok {
		res.NotFound(fmt.Sprintf("module %s not found", id))
		return
	}
	res.Success(a.view(m, provider.ModuleScopes[:]))
}

func (a *Admin) routes(w http.ResponseWriter, r *http.Request) {
	var out []RouteView
	for _, m := range a.boot.AllMetadata() {
		if len(m.Controllers) == 0 {
			continue
		}
		out = append(out, RouteView{
			Module:      m.Key(),
			Prefix:      m.Prefix,
			Guards:      guardNames(m.Guards),
			Controllers: names(m.Controllers),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	NewResponse(w).Success(out)
}

// ── Mutations ────────────────────────────────────────────────────────────────

type importBody struct {
	Module string `json:"module"`
	ID     string `json:"id,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (a *Admin) addImport(w http.ResponseWriter, r *http.Request) {
	req := gohttp.NewRequest(r)
	res := NewResponse(w)

	host, ok := a.boot.Registry().Metadata(req.RouteParam("id"))
	if !ok {
		res.NotFound(fmt.Sprintf("module %s not found", req.RouteParam("id")))
		return
	}
	var body importBody
	if err := req.Bind(&body); err != nil {
		res.Error(http.StatusBadRequest, err.Error())
		return
	}
	v := validation.Make(map[string]string{"module": body.Module, "id": body.ID, "path": body.Path}, validation.Rules{
		"module": "required|name|max:200",
		"id":     "nullable|name|max:200",
		"path":   "nullable|path",
	})
	if v.Fails() {
		res.ValidationError(v.Errors())
		return
	}

	var ref module.Ref = a.ref(body.Module)
	if body.ID != "" || body.Path != "" {
		ref = &module.WithParams{Module: ref, ID: body.ID, Path: body.Path}
	}
	added, err := a.boot.AddImport(ref, host.Ref)
	if err != nil {
		res.Problem(err)
		return
	}
	a.log.Info().
		Str("method", req.Method()).
		Str("path", req.Path()).
		Str("host", host.Name).
		Str("import", provider.Stringify(ref)).
		Bool("added", added).
		Msg("import added")
	if !added {
		res.Success(map[string]any{"added": false})
		return
	}
	if !a.apply(req, res) {
		return
	}
	res.Created(map[string]any{"added": true, "pass": a.boot.PassID()})
}

func (a *Admin) removeImport(w http.ResponseWriter, r *http.Request) {
	req := gohttp.NewRequest(r)
	res := NewResponse(w)

	host, ok := a.boot.Registry().Metadata(req.RouteParam("id"))
	if !ok {
		res.NotFound(fmt.Sprintf("module %s not found", req.RouteParam("id")))
		return
	}
	target, ok := a.boot.Registry().Metadata(req.RouteParam("target"))
	if !ok {
		res.NotFound(fmt.Sprintf("module %s not found", req.RouteParam("target")))
		return
	}
	removed, err := a.boot.RemoveImport(target.Ref, host.Ref)
	if err != nil {
		res.Problem(err)
		return
	}
	a.log.Info().
		Str("method", req.Method()).
		Str("path", req.Path()).
		Str("host", host.Name).
		Str("import", target.Name).
		Bool("removed", removed).
		Msg("import removed")
	if !removed {
		res.Success(map[string]any{"removed": false})
		return
	}
	if !a.apply(req, res) {
		return
	}
	res.Success(map[string]any{"removed": true, "pass": a.boot.PassID()})
}

// apply reinitializes unless the request asked to stage the change. It
// writes the error response itself and reports whether to continue.
func (a *Admin) apply(req *gohttp.Request, res *Response) bool {
	if !req.QueryBool("reinit", true) {
		return true
	}
	if err := a.boot.Reinit(req.Context(), true); err != nil {
		res.Problem(err)
		return false
	}
	return true
}

func (a *Admin) reinit(w http.ResponseWriter, r *http.Request) {
	res := NewResponse(w)
	if err := a.boot.Reinit(r.Context(), true); err != nil {
		res.Problem(err)
		return
	}
	res.Success(map[string]any{"pass": a.boot.PassID(), "modules": len(a.boot.AllMetadata())})
}

func (a *Admin) rollback(w http.ResponseWriter, r *http.Request) {
	_ = a.boot.Rollback(nil)
	NewResponse(w).Success(map[string]any{"rolled_back": true})
}
