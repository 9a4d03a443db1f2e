package container_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/km-arc/modgraph/framework/container"
	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/provider"
)

// ── stubs ─────────────────────────────────────────────────────────────────────

type repo struct{ dsn string }

type service struct{ repo *repo }

var (
	repoClass = &provider.Class{
		Name: "Repo",
		Deps: []provider.Token{"dsn"},
		New: func(args ...any) (any, error) {
			return &repo{dsn: args[0].(string)}, nil
		},
	}
	serviceClass = &provider.Class{
		Name: "Service",
		Deps: []provider.Token{repoClass},
		New: func(args ...any) (any, error) {
			return &service{repo: args[0].(*repo)}, nil
		},
	}
)

func mustNew(t *testing.T, scope provider.Scope, ps []provider.Provider, opts ...container.Option) *container.Injector {
	t.Helper()
	i, err := container.New(scope, ps, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return i
}

// ── Resolution ────────────────────────────────────────────────────────────────

func TestGet_Value(t *testing.T) {
	i := mustNew(t, provider.App, []provider.Provider{provider.UseValue("name", "shop")})

	got, err := i.Get("name")
	if err != nil || got != "shop" {
		t.Errorf("Get(name): got %v, %v; want shop", got, err)
	}
}

func TestGet_ClassWithDependencies(t *testing.T) {
	i := mustNew(t, provider.Mod, []provider.Provider{
		provider.UseValue("dsn", "sqlite://"),
		provider.Of(repoClass),
		provider.Of(serviceClass),
	})

	svc, err := container.Resolve[*service](i, serviceClass)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if svc.repo.dsn != "sqlite://" {
		t.Errorf("dsn: got %q, want %q", svc.repo.dsn, "sqlite://")
	}
}

func TestGet_CachedPerInjector(t *testing.T) {
	calls := 0
	counter := &provider.Factory{Name: "Counter", Fn: func(...any) (any, error) {
		calls++
		return calls, nil
	}}
	app := mustNew(t, provider.App, nil)
	modA, _ := app.Child(provider.Mod, []provider.Provider{provider.UseFactory("n", counter)}, "A")
	modB, _ := app.Child(provider.Mod, []provider.Provider{provider.UseFactory("n", counter)}, "B")

	a1, _ := modA.Get("n")
	a2, _ := modA.Get("n")
	b1, _ := modB.Get("n")
	if a1 != 1 || a2 != 1 || b1 != 2 {
		t.Errorf("got a1=%v a2=%v b1=%v, want 1 1 2", a1, a2, b1)
	}
	if !modA.Resolved("n") {
		t.Error("Resolved(n) should be true after Get")
	}
}

func TestGet_FallsThroughToParent(t *testing.T) {
	app := mustNew(t, provider.App, []provider.Provider{provider.UseValue("dsn", "pg://")})
	mod, err := app.Child(provider.Mod, []provider.Provider{provider.Of(repoClass)}, "Users")
	if err != nil {
		t.Fatal(err)
	}
	req, err := mod.Child(provider.Req, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	r, err := container.Resolve[*repo](req, repoClass)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.dsn != "pg://" {
		t.Errorf("dsn: got %q", r.dsn)
	}
	if req.Name() != "Users" {
		t.Errorf("child name: got %q, want inherited %q", req.Name(), "Users")
	}
}

func TestGet_BroaderNeverSeesNarrower(t *testing.T) {
	mod := mustNew(t, provider.Mod, []provider.Provider{provider.Of(repoClass)}, container.WithName("Users"))
	if _, err := mod.Child(provider.Req, []provider.Provider{provider.UseValue("dsn", "req-only")}, ""); err != nil {
		t.Fatal(err)
	}

	_, err := mod.Get(repoClass)
	var np *diag.NoProviderError
	if !errors.As(err, &np) {
		t.Fatalf("want NoProviderError, got %v", err)
	}
	if np.Token != "dsn" || np.Module != "Users" || np.Scope != provider.Mod {
		t.Errorf("unexpected error fields: %+v", np)
	}
	if len(np.Path) != 1 || np.Path[0] != "Repo" {
		t.Errorf("path: got %v, want [Repo]", np.Path)
	}
}

func TestGet_Alias(t *testing.T) {
	i := mustNew(t, provider.App, []provider.Provider{
		provider.UseValue("real", 7),
		provider.UseAlias("alias", "real"),
	})
	v, err := i.Get("alias")
	if err != nil || v != 7 {
		t.Errorf("Get(alias): got %v, %v; want 7", v, err)
	}
}

func TestGet_MultiProviders(t *testing.T) {
	i := mustNew(t, provider.Mod, []provider.Provider{
		provider.UseValue("plugin", "a").AsMulti(),
		provider.UseValue("plugin", "b").AsMulti(),
	})
	got := container.MustResolve[[]any](i, "plugin")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("plugins: got %v, want [a b]", got)
	}
}

func TestGet_LastSingleWins(t *testing.T) {
	i := mustNew(t, provider.Mod, []provider.Provider{
		provider.UseValue("t", "first"),
		provider.UseValue("t", "second"),
	})
	if v, _ := i.Get("t"); v != "second" {
		t.Errorf("got %v, want second", v)
	}
}

func TestGet_Cycle(t *testing.T) {
	a := &provider.Class{Name: "A", Deps: []provider.Token{"B"}, New: func(...any) (any, error) { return "a", nil }}
	b := &provider.Class{Name: "B", Deps: []provider.Token{"A"}, New: func(...any) (any, error) { return "b", nil }}
	i := mustNew(t, provider.Mod, []provider.Provider{provider.UseClass("A", a), provider.UseClass("B", b)}, container.WithName("M"))

	_, err := i.Get("A")
	var ce *diag.CircularDependencyError
	if !errors.As(err, &ce) {
		t.Fatalf("want CircularDependencyError, got %v", err)
	}
	if got := strings.Join(ce.Cycle, " -> "); got != "A -> B -> A" {
		t.Errorf("cycle: got %q", got)
	}
}

func TestGet_ConstructorError(t *testing.T) {
	boom := errors.New("boom")
	bad := &provider.Class{Name: "Bad", New: func(...any) (any, error) { return nil, boom }}
	i := mustNew(t, provider.App, []provider.Provider{provider.Of(bad)})

	if _, err := i.Get(bad); !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped boom", err)
	}
}

// ── Construction ──────────────────────────────────────────────────────────────

func TestNew_RejectsBroaderChild(t *testing.T) {
	req := mustNew(t, provider.Req, nil)
	if _, err := req.Child(provider.Mod, nil, ""); err == nil {
		t.Error("a Mod injector under a Req injector should be rejected")
	}
}

func TestNew_RejectsMixedMulti(t *testing.T) {
	_, err := container.New(provider.Mod, []provider.Provider{
		provider.UseValue("t", 1).AsMulti(),
		provider.UseValue("t", 2),
	})
	if err == nil {
		t.Error("mixing multi and single bindings should fail")
	}
}

func TestInstance_SelfAndOverride(t *testing.T) {
	i := mustNew(t, provider.Req, []provider.Provider{provider.UseValue("Request", "placeholder")})
	i.Instance("Request", "live")

	if v, _ := i.Get("Request"); v != "live" {
		t.Errorf("Request: got %v, want live", v)
	}
	if self, _ := i.Get(container.Token); self != i {
		t.Error("injector should resolve itself")
	}
	if !i.Has("Request") || i.Has("missing") {
		t.Error("Has reported the wrong bindings")
	}
}

func TestResolve_TypeMismatch(t *testing.T) {
	i := mustNew(t, provider.App, []provider.Provider{provider.UseValue("n", 1)})
	if _, err := container.Resolve[string](i, "n"); err == nil {
		t.Error("Resolve[string] on an int should fail")
	}
	defer func() {
		if recover() == nil {
			t.Error("MustResolve should panic on a missing token")
		}
	}()
	container.MustResolve[string](i, "missing")
}
