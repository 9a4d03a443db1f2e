// Package container materializes resolved providers into a hierarchy of
// scoped injectors.
//
// # Overview
//
// One injector exists per scope instance: an application injector, one
// module injector per module, route injectors below those and a request
// injector per request. A lookup that misses walks up the parent chain, so
// a provider visible at a scope is visible at every narrower scope and
// never the reverse.
//
// # Building
//
//	app, err := container.New(provider.App, []provider.Provider{
//	    provider.UseValue("config", cfg),
//	    provider.Of(Clock),
//	})
//	mod, err := app.Child(provider.Mod, modProviders, "UsersModule")
//	req, err := mod.Child(provider.Req, reqProviders, "")
//	req.Instance("Request", r)
//
// # Resolving
//
//	raw, err := req.Get("UserService")
//	svc, err := container.Resolve[*UserService](req, "UserService")
//	plugins := container.MustResolve[[]any](mod, "Plugin") // multi-provider
//
// Class and factory providers receive their declared dependencies, resolved
// from the injector that owns the binding. Resolved values are cached per
// injector. Dependency cycles fail with *diag.CircularDependencyError and
// missing tokens with *diag.NoProviderError.
package container
