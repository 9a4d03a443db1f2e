// Package provider defines the vocabulary shared by every resolution pass:
// tokens, providers and the four nested lifetime scopes.
//
// # Tokens
//
// A Token is any comparable value. Strings work for simple cases; a *Class
// doubles as its own token, the way a constructor identifies a service.
//
//	var Logger = &provider.Class{Name: "Logger", New: newLogger}
//	var UserRepo = &provider.Class{Name: "UserRepo", Deps: []provider.Token{Logger}, New: newUserRepo}
//
// # Providers
//
//	provider.Of(UserRepo)                          // class token bound to itself
//	provider.UseClass("repo", UserRepo)            // token bound to a class
//	provider.UseValue("dsn", "postgres://...")     // pre-built value
//	provider.UseFactory("clock", clockFactory)     // factory with declared deps
//	provider.UseAlias("users", "repo")             // alias to another token
//	provider.UseValue("hook", fn).AsMulti()        // multi-provider, contributions accumulate
//
// # Scopes
//
// App < Mod < Rou < Req, broad to narrow. A provider declared at scope S is
// visible at S and at every narrower scope of the same module, never the
// reverse. PerScope[T] is the fixed-size container indexed by Scope.
package provider
