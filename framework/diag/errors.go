// Package diag holds the typed errors produced while resolving a module graph.
//
// Every error aborts the whole bootstrap pass. Messages embed module names and
// token display names so the failure can be fixed from the message alone.
package diag

import (
	"fmt"
	"strings"

	"github.com/km-arc/modgraph/framework/provider"
)

// DeclarationError reports missing or malformed module metadata.
type DeclarationError struct {
	Module string
	Reason string
}

func (e *DeclarationError) Error() string {
	if e.Module == "" {
		return "invalid module declaration: " + e.Reason
	}
	return fmt.Sprintf("invalid declaration of module %q: %s", e.Module, e.Reason)
}

// Declarationf builds a DeclarationError for module.
func Declarationf(module, format string, args ...any) *DeclarationError {
	return &DeclarationError{Module: module, Reason: fmt.Sprintf(format, args...)}
}

// CollisionError reports two modules exporting different implementations of
// one token into the same scope of Host.
type CollisionError struct {
	Host    string
	Scope   provider.Scope
	Token   string
	Modules []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf(
		"importing providers to %q failed: exports from %s cause collision with %s at scope %s; "+
			"add %s to resolvedCollisionsPer%s in %q to pick a winner",
		e.Host, quoteJoin(e.Modules), e.Token, e.Scope, e.Token, e.Scope, e.Host,
	)
}

// UnresolvedCollisionDirectiveError reports a resolution directive naming a
// module that does not export the token.
type UnresolvedCollisionDirectiveError struct {
	Host   string
	Scope  provider.Scope
	Token  string
	Module string
}

func (e *UnresolvedCollisionDirectiveError) Error() string {
	return fmt.Sprintf(
		"resolving collision for %s in %q failed: module %q does not export %s at scope %s",
		e.Token, e.Host, e.Module, e.Token, e.Scope,
	)
}

// MultiProviderMisuseError reports a resolution directive naming a
// multi-provider token. Multi contributions are always retained.
type MultiProviderMisuseError struct {
	Host  string
	Scope provider.Scope
	Token string
}

func (e *MultiProviderMisuseError) Error() string {
	return fmt.Sprintf(
		"resolving collision for %s in %q failed: %s is a multi-provider and cannot be pinned (scope %s)",
		e.Token, e.Host, e.Token, e.Scope,
	)
}

// CircularDependencyError reports a cycle in the provider dependency graph.
// Cycle starts and ends with the same token; Prefix is the path that led to
// the cycle, if any.
type CircularDependencyError struct {
	Module string
	Prefix []string
	Cycle  []string
}

func (e *CircularDependencyError) Error() string {
	path := strings.Join(e.Cycle, " -> ")
	if len(e.Prefix) > 0 {
		path = strings.Join(e.Prefix, " -> ") + " -> [" + path + "]"
	}
	if e.Module == "" {
		return "detected circular dependencies: " + path
	}
	return fmt.Sprintf("detected circular dependencies in %q: %s", e.Module, path)
}

// NoProviderError reports a dependency that no reachable scope provides.
type NoProviderError struct {
	Module string
	Scope  provider.Scope
	Token  string
	Path   []string
}

func (e *NoProviderError) Error() string {
	msg := fmt.Sprintf("no provider for %s in %q at scope %s", e.Token, e.Module, e.Scope)
	if len(e.Path) > 0 {
		msg += " (required by " + strings.Join(e.Path, " -> ") + ")"
	}
	return msg
}

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	switch len(quoted) {
	case 0:
		return ""
	case 1:
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " and " + quoted[len(quoted)-1]
}
