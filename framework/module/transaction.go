package module

import (
	"errors"
	"fmt"
	"strings"

	"github.com/km-arc/modgraph/framework/diag"
	"github.com/km-arc/modgraph/framework/provider"
)

// ErrModuleNotFound is returned when an id or ref names no graph node.
var ErrModuleNotFound = errors.New("module not found")

// transaction records the pre-transaction state of every node it touched.
// A nil shadow entry marks a node created inside the transaction.
type transaction struct {
	shadow map[Ref]*Node
	order  []Ref
	ids    map[string]Ref
	root   Ref
}

// StartTransaction opens a mutation session. It is a no-op while one is
// already open.
func (r *Registry) StartTransaction() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTx()
}

func (r *Registry) startTx() {
	if r.tx != nil {
		return
	}
	ids := make(map[string]Ref, len(r.graph.ids))
	for id, ref := range r.graph.ids {
		ids[id] = ref
	}
	r.tx = &transaction{
		shadow: make(map[Ref]*Node),
		order:  append([]Ref(nil), r.graph.order...),
		ids:    ids,
		root:   r.graph.root,
	}
	r.log.Debug().Msg("module transaction started")
}

// touch saves ref's current state the first time the open transaction
// changes it.
func (r *Registry) touch(ref Ref) {
	if r.tx == nil {
		return
	}
	if _, saved := r.tx.shadow[ref]; saved {
		return
	}
	if n, ok := r.graph.nodes[ref]; ok {
		r.tx.shadow[ref] = n.Clone()
		return
	}
	r.tx.shadow[ref] = nil
}

// InTransaction reports whether a mutation session is open.
func (r *Registry) InTransaction() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tx != nil
}

// Commit keeps every mutation made since StartTransaction.
func (r *Registry) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return
	}
	r.log.Debug().Int("touched", len(r.tx.shadow)).Msg("module transaction committed")
	r.tx = nil
}

// Rollback restores the graph as it was at StartTransaction and returns err
// unchanged, so callers can write `return reg.Rollback(err)`.
func (r *Registry) Rollback(err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollback(err)
}

func (r *Registry) rollback(err error) error {
	if r.tx == nil {
		return err
	}
	for ref, saved := range r.tx.shadow {
		if saved == nil {
			delete(r.graph.nodes, ref)
			continue
		}
		r.graph.nodes[ref] = saved
	}
	r.graph.order = r.tx.order
	r.graph.ids = r.tx.ids
	r.graph.root = r.tx.root
	r.log.Debug().Int("restored", len(r.tx.shadow)).Err(err).Msg("module transaction rolled back")
	r.tx = nil
	return err
}

// ── Mutations ────────────────────────────────────────────────────────────────

// AddImport appends imp to the imports of host (the root when host is nil)
// and scans whatever imp brings into the graph. It reports false when host
// already imports imp. A failed scan rolls the whole transaction back.
func (r *Registry) AddImport(imp Ref, host any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hostNode, ok := r.graph.Lookup(host)
	if !ok {
		return false, fmt.Errorf("add import into %s: %w", provider.Stringify(host), ErrModuleNotFound)
	}
	if imp == nil || !provider.Comparable(imp) {
		return false, diag.Declarationf(hostNode.Name, "cannot import %s; it is probably an unresolved forward reference", provider.Stringify(imp))
	}
	for _, ref := range hostNode.Imports {
		if ref == imp {
			return false, nil
		}
	}

	r.startTx()
	r.touch(hostNode.Ref)
	hostNode.Imports = append(cloneSlice(hostNode.Imports), imp)

	s := &scanner{reg: r, graph: r.graph, inProgress: map[Ref]bool{}, beforeInsert: r.touch}
	if err := s.scan(imp); err != nil {
		return false, r.rollback(err)
	}
	if path := r.graph.pathTo(imp, hostNode.Ref); path != nil {
		cycle := strings.Join(append([]string{hostNode.Name}, path...), " -> ")
		if !r.allowCycles {
			return false, r.rollback(diag.Declarationf(hostNode.Name, "cyclic import %s", cycle))
		}
		r.log.Debug().Str("cycle", cycle).Msg("cyclic import allowed")
	}
	r.log.Debug().Str("host", hostNode.Name).Str("import", provider.Stringify(imp)).Msg("import added")
	return true, nil
}

// RemoveImport drops imp (or a module-with-params mount of it) from host's
// imports, stops re-exporting it and prunes modules no longer reachable from
// the root. It reports false when host does not import imp.
func (r *Registry) RemoveImport(imp Ref, host any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hostNode, ok := r.graph.Lookup(host)
	if !ok {
		return false, fmt.Errorf("remove import from %s: %w", provider.Stringify(host), ErrModuleNotFound)
	}
	if !provider.Comparable(imp) {
		return false, nil
	}
	idx := -1
	for i, ref := range hostNode.Imports {
		if ref == imp {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, ref := range hostNode.Imports {
			if wp, ok := ref.(*WithParams); ok && wp.Module == imp {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		return false, nil
	}

	r.startTx()
	r.touch(hostNode.Ref)
	removed := hostNode.Imports[idx]
	hostNode.Imports = append(cloneSlice(hostNode.Imports[:idx]), hostNode.Imports[idx+1:]...)
	var exported []Ref
	for _, ref := range hostNode.ExportedModules {
		if ref != removed {
			exported = append(exported, ref)
		}
	}
	hostNode.ExportedModules = exported
	pruned := r.prune()
	r.log.Debug().Str("host", hostNode.Name).Str("import", provider.Stringify(imp)).Int("pruned", pruned).Msg("import removed")
	return true, nil
}

// prune deletes nodes unreachable from the root.
func (r *Registry) prune() int {
	g := r.graph
	reach := g.reachable()
	order := make([]Ref, 0, len(g.order))
	pruned := 0
	for _, ref := range g.order {
		if reach[ref] {
			order = append(order, ref)
			continue
		}
		r.touch(ref)
		if id := g.nodes[ref].ID; id != "" {
			delete(g.ids, id)
		}
		delete(g.nodes, ref)
		pruned++
	}
	g.order = order
	return pruned
}
