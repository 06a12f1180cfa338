package build

import "sort"

// DepGraph records module-level import edges in both directions. Forward
// edges answer "what does X import", reverse edges answer "who depends on
// X" for invalidation.
type DepGraph struct {
	forward map[string]map[string]bool
	reverse map[string]map[string]bool
}

// NewDepGraph creates an empty graph.
func NewDepGraph() *DepGraph {
	return &DepGraph{
		forward: make(map[string]map[string]bool),
		reverse: make(map[string]map[string]bool),
	}
}

// Track records that importer imports imported.
func (g *DepGraph) Track(importer, imported string) {
	if g.forward[importer] == nil {
		g.forward[importer] = make(map[string]bool)
	}
	g.forward[importer][imported] = true

	if g.reverse[imported] == nil {
		g.reverse[imported] = make(map[string]bool)
	}
	g.reverse[imported][importer] = true
}

// Imports returns the modules path imports directly, sorted.
func (g *DepGraph) Imports(path string) []string {
	return sortedKeys(g.forward[path])
}

// Dependents returns the modules that import path directly, sorted.
func (g *DepGraph) Dependents(path string) []string {
	return sortedKeys(g.reverse[path])
}

// Invalidate walks the reverse edges from changed and returns every
// transitively-dependent module, changed itself included. The result is
// sorted for deterministic processing.
func (g *DepGraph) Invalidate(changed string) []string {
	seen := map[string]bool{changed: true}
	queue := []string{changed}
	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		for importer := range g.reverse[path] {
			if !seen[importer] {
				seen[importer] = true
				queue = append(queue, importer)
			}
		}
	}
	return sortedKeys(seen)
}

// DropForward removes path's outgoing edges and their reverse
// counterparts. Called before recompiling path, which re-records its
// imports from scratch.
func (g *DepGraph) DropForward(path string) {
	for imported := range g.forward[path] {
		delete(g.reverse[imported], path)
		if len(g.reverse[imported]) == 0 {
			delete(g.reverse, imported)
		}
	}
	delete(g.forward, path)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
