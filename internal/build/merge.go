package build

import (
	"github.com/tova-lang/tova/internal/compiler"
	"github.com/tova-lang/tova/internal/errors"
)

// mergePrograms concatenates independently-parsed same-directory programs
// into one synthetic program, in file order. Blocks of the same kind and
// name coalesce into a single block so each named server compiles to one
// artifact. Provenance on every node keeps pointing at its original file.
func mergePrograms(dir string, progs []*compiler.Program) *compiler.Program {
	merged := &compiler.Program{Path: dir}

	// index of a coalesced block by kind+name
	blockAt := map[string]int{}
	blockKey := func(n *compiler.Node) string {
		return n.Kind.String() + "\x00" + n.BlockName
	}

	for _, p := range progs {
		merged.Sources = append(merged.Sources, p.Sources...)
		merged.SourceText = append(merged.SourceText, p.SourceText...)

		for _, n := range p.Nodes {
			switch n.Kind {
			case compiler.KindSharedBlock, compiler.KindServerBlock, compiler.KindClientBlock:
				key := blockKey(n)
				if i, ok := blockAt[key]; ok {
					merged.Nodes[i].Body = append(merged.Nodes[i].Body, n.Body...)
					continue
				}
				// Clone before coalescing: the parsed programs are cached
				// per session and must never see a sibling's body appended
				// into their nodes.
				nn := *n
				nn.Body = append([]*compiler.Node(nil), n.Body...)
				blockAt[key] = len(merged.Nodes)
				merged.Nodes = append(merged.Nodes, &nn)
			default:
				merged.Nodes = append(merged.Nodes, n)
			}
		}
	}
	return merged
}

// namespace tracks first-declaration sites within one logical scope.
type namespace map[string]compiler.Provenance

// validateMerged checks a merged program for duplicate declarations. All
// conflicts are aggregated into one composite error rather than failing
// on the first, and every conflict cites both definition sites.
//
// Scopes: shared declarations have one namespace each for types,
// functions and traits; client declarations one each for components,
// state, derived values, stores and functions; server declarations are
// grouped by block name first (the unnamed block and each named block
// are independent), with per-group namespaces for functions, models and
// METHOD PATH routes, plus singleton policy declarations that may appear
// at most once per group.
func validateMerged(p *compiler.Program) error {
	var errs []error

	record := func(ns namespace, what, name string, prov compiler.Provenance) {
		if first, ok := ns[name]; ok {
			errs = append(errs, errors.New("E201").
				WithMessagef("duplicate %s '%s' declared in %s:%d and %s:%d",
					what, name, first.File, first.Line, prov.File, prov.Line))
			return
		}
		ns[name] = prov
	}

	sharedTypes := namespace{}
	sharedFns := namespace{}
	sharedTraits := namespace{}
	checkShared := func(nodes []*compiler.Node) {
		for _, n := range nodes {
			switch n.Kind {
			case compiler.KindType:
				record(sharedTypes, "type", n.Name, n.Prov)
			case compiler.KindFunc:
				record(sharedFns, "function", n.Name, n.Prov)
			case compiler.KindVar:
				record(sharedFns, "binding", n.Name, n.Prov)
			case compiler.KindTrait:
				record(sharedTraits, "trait", n.Name, n.Prov)
			}
		}
	}

	clientComponents := namespace{}
	clientState := namespace{}
	clientDerived := namespace{}
	clientStores := namespace{}
	clientFns := namespace{}
	checkClient := func(nodes []*compiler.Node) {
		for _, n := range nodes {
			switch n.Kind {
			case compiler.KindComponent:
				record(clientComponents, "component", n.Name, n.Prov)
			case compiler.KindState:
				record(clientState, "state binding", n.Name, n.Prov)
			case compiler.KindDerived:
				record(clientDerived, "derived value", n.Name, n.Prov)
			case compiler.KindStore:
				record(clientStores, "store", n.Name, n.Prov)
			case compiler.KindFunc:
				record(clientFns, "function", n.Name, n.Prov)
			}
		}
	}

	checkServer := func(block *compiler.Node) {
		group := "server"
		if block.BlockName != "" {
			group = "server \"" + block.BlockName + "\""
		}
		fns := namespace{}
		models := namespace{}
		routes := namespace{}
		singletons := namespace{}

		var walk func(nodes []*compiler.Node, prefix string)
		walk = func(nodes []*compiler.Node, prefix string) {
			for _, n := range nodes {
				switch n.Kind {
				case compiler.KindFunc:
					record(fns, group+" function", n.Name, n.Prov)
				case compiler.KindModel:
					record(models, group+" model", n.Name, n.Prov)
				case compiler.KindRoute:
					record(routes, group+" route", n.Method+" "+joinedRoute(prefix, n.RoutePath), n.Prov)
				case compiler.KindRouteGroup:
					walk(n.Body, joinedRoute(prefix, n.RoutePath))
				case compiler.KindPolicy:
					record(singletons, group+" policy", n.Name, n.Prov)
				}
			}
		}
		walk(block.Body, "")
	}

	checkShared(p.Nodes)
	for _, n := range p.Nodes {
		switch n.Kind {
		case compiler.KindSharedBlock:
			checkShared(n.Body)
		case compiler.KindClientBlock:
			checkClient(n.Body)
		case compiler.KindServerBlock:
			checkServer(n)
		}
	}

	return errors.Aggregate(errors.CategoryMerge,
		"duplicate declarations in merged directory "+p.Path+":", errs)
}

func joinedRoute(prefix, path string) string {
	if prefix == "" {
		return path
	}
	if len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + path
}
