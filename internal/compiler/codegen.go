package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// GenOptions configures one generation pass.
type GenOptions struct {
	// UnitName is the artifact base name, used for sibling imports
	// (client and server files import "./<unit>.shared.js").
	UnitName string

	// RuntimePrefix locates the emitted runtime directory relative to the
	// artifact, e.g. "./runtime/" or "../runtime/".
	RuntimePrefix string

	// Ports maps block names ("" for the default block) to their assigned
	// ports, baked into the emitted fallback when no env var is set.
	Ports map[string]int

	// SourceIndex resolves a file path to its position in the unit's
	// sources list. Nil means a single-source unit (index 0).
	SourceIndex func(file string) int
}

// Mapping is one source-map position tuple. All fields are zero-based.
type Mapping struct {
	SrcLine  int
	SrcCol   int
	OutLine  int
	OutCol   int
	SrcIndex int
}

// Output is the compiler's result for one unit.
type Output struct {
	// Shared, Server and Client hold the default artifacts of an
	// application unit. A library unit uses only Shared.
	Shared string
	Server string
	Client string

	// Servers and Clients hold the code of named blocks.
	Servers map[string]string
	Clients map[string]string

	// Mappings holds position tuples per artifact key: "main", "shared",
	// "server", "client", "server:<name>", "client:<name>".
	Mappings map[string][]Mapping

	// IsModule reports whether the emitted code uses ES module syntax.
	IsModule bool
}

// PortEnvVar returns the environment variable carrying a block's port.
// The unnamed block reads the generic variable only.
func PortEnvVar(blockName string) string {
	if blockName == "" {
		return "TOVA_PORT"
	}
	var b strings.Builder
	b.WriteString("TOVA_")
	for _, r := range strings.ToUpper(blockName) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_PORT")
	return b.String()
}

// Generate lowers a parsed program to JavaScript artifacts.
func Generate(p *Program, opts GenOptions) (*Output, error) {
	if opts.RuntimePrefix == "" {
		opts.RuntimePrefix = "./runtime/"
	}
	if opts.SourceIndex == nil {
		opts.SourceIndex = func(string) int { return 0 }
	}

	out := &Output{
		Servers:  map[string]string{},
		Clients:  map[string]string{},
		Mappings: map[string][]Mapping{},
		IsModule: true,
	}

	if p.Kind() == ModuleLibrary {
		e := newEmitter(opts.SourceIndex)
		e.raw("// Generated by tova. Do not edit.")
		for _, n := range p.Nodes {
			emitDecl(e, n)
		}
		out.Shared = e.String()
		out.Mappings["main"] = e.maps
		return out, nil
	}

	// Shared artifact: the bodies of all shared blocks.
	var sharedNodes []*Node
	for _, n := range p.Nodes {
		if n.Kind == KindImport {
			sharedNodes = append(sharedNodes, n)
		}
		if n.Kind == KindSharedBlock {
			sharedNodes = append(sharedNodes, n.Body...)
		}
	}
	if len(sharedNodes) > 0 {
		e := newEmitter(opts.SourceIndex)
		e.raw("// Generated by tova. Do not edit.")
		for _, n := range sharedNodes {
			emitDecl(e, n)
		}
		out.Shared = e.String()
		out.Mappings["shared"] = e.maps
	}

	defaultServerFns := serverFunctionNames(p, "")

	for _, block := range p.ServerBlocks() {
		e := newEmitter(opts.SourceIndex)
		genServerBlock(e, block, opts, len(sharedNodes) > 0)
		if block.BlockName == "" {
			out.Server = e.String()
			out.Mappings["server"] = e.maps
		} else {
			out.Servers[block.BlockName] = e.String()
			out.Mappings["server:"+block.BlockName] = e.maps
		}
	}

	for _, block := range p.ClientBlocks() {
		e := newEmitter(opts.SourceIndex)
		genClientBlock(e, block, opts, defaultServerFns, len(sharedNodes) > 0)
		if block.BlockName == "" {
			out.Client = e.String()
			out.Mappings["client"] = e.maps
		} else {
			out.Clients[block.BlockName] = e.String()
			out.Mappings["client:"+block.BlockName] = e.maps
		}
	}

	return out, nil
}

// serverFunctionNames lists the function names of a server block, sorted
// for deterministic output.
func serverFunctionNames(p *Program, blockName string) []string {
	var names []string
	for _, block := range p.ServerBlocks() {
		if block.BlockName != blockName {
			continue
		}
		for _, n := range block.Body {
			if n.Kind == KindFunc {
				names = append(names, n.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func genServerBlock(e *emitter, block *Node, opts GenOptions, hasShared bool) {
	label := block.BlockName
	if label == "" {
		label = "default"
	}

	e.raw("// Generated by tova. Do not edit.")
	e.raw(fmt.Sprintf(`import { serveBlock, defineModel, remote } from "%sserver.js";`, opts.RuntimePrefix))
	if hasShared {
		e.raw(fmt.Sprintf(`import * as shared from "./%s.shared.js";`, opts.UnitName))
	}
	e.raw("const routes = [];")
	e.raw("const policies = {};")
	e.blank()

	var rpcNames []string
	var emitServerNode func(n *Node, prefix string)
	emitServerNode = func(n *Node, prefix string) {
		switch n.Kind {
		case KindFunc:
			rpcNames = append(rpcNames, n.Name)
			e.emit(fmt.Sprintf("async function %s(%s) {", n.Name, n.Params), n.Prov)
			e.emitLines(n)
			e.raw("}")
		case KindVar:
			e.emit(fmt.Sprintf("let %s = %s;", n.Name, n.Expr), n.Prov)
		case KindModel:
			e.emit(fmt.Sprintf(`const %s = defineModel("%s", {`, n.Name, n.Name), n.Prov)
			e.emitLines(n)
			e.raw("});")
		case KindPolicy:
			e.emit(fmt.Sprintf("policies.%s = {", n.Name), n.Prov)
			e.emitLines(n)
			e.raw("};")
		case KindRoute:
			e.emit(fmt.Sprintf(`routes.push(["%s", "%s", async (req) => {`, n.Method, joinRoute(prefix, n.RoutePath)), n.Prov)
			e.emitLines(n)
			e.raw("}]);")
		case KindRouteGroup:
			for _, child := range n.Body {
				emitServerNode(child, joinRoute(prefix, n.RoutePath))
			}
		case KindDiscover:
			e.emit(fmt.Sprintf(`const %s = remote("%s");`, n.Name, n.Target), n.Prov)
		}
	}
	for _, n := range block.Body {
		emitServerNode(n, "")
	}

	sort.Strings(rpcNames)
	e.blank()
	e.raw("serveBlock({")
	e.raw(fmt.Sprintf("  name: %q,", label))
	e.raw(fmt.Sprintf("  port: %s,", portExpr(block.BlockName, opts.Ports)))
	e.raw(fmt.Sprintf("  rpc: { %s },", strings.Join(rpcNames, ", ")))
	e.raw("  routes,")
	e.raw("  policies,")
	e.raw("});")
}

func genClientBlock(e *emitter, block *Node, opts GenOptions, serverFns []string, hasShared bool) {
	e.raw("// Generated by tova. Do not edit.")
	e.raw(fmt.Sprintf(`import { signal, derived, store, component } from "%sreactive.js";`, opts.RuntimePrefix))
	e.raw(fmt.Sprintf(`import { rpc, remote } from "%srpc.js";`, opts.RuntimePrefix))
	if hasShared {
		e.raw(fmt.Sprintf(`import * as shared from "./%s.shared.js";`, opts.UnitName))
	}
	e.blank()

	local := map[string]bool{}
	for _, n := range block.Body {
		if n.Name != "" {
			local[n.Name] = true
		}
	}

	for _, n := range block.Body {
		switch n.Kind {
		case KindState:
			e.emit(fmt.Sprintf("const %s = signal(%s);", n.Name, n.Expr), n.Prov)
		case KindDerived:
			e.emit(fmt.Sprintf("const %s = derived(() => (%s));", n.Name, n.Expr), n.Prov)
		case KindStore:
			e.emit(fmt.Sprintf("const %s = store({", n.Name), n.Prov)
			e.emitLines(n)
			e.raw("});")
		case KindComponent:
			e.emit(fmt.Sprintf("function %s(%s) {", n.Name, n.Params), n.Prov)
			e.emitLines(n)
			e.raw("}")
			e.raw(fmt.Sprintf("component(%q, %s);", n.Name, n.Name))
		case KindFunc:
			e.emit(fmt.Sprintf("function %s(%s) {", n.Name, n.Params), n.Prov)
			e.emitLines(n)
			e.raw("}")
		case KindVar:
			e.emit(fmt.Sprintf("let %s = %s;", n.Name, n.Expr), n.Prov)
		case KindDiscover:
			e.emit(fmt.Sprintf(`const %s = remote("%s");`, n.Name, n.Target), n.Prov)
		}
	}

	// Remote procedure stubs for the default server block's functions.
	var stubs []string
	for _, name := range serverFns {
		if !local[name] {
			stubs = append(stubs, name)
		}
	}
	if len(stubs) > 0 {
		e.blank()
		for _, name := range stubs {
			e.raw(fmt.Sprintf("async function %s(...args) { return rpc(%q, args); }", name, name))
		}
	}
}

// emitDecl lowers a shared-scope declaration (library modules and shared
// block bodies use the same forms).
func emitDecl(e *emitter, n *Node) {
	exp := ""
	if n.Public {
		exp = "export "
	}
	switch n.Kind {
	case KindImport:
		if n.Elided {
			return
		}
		spec := n.Rewritten
		if spec == "" {
			spec = n.Target
		}
		e.emit(fmt.Sprintf(`import { %s } from "%s";`, strings.Join(n.ImportNames, ", "), spec), n.Prov)
	case KindFunc:
		e.emit(fmt.Sprintf("%sfunction %s(%s) {", exp, n.Name, n.Params), n.Prov)
		e.emitLines(n)
		e.raw("}")
	case KindVar:
		e.emit(fmt.Sprintf("%slet %s = %s;", exp, n.Name, n.Expr), n.Prov)
	case KindType:
		for _, v := range n.Variants {
			if v.Params != "" {
				e.emit(fmt.Sprintf(`%sfunction %s(...values) { return { $type: %q, $tag: %q, values }; }`,
					exp, v.Name, n.Name, v.Name), n.Prov)
			} else {
				e.emit(fmt.Sprintf(`%sconst %s = { $type: %q, $tag: %q, values: [] };`,
					exp, v.Name, n.Name, v.Name), n.Prov)
			}
		}
	case KindTrait:
		e.emit(fmt.Sprintf("%sconst %s = Object.freeze({ $trait: %q });", exp, n.Name, n.Name), n.Prov)
	case KindAlias:
		// Type-level only; nothing at runtime.
	}
}

func portExpr(blockName string, ports map[string]int) string {
	assigned := ports[blockName]
	if blockName == "" {
		return fmt.Sprintf("Number(process.env.TOVA_PORT || %d)", assigned)
	}
	return fmt.Sprintf("Number(process.env.%s || process.env.TOVA_PORT || %d)",
		PortEnvVar(blockName), assigned)
}

func joinRoute(prefix, path string) string {
	if prefix == "" {
		return path
	}
	return strings.TrimSuffix(prefix, "/") + path
}

// emitter accumulates output lines and their source mappings.
type emitter struct {
	lines    []string
	maps     []Mapping
	srcIndex func(string) int
}

func newEmitter(srcIndex func(string) int) *emitter {
	return &emitter{srcIndex: srcIndex}
}

// emit writes a line that originates at prov and records a mapping.
func (e *emitter) emit(text string, prov Provenance) {
	if prov.Line > 0 {
		e.maps = append(e.maps, Mapping{
			SrcLine:  prov.Line - 1,
			OutLine:  len(e.lines),
			SrcIndex: e.srcIndex(prov.File),
		})
	}
	e.lines = append(e.lines, text)
}

// emitLines writes a node's raw body, one mapping per line.
func (e *emitter) emitLines(n *Node) {
	for _, sl := range n.Lines {
		e.emit(sl.Text, Provenance{File: n.Prov.File, Line: sl.Line})
	}
}

// raw writes a line with no source mapping.
func (e *emitter) raw(text string) {
	e.lines = append(e.lines, text)
}

func (e *emitter) blank() {
	e.lines = append(e.lines, "")
}

func (e *emitter) String() string {
	return strings.Join(e.lines, "\n") + "\n"
}
