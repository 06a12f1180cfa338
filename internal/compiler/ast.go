package compiler

// Provenance records where a node came from. Merged programs carry nodes
// from several files, so diagnostics and source maps need both parts.
type Provenance struct {
	File string
	Line int
}

// NodeKind identifies a top-level or block-level statement.
type NodeKind int

const (
	KindImport NodeKind = iota
	KindFunc
	KindVar
	KindType
	KindTrait
	KindAlias
	KindSharedBlock
	KindServerBlock
	KindClientBlock
	KindTestBlock
	KindBenchBlock
	KindComponent
	KindState
	KindDerived
	KindStore
	KindModel
	KindRoute
	KindRouteGroup
	KindPolicy
	KindDiscover
)

func (k NodeKind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindFunc:
		return "function"
	case KindVar:
		return "variable"
	case KindType:
		return "type"
	case KindTrait:
		return "trait"
	case KindAlias:
		return "alias"
	case KindSharedBlock:
		return "shared block"
	case KindServerBlock:
		return "server block"
	case KindClientBlock:
		return "client block"
	case KindTestBlock:
		return "test block"
	case KindBenchBlock:
		return "bench block"
	case KindComponent:
		return "component"
	case KindState:
		return "state"
	case KindDerived:
		return "derived"
	case KindStore:
		return "store"
	case KindModel:
		return "model"
	case KindRoute:
		return "route"
	case KindRouteGroup:
		return "route group"
	case KindPolicy:
		return "policy"
	case KindDiscover:
		return "discover"
	}
	return "statement"
}

// SourceLine is one raw line of a statement body, kept verbatim for
// passthrough code generation.
type SourceLine struct {
	Text string
	Line int
}

// Variant is one constructor of a composite type declaration.
type Variant struct {
	Name   string
	Params string
}

// Node is a parsed statement. Which fields are meaningful depends on Kind.
type Node struct {
	Kind   NodeKind
	Name   string
	Public bool

	// Params holds a function/component parameter list, verbatim.
	Params string

	// Expr holds the right-hand side of let/state/derived/alias, verbatim.
	Expr string

	// Variants holds composite type constructors.
	Variants []Variant

	// ImportNames and Target describe an import; Rewritten is the emitted
	// JS specifier, filled in by the build layer after resolution. Elided
	// marks a same-directory import dropped during a merge.
	ImportNames []string
	Target      string
	Rewritten   string
	Elided      bool

	// BlockName is a server/client block name ("" for the default block).
	BlockName string

	// Method and RoutePath describe a route; RouteGroup children nest in
	// Body.
	Method    string
	RoutePath string

	// Body holds the children of block nodes and route groups.
	Body []*Node

	// Lines holds raw body lines for passthrough statements.
	Lines []SourceLine

	Prov Provenance
}

// Program is the parsed form of one source module, or of a merged
// directory unit.
type Program struct {
	// Path is the source path, or the directory path for merged units.
	Path string

	// Sources lists contributing files in merge order. A single-file
	// program lists just its own path.
	Sources []string

	// SourceText mirrors Sources with each file's raw text.
	SourceText []string

	Nodes []*Node
}

// ModuleKind distinguishes library modules (no top-level blocks, one .js
// artifact) from application modules (shared/server/client artifacts).
type ModuleKind int

const (
	ModuleLibrary ModuleKind = iota
	ModuleApplication
)

func (k ModuleKind) String() string {
	if k == ModuleApplication {
		return "application"
	}
	return "library"
}

// Kind classifies the program from its AST. Classification is purely
// syntactic: any top-level block makes the module an application.
func (p *Program) Kind() ModuleKind {
	for _, n := range p.Nodes {
		switch n.Kind {
		case KindSharedBlock, KindServerBlock, KindClientBlock, KindTestBlock, KindBenchBlock:
			return ModuleApplication
		}
	}
	return ModuleLibrary
}

// ServerBlocks returns the program's server blocks in declaration order.
func (p *Program) ServerBlocks() []*Node {
	var blocks []*Node
	for _, n := range p.Nodes {
		if n.Kind == KindServerBlock {
			blocks = append(blocks, n)
		}
	}
	return blocks
}

// ClientBlocks returns the program's client blocks in declaration order.
func (p *Program) ClientBlocks() []*Node {
	var blocks []*Node
	for _, n := range p.Nodes {
		if n.Kind == KindClientBlock {
			blocks = append(blocks, n)
		}
	}
	return blocks
}
