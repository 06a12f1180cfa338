package build

import (
	"strings"

	"github.com/tova-lang/tova/internal/compiler"
	"github.com/tova-lang/tova/internal/errors"
)

// ExportTable records the names a module declares and the subset it makes
// public. Rebuilt whenever the module recompiles.
type ExportTable struct {
	All    map[string]bool
	Public map[string]bool
}

// CollectExports walks a program's top-level statements, including the
// bodies of shared, server and client blocks, and records every declared
// name. Composite types contribute their variant constructors as well as
// the type name itself.
func CollectExports(p *compiler.Program) *ExportTable {
	t := &ExportTable{
		All:    make(map[string]bool),
		Public: make(map[string]bool),
	}
	collectNodes(t, p.Nodes)
	return t
}

func collectNodes(t *ExportTable, nodes []*compiler.Node) {
	for _, n := range nodes {
		switch n.Kind {
		case compiler.KindFunc, compiler.KindVar, compiler.KindTrait, compiler.KindAlias,
			compiler.KindComponent, compiler.KindState, compiler.KindDerived,
			compiler.KindStore, compiler.KindModel:
			t.declare(n.Name, n.Public)
		case compiler.KindType:
			t.declare(n.Name, n.Public)
			for _, v := range n.Variants {
				t.declare(v.Name, n.Public)
			}
		case compiler.KindSharedBlock, compiler.KindServerBlock, compiler.KindClientBlock:
			collectNodes(t, n.Body)
		}
	}
}

func (t *ExportTable) declare(name string, public bool) {
	if name == "" {
		return
	}
	t.All[name] = true
	if public {
		t.Public[name] = true
	}
}

// validateImport checks each imported identifier against the target
// module's export table. Errors carry the importing file's location.
func validateImport(imp *compiler.Node, targetPath string, table *ExportTable) error {
	var errs []error
	for _, name := range imp.ImportNames {
		switch {
		case !table.All[name]:
			errs = append(errs, errors.New("E101").
				WithMessagef("module '%s' does not export '%s'", modName(targetPath), name).
				WithLocation(imp.Prov.File, imp.Prov.Line, 0))
		case !table.Public[name]:
			errs = append(errs, errors.New("E102").
				WithMessagef("'%s' is private; mark it 'pub' in %s to export it", name, modName(targetPath)).
				WithLocation(imp.Prov.File, imp.Prov.Line, 0).
				WithSuggestion("pub fn "+name+"(...) / pub let "+name+" = ..."))
		}
	}
	return errors.Aggregate(errors.CategoryImport, "import errors", errs)
}

// circularImportError builds the full-chain E103 error for a module found
// on the in-progress compile stack.
func circularImportError(stack []string, repeated string) error {
	start := 0
	for i, p := range stack {
		if p == repeated {
			start = i
			break
		}
	}
	var parts []string
	for _, p := range stack[start:] {
		parts = append(parts, modName(p))
	}
	parts = append(parts, modName(repeated))
	return errors.New("E103").
		WithMessagef("circular import: %s", strings.Join(parts, " -> ")).
		WithSuggestion("Break the cycle by moving the shared declarations into a third module")
}

// modName shortens an absolute module path to its file stem for error
// messages.
func modName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, sourceExt)
}
