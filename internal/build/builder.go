package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tova-lang/tova/internal/compiler"
	"github.com/tova-lang/tova/internal/errors"
	"github.com/tova-lang/tova/internal/runtime"
)

// UnitResult is the outcome of compiling one directory unit.
type UnitResult struct {
	// Name is the artifact base name: the file stem for single-file
	// units, the directory name for merged units.
	Name string

	// Dir is the unit's absolute source directory.
	Dir string

	// Key is the unit's cache key.
	Key string

	// Files lists the unit's source files in merge order.
	Files []string

	// Kind is library or application.
	Kind compiler.ModuleKind

	// Blocks lists the unit's server blocks with their assigned ports.
	Blocks []NamedBlock

	// Outputs lists every artifact written (or reused) for the unit.
	Outputs []string

	// Cached reports that the unit was served from the incremental cache.
	Cached bool

	Duration time.Duration
	Err      error
}

// Result is the outcome of one build pass.
type Result struct {
	Units    []*UnitResult
	Duration time.Duration
}

// Failed counts units that did not build.
func (r *Result) Failed() int {
	n := 0
	for _, u := range r.Units {
		if u.Err != nil {
			n++
		}
	}
	return n
}

// Build compiles every unit under the source root. A failing unit never
// aborts its siblings; inspect Result.Failed for the exit status.
func (s *Session) Build(ctx context.Context) (*Result, error) {
	start := time.Now()

	// Directory membership is re-derived every pass.
	s.units = make(map[string]*UnitResult)

	dirs, err := s.discoverUnits()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	hasApp := false
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := s.compileUnit(ctx, dir)
		result.Units = append(result.Units, u)
		if u.Err == nil && u.Kind == compiler.ModuleApplication {
			hasApp = true
		}
	}
	sort.Slice(result.Units, func(i, j int) bool {
		return result.Units[i].Dir < result.Units[j].Dir
	})

	if hasApp {
		if err := runtime.WriteTo(s.cfg.OutputPath()); err != nil {
			return nil, errors.New("E602").Wrap(err)
		}
	}

	s.pruneCache(dirs)
	if err := s.cache.Save(); err != nil {
		s.logf("warning: %v", errors.New("E302").Wrap(err))
	}

	result.Duration = time.Since(start)
	return result, nil
}

// discoverUnits walks the source root and returns every directory with
// at least one immediate .tova file, sorted. The output directory,
// node_modules and hidden directories are skipped.
func (s *Session) discoverUnits() ([]string, error) {
	root := s.cfg.SrcPath()
	outDir := s.cfg.OutputPath()

	seen := map[string]bool{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == outDir || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), sourceExt) {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, errors.Newf(errors.CategoryCLI, "cannot scan source root %s: %v", root, err)
	}
	return sortedKeys(seen), nil
}

// compileUnit compiles one directory unit, memoized for the current
// pass. Cross-unit imports recurse here, so the first importer to need
// an uncompiled dependency compiles it.
func (s *Session) compileUnit(ctx context.Context, dir string) *UnitResult {
	if u, ok := s.units[dir]; ok {
		return u
	}

	start := time.Now()
	u := &UnitResult{Dir: dir}
	fail := func(err error) *UnitResult {
		u.Err = err
		u.Duration = time.Since(start)
		s.units[dir] = u
		return u
	}

	files, err := listSourceFiles(dir)
	if err != nil || len(files) == 0 {
		return fail(errors.Newf(errors.CategoryCLI, "no sources in %s: %v", dir, err))
	}
	u.Files = files
	if len(files) == 1 {
		u.Name = strings.TrimSuffix(filepath.Base(files[0]), sourceExt)
		u.Key = files[0]
	} else {
		u.Name = filepath.Base(dir)
		u.Key = DirKey(dir)
	}

	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fail(errors.New("E104").WithMessagef("cannot read '%s'", f).Wrap(err))
		}
		contents[f] = data
	}

	if s.isUpToDate(u, contents) {
		if outputs, ok := s.cache.Cached(u.Key); ok {
			u.Outputs = outputs
			u.Kind = kindFromOutputs(u.Name, outputs)
			u.Cached = true
			u.Duration = time.Since(start)
			s.units[dir] = u
			return u
		}
	}

	// Cycle guard for the import-driven recursion below.
	s.stack = append(s.stack, dir)
	defer func() { s.stack = s.stack[:len(s.stack)-1] }()

	var progs []*compiler.Program
	for _, f := range files {
		m, err := s.moduleFor(f, contents[f])
		if err != nil {
			return fail(err)
		}
		progs = append(progs, m.prog)
	}

	var prog *compiler.Program
	if len(progs) == 1 {
		prog = progs[0]
	} else {
		prog = mergePrograms(dir, progs)
		if err := validateMerged(prog); err != nil {
			return fail(err)
		}
	}
	u.Kind = prog.Kind()

	if err := s.resolveImports(ctx, u, progs); err != nil {
		return fail(err)
	}

	diags := compiler.Analyze(prog)
	var analyzeErrs []error
	warnings := 0
	for _, d := range diags {
		if d.Severity == compiler.SeverityError {
			analyzeErrs = append(analyzeErrs, errors.New("E002").
				WithMessagef("%s", d.Message).
				WithLocation(d.Prov.File, d.Prov.Line, 0))
			continue
		}
		warnings++
		s.logf("warning: %s", d.String())
	}
	if err := errors.Aggregate(errors.CategoryCompile, "analysis failed for "+u.Name+":", analyzeErrs); err != nil {
		return fail(err)
	}
	if s.opts.Strict && warnings > 0 {
		return fail(errors.New("E004").
			WithDetail(fmt.Sprintf("%d warning(s) in unit %s", warnings, u.Name)))
	}

	u.Blocks = AssignPorts(blockNames(prog), s.basePort())

	relDir, err := filepath.Rel(s.cfg.SrcPath(), dir)
	if err != nil {
		relDir = "."
	}

	s.compileCount++
	out, err := compiler.Generate(prog, compiler.GenOptions{
		UnitName:      u.Name,
		RuntimePrefix: runtimePrefix(relDir),
		Ports:         PortMap(u.Blocks),
		SourceIndex:   sourceIndexer(prog.Sources),
	})
	if err != nil {
		return fail(errors.New("E003").Wrap(err))
	}

	outputs, err := s.writeOutputs(relDir, u.Name, prog, out)
	if err != nil {
		return fail(err)
	}
	u.Outputs = outputs

	if len(files) == 1 {
		s.cache.Set(u.Key, contents[files[0]], outputs)
	} else {
		s.cache.SetGroup(u.Key, contents, outputs)
	}

	u.Duration = time.Since(start)
	s.units[dir] = u
	return u
}

func (s *Session) isUpToDate(u *UnitResult, contents map[string][]byte) bool {
	if len(u.Files) == 1 {
		return s.cache.IsUpToDate(u.Key, contents[u.Files[0]])
	}
	return s.cache.IsGroupUpToDate(u.Key, contents)
}

// resolveImports resolves every top-level import of the unit's files:
// same-directory imports inside a merged unit are elided, everything
// else compiles its target unit on demand, validates the imported names
// against the target's exports, and rewrites the specifier to the
// target's emitted artifact.
func (s *Session) resolveImports(ctx context.Context, u *UnitResult, progs []*compiler.Program) error {
	merged := len(u.Files) > 1
	var errs []error

	for _, p := range progs {
		importer := p.Path
		s.graph.DropForward(importer)

		for _, n := range p.Nodes {
			if n.Kind != compiler.KindImport {
				continue
			}
			target, err := resolveImportPath(filepath.Dir(importer), n.Target)
			if err != nil {
				errs = append(errs, errors.New("E104").
					WithMessagef("cannot resolve import \"%s\"", n.Target).
					WithLocation(n.Prov.File, n.Prov.Line, 0))
				continue
			}

			if merged && filepath.Dir(target) == u.Dir {
				// The symbol is already in scope after the merge.
				n.Elided = true
				continue
			}

			depDir := filepath.Dir(target)
			if onStack(s.stack, depDir) {
				errs = append(errs, circularImportError(s.stack, depDir))
				continue
			}
			dep := s.compileUnit(ctx, depDir)
			if dep.Err != nil {
				errs = append(errs, errors.Newf(errors.CategoryImport,
					"imported module '%s' failed to build: %v", modName(target), dep.Err))
				continue
			}

			s.graph.Track(importer, target)

			m, err := s.moduleFor(target, nil)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := validateImport(n, target, m.exports); err != nil {
				errs = append(errs, err)
				continue
			}

			spec, err := importSpecifier(s.cfg.SrcPath(), u.Dir, dep)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			n.Rewritten = spec
		}
	}

	return errors.Aggregate(errors.CategoryImport, "import errors in "+u.Name+":", errs)
}

// writeOutputs emits a unit's artifacts and, when enabled, their source
// maps. It returns every path written.
func (s *Session) writeOutputs(relDir, name string, prog *compiler.Program, out *compiler.Output) ([]string, error) {
	outDir := filepath.Join(s.cfg.OutputPath(), relDir)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.New("E602").Wrap(err)
	}

	type artifact struct {
		file   string
		code   string
		mapKey string
	}
	var artifacts []artifact
	add := func(file, code, mapKey string) {
		if code != "" {
			artifacts = append(artifacts, artifact{file, code, mapKey})
		}
	}

	if out.Server == "" && out.Client == "" && len(out.Servers) == 0 && len(out.Clients) == 0 {
		add(name+".js", out.Shared, "main")
	} else {
		add(name+".shared.js", out.Shared, "shared")
		add(name+".server.js", out.Server, "server")
		add(name+".client.js", out.Client, "client")
		for _, bn := range sortedNames(out.Servers) {
			add(name+".server."+bn+".js", out.Servers[bn], "server:"+bn)
		}
		for _, bn := range sortedNames(out.Clients) {
			add(name+".client."+bn+".js", out.Clients[bn], "client:"+bn)
		}
	}

	var written []string
	for _, a := range artifacts {
		path := filepath.Join(outDir, a.file)
		code := a.code

		if s.cfg.SourceMaps() {
			sm := AssembleMap(a.file, prog.Sources, prog.SourceText, out.Mappings[a.mapKey])
			data, err := sm.JSON()
			if err != nil {
				return nil, errors.New("E602").Wrap(err)
			}
			mapPath := path + ".map"
			if err := os.WriteFile(mapPath, data, 0644); err != nil {
				return nil, errors.New("E602").Wrap(err)
			}
			written = append(written, mapPath)
			code += "//# sourceMappingURL=" + a.file + ".map\n"
		}

		if err := os.WriteFile(path, []byte(code), 0644); err != nil {
			return nil, errors.New("E602").Wrap(err)
		}
		written = append(written, path)
	}
	sort.Strings(written)
	return written, nil
}

// pruneCache drops manifest entries for sources that no longer exist.
func (s *Session) pruneCache(dirs []string) {
	existingFiles := map[string]bool{}
	existingDirKeys := map[string]bool{}
	for _, dir := range dirs {
		files, err := listSourceFiles(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			existingFiles[f] = true
		}
		if len(files) > 1 {
			existingDirKeys[DirKey(dir)] = true
		}
	}
	s.cache.Prune(existingFiles, existingDirKeys)
}

// BlocksFor returns the server blocks of the unit in dir with their port
// assignments, parsing the sources if the last pass was a cache hit.
func (s *Session) BlocksFor(dir string) ([]NamedBlock, error) {
	if u, ok := s.units[dir]; ok && len(u.Blocks) > 0 {
		return u.Blocks, nil
	}
	files, err := listSourceFiles(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := map[string]bool{}
	for _, f := range files {
		m, err := s.moduleFor(f, nil)
		if err != nil {
			return nil, err
		}
		for _, name := range blockNames(m.prog) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return AssignPorts(names, s.basePort()), nil
}

// listSourceFiles returns dir's immediate .tova files, sorted
// lexicographically. Subdirectories are independent units.
func listSourceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), sourceExt) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// resolveImportPath turns a relative import specifier into an absolute
// source path.
func resolveImportPath(baseDir, target string) (string, error) {
	if !strings.HasPrefix(target, "./") && !strings.HasPrefix(target, "../") {
		return "", fmt.Errorf("only relative imports are supported")
	}
	path := filepath.Join(baseDir, filepath.FromSlash(target))
	if !strings.HasSuffix(path, sourceExt) {
		path += sourceExt
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// importSpecifier computes the emitted JS specifier from an importing
// unit's output directory to the dependency's importable artifact: the
// single artifact for libraries, the shared artifact for applications.
func importSpecifier(srcRoot, importerDir string, dep *UnitResult) (string, error) {
	depRel, err := filepath.Rel(srcRoot, dep.Dir)
	if err != nil {
		return "", errors.Newf(errors.CategoryImport, "cannot locate unit %s: %v", dep.Name, err)
	}
	impRel, err := filepath.Rel(srcRoot, importerDir)
	if err != nil {
		return "", errors.Newf(errors.CategoryImport, "cannot locate unit %s: %v", importerDir, err)
	}

	artifact := dep.Name + ".js"
	if dep.Kind == compiler.ModuleApplication {
		artifact = dep.Name + ".shared.js"
	}

	rel, err := filepath.Rel(impRel, filepath.Join(depRel, artifact))
	if err != nil {
		return "", errors.Newf(errors.CategoryImport, "cannot relate units: %v", err)
	}
	spec := filepath.ToSlash(rel)
	if !strings.HasPrefix(spec, ".") {
		spec = "./" + spec
	}
	return spec, nil
}

// runtimePrefix locates the shared runtime/ directory relative to a
// unit's output directory.
func runtimePrefix(relDir string) string {
	if relDir == "." || relDir == "" {
		return "./runtime/"
	}
	depth := len(strings.Split(filepath.ToSlash(relDir), "/"))
	return strings.Repeat("../", depth) + "runtime/"
}

// kindFromOutputs classifies a cache-hit unit from its artifact names,
// avoiding a re-parse just to label it.
func kindFromOutputs(name string, outputs []string) compiler.ModuleKind {
	for _, out := range outputs {
		base := filepath.Base(out)
		if base != name+".js" && base != name+".js.map" {
			return compiler.ModuleApplication
		}
	}
	return compiler.ModuleLibrary
}

func sourceIndexer(sources []string) func(string) int {
	index := make(map[string]int, len(sources))
	for i, src := range sources {
		index[src] = i
	}
	return func(file string) int {
		return index[file]
	}
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func onStack(stack []string, dir string) bool {
	for _, p := range stack {
		if p == dir {
			return true
		}
	}
	return false
}
