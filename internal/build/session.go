package build

import (
	"os"
	"path/filepath"

	"github.com/tova-lang/tova/internal/compiler"
	"github.com/tova-lang/tova/internal/config"
	"github.com/tova-lang/tova/internal/errors"
)

const sourceExt = ".tova"

// Options configures a build session.
type Options struct {
	// NoCache makes every cache lookup miss. The manifest is still
	// written, so the following build starts warm.
	NoCache bool

	// Strict treats compiler warnings as errors.
	Strict bool

	// BasePort overrides the first port assigned to server blocks.
	// Zero means the configured default.
	BasePort int

	// Log receives progress and warning lines. Nil discards them.
	Log func(format string, args ...any)
}

// Session owns all mutable build state: the incremental cache, parsed
// modules and their export tables, and the dependency graph. Nothing is
// process-global; independent sessions never share state.
type Session struct {
	cfg  *config.Config
	opts Options

	cache   *Cache
	graph   *DepGraph
	modules map[string]*parsedModule

	// units memoizes compiled units within one build pass; reset at the
	// start of every Build so directory membership is re-derived.
	units map[string]*UnitResult

	// stack holds units currently being compiled, for circular-import
	// detection.
	stack []string

	// compileCount counts code-generation passes, for cache tests.
	compileCount int
}

// parsedModule caches one source file's AST, keyed by content hash so a
// changed file on disk never serves a stale parse.
type parsedModule struct {
	hash    string
	prog    *compiler.Program
	exports *ExportTable
	kind    compiler.ModuleKind
}

// NewSession creates a session for one project.
func NewSession(cfg *config.Config, opts Options) *Session {
	s := &Session{
		cfg:     cfg,
		opts:    opts,
		cache:   LoadCache(cfg.OutputPath()),
		graph:   NewDepGraph(),
		modules: make(map[string]*parsedModule),
		units:   make(map[string]*UnitResult),
	}
	if opts.NoCache {
		s.cache.Disable()
	}
	return s
}

// Config returns the session's project configuration.
func (s *Session) Config() *config.Config {
	return s.cfg
}

func (s *Session) logf(format string, args ...any) {
	if s.opts.Log != nil {
		s.opts.Log(format, args...)
	}
}

func (s *Session) basePort() int {
	if s.opts.BasePort > 0 {
		return s.opts.BasePort
	}
	return s.cfg.Dev.BasePort
}

// moduleFor parses path (or reuses the cached parse if the content hash
// is unchanged) and returns its AST, export table and module kind.
// Content may be nil, in which case the file is read from disk.
func (s *Session) moduleFor(path string, content []byte) (*parsedModule, error) {
	if content == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New("E104").
				WithMessagef("cannot read module '%s'", path).
				Wrap(err)
		}
		content = data
	}

	hash := hashBytes(content)
	if m, ok := s.modules[path]; ok && m.hash == hash {
		return m, nil
	}

	prog, err := compiler.Parse(string(content), path)
	if err != nil {
		return nil, err
	}
	m := &parsedModule{
		hash:    hash,
		prog:    prog,
		exports: CollectExports(prog),
		kind:    prog.Kind(),
	}
	s.modules[path] = m
	return m, nil
}

// Invalidate drops every module transitively dependent on the changed
// paths: their parsed ASTs, export tables, outgoing dependency edges,
// and cache entries (both the per-file key and the directory group key).
// It returns the affected module paths, sorted.
func (s *Session) Invalidate(changed ...string) []string {
	affected := map[string]bool{}
	for _, path := range changed {
		for _, p := range s.graph.Invalidate(path) {
			affected[p] = true
		}
	}

	for p := range affected {
		delete(s.modules, p)
		s.graph.DropForward(p)
		s.cache.Invalidate(p)
		s.cache.Invalidate(DirKey(filepath.Dir(p)))
		delete(s.units, filepath.Dir(p))
	}
	return sortedKeys(affected)
}
