package build

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/tova-lang/tova/internal/config"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestSession(t *testing.T, dir string, opts Options) *Session {
	t.Helper()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	return NewSession(cfg, opts)
}

func unitAt(t *testing.T, r *Result, base string) *UnitResult {
	t.Helper()
	for _, u := range r.Units {
		if filepath.Base(u.Dir) == base {
			return u
		}
	}
	t.Fatalf("no unit in directory %q; have %d units", base, len(r.Units))
	return nil
}

func TestBuild_LibraryAndApplication(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.tova": `import { greet } from "./lib/util"

server {
  fn hello(name) {
    return greet(name)
  }
}

client {
  component App() {
    return hello("world")
  }
}
`,
		"lib/util.tova": `pub fn greet(name) {
  return "hello " + name
}
`,
	})

	s := newTestSession(t, dir, Options{})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed() != 0 {
		for _, u := range result.Units {
			t.Logf("%s: %v", u.Name, u.Err)
		}
		t.Fatalf("%d units failed", result.Failed())
	}

	for _, want := range []string{
		"dist/main.shared.js",
		"dist/main.server.js",
		"dist/main.client.js",
		"dist/lib/util.js",
		"dist/runtime/server.js",
		"dist/runtime/reactive.js",
		"dist/runtime/rpc.js",
	} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(want))); err != nil {
			t.Errorf("missing artifact %s", want)
		}
	}

	// The import specifier is rewritten to the library's emitted artifact.
	shared, err := os.ReadFile(filepath.Join(dir, "dist", "main.shared.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(shared), `from "./lib/util.js"`) {
		t.Errorf("import not rewritten:\n%s", shared)
	}
}

func TestBuild_WarmCacheSkipsCompiles(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"app/app.tova": "pub fn run() {\n  return 1\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	first, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	firstCount := s.compileCount
	firstOutputs := unitAt(t, first, "app").Outputs

	second, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.compileCount != firstCount {
		t.Errorf("warm build ran %d extra compiles", s.compileCount-firstCount)
	}
	u := unitAt(t, second, "app")
	if !u.Cached {
		t.Error("unchanged unit should come from cache")
	}
	if !reflect.DeepEqual(u.Outputs, firstOutputs) {
		t.Errorf("cached outputs %v != original %v", u.Outputs, firstOutputs)
	}
}

func TestBuild_WarmCacheAcrossSessions(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"app/app.tova": "pub fn run() {\n  return 1\n}\n",
	})

	s1 := newTestSession(t, dir, Options{})
	if _, err := s1.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	s2 := newTestSession(t, dir, Options{})
	result, err := s2.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s2.compileCount != 0 {
		t.Errorf("fresh session with warm manifest compiled %d units", s2.compileCount)
	}
	if !unitAt(t, result, "app").Cached {
		t.Error("expected cache hit")
	}
}

func TestBuild_InvalidationIsTransitive(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a/a.tova": "pub fn fa() {\n  return 1\n}\n",
		"b/b.tova": "import { fa } from \"../a/a\"\n\npub fn fb() {\n  return fa()\n}\n",
		"c/c.tova": "pub fn fc() {\n  return 3\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.compileCount != 3 {
		t.Fatalf("expected 3 compiles, got %d", s.compileCount)
	}

	aPath := filepath.Join(dir, "a", "a.tova")
	if err := os.WriteFile(aPath, []byte("pub fn fa() {\n  return 42\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	affected := s.Invalidate(aPath)
	if len(affected) != 2 {
		t.Fatalf("Invalidate = %v, want a and b", affected)
	}

	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.compileCount != 5 {
		t.Errorf("expected 5 total compiles (a and b rebuilt), got %d", s.compileCount)
	}
	if !unitAt(t, result, "c").Cached {
		t.Error("unrelated unit c must stay cached")
	}
	if unitAt(t, result, "a").Cached || unitAt(t, result, "b").Cached {
		t.Error("a and b must recompile")
	}
}

func TestBuild_CircularImport(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a/a.tova": "import { fb } from \"../b/b\"\n\npub fn fa() {\n  return fb()\n}\n",
		"b/b.tova": "import { fa } from \"../a/a\"\n\npub fn fb() {\n  return fa()\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed() == 0 {
		t.Fatal("expected circular import failure")
	}

	found := false
	for _, u := range result.Units {
		if u.Err != nil && strings.Contains(u.Err.Error(), "circular import") &&
			strings.Contains(u.Err.Error(), "a -> b -> a") {
			found = true
		}
	}
	if !found {
		for _, u := range result.Units {
			t.Logf("%s: %v", u.Name, u.Err)
		}
		t.Error("no error names the full chain")
	}
}

func TestBuild_ImportValidation(t *testing.T) {
	tests := []struct {
		name string
		imp  string
		want string
	}{
		{"unknown symbol", "missing", "does not export 'missing'"},
		{"private symbol", "hidden", "'hidden' is private"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeTree(t, map[string]string{
				"lib/lib.tova": "pub fn visible() {\n  return 1\n}\n\nfn hidden() {\n  return 2\n}\n",
				"use/use.tova": "import { " + tt.imp + " } from \"../lib/lib\"\n\nfn go() {\n  return " + tt.imp + "()\n}\n",
			})

			s := newTestSession(t, dir, Options{})
			result, err := s.Build(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			u := unitAt(t, result, "use")
			if u.Err == nil || !strings.Contains(u.Err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", u.Err, tt.want)
			}
		})
	}
}

func TestBuild_MergedDirectory(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"web/x.tova": "import { shared_thing } from \"./y\"\n\nfn use_it() {\n  return shared_thing()\n}\n",
		"web/y.tova": "pub fn shared_thing() {\n  return 9\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u := unitAt(t, result, "web")
	if u.Err != nil {
		t.Fatalf("merged unit failed: %v", u.Err)
	}
	if u.Name != "web" || u.Key != DirKey(filepath.Join(dir, "web")) {
		t.Errorf("unit = %q key %q", u.Name, u.Key)
	}

	code, err := os.ReadFile(filepath.Join(dir, "dist", "web", "web.js"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(code), `from "./y`) {
		t.Errorf("same-directory import not elided:\n%s", code)
	}
	if !strings.Contains(string(code), "function shared_thing") ||
		!strings.Contains(string(code), "function use_it") {
		t.Errorf("merged artifact missing members:\n%s", code)
	}
}

func TestBuild_MergedDirectoryRebuild(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"web/x.tova": "server {\n  fn a() {\n    return 1\n  }\n}\n",
		"web/y.tova": "server {\n  fn b() {\n    return 2\n  }\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	ctx := context.Background()
	first, err := s.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if u := unitAt(t, first, "web"); u.Err != nil {
		t.Fatalf("initial build failed: %v", u.Err)
	}

	// Edit one file of the merged unit. The sibling's parse is reused
	// from the session, and coalescing it again must not see the first
	// merge's members.
	yPath := filepath.Join(dir, "web", "y.tova")
	if err := os.WriteFile(yPath, []byte("server {\n  fn b() {\n    return 3\n  }\n}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s.Invalidate(yPath)

	second, err := s.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	u := unitAt(t, second, "web")
	if u.Err != nil {
		t.Fatalf("rebuild failed: %v", u.Err)
	}

	code, err := os.ReadFile(filepath.Join(dir, "dist", "web", "web.server.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(code), "return 3") {
		t.Errorf("rebuilt artifact missing the edit:\n%s", code)
	}
	if n := strings.Count(string(code), "function a("); n != 1 {
		t.Errorf("function a emitted %d times", n)
	}
}

func TestBuild_MergedDuplicateFails(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"web/x.tova": "fn greet() {\n  return 1\n}\n",
		"web/y.tova": "fn greet() {\n  return 2\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u := unitAt(t, result, "web")
	if u.Err == nil {
		t.Fatal("expected duplicate declaration failure")
	}
	msg := u.Err.Error()
	if !strings.Contains(msg, "x.tova:1") || !strings.Contains(msg, "y.tova:1") {
		t.Errorf("error must cite both sites: %s", msg)
	}
}

func TestBuild_FailingUnitDoesNotAbortSiblings(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"bad/bad.tova":   "??? not a program\n",
		"good/good.tova": "pub fn ok() {\n  return 1\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed() != 1 {
		t.Fatalf("Failed() = %d, want 1", result.Failed())
	}
	if u := unitAt(t, result, "good"); u.Err != nil || len(u.Outputs) == 0 {
		t.Errorf("good unit should have built: %v", u.Err)
	}
}

func TestBuild_StrictPromotesWarnings(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"app/app.tova": "pub fn todo() {\n}\n",
	})

	s := newTestSession(t, dir, Options{Strict: true})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u := unitAt(t, result, "app")
	if u.Err == nil || !strings.Contains(u.Err.Error(), "warnings") {
		t.Errorf("strict build should fail on warnings, got %v", u.Err)
	}

	// The same tree builds fine without strict.
	s2 := newTestSession(t, dir, Options{})
	result2, err := s2.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result2.Failed() != 0 {
		t.Errorf("non-strict build failed: %v", unitAt(t, result2, "app").Err)
	}
}

func TestBuild_NoCache(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"app/app.tova": "pub fn run() {\n  return 1\n}\n",
	})

	s := newTestSession(t, dir, Options{NoCache: true})
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.compileCount != 2 {
		t.Errorf("NoCache builds should recompile every pass, got %d compiles", s.compileCount)
	}
}

func TestBuild_NamedBlockArtifactsAndPorts(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.tova": `server {
  fn root() {
    return 1
  }
}

server "events" {
  fn publish(msg) {
    return msg
  }
}
`,
	})

	s := newTestSession(t, dir, Options{BasePort: 4000})
	result, err := s.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u := unitAt(t, result, filepath.Base(dir))
	if u.Err != nil {
		t.Fatal(u.Err)
	}

	if len(u.Blocks) != 2 {
		t.Fatalf("Blocks = %v", u.Blocks)
	}
	if u.Blocks[0].Port != 4000 || u.Blocks[1].Port != 4001 {
		t.Errorf("ports = [%d, %d], want [4000, 4001]", u.Blocks[0].Port, u.Blocks[1].Port)
	}

	if _, err := os.Stat(filepath.Join(dir, "dist", "main.server.js")); err != nil {
		t.Error("missing default server artifact")
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "main.server.events.js")); err != nil {
		t.Error("missing named server artifact")
	}
}

func TestBuild_SourceMaps(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"lib/lib.tova": "pub fn f() {\n  return 1\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	artifact, err := os.ReadFile(filepath.Join(dir, "dist", "lib", "lib.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(artifact), "//# sourceMappingURL=lib.js.map") {
		t.Error("artifact missing sourceMappingURL")
	}

	data, err := os.ReadFile(filepath.Join(dir, "dist", "lib", "lib.js.map"))
	if err != nil {
		t.Fatal(err)
	}
	var m SourceMap
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Sources) != 1 || !strings.HasSuffix(m.Sources[0], "lib.tova") {
		t.Errorf("Sources = %v", m.Sources)
	}
	tuples, err := DecodeMappings(m.Mappings)
	if err != nil {
		t.Fatal(err)
	}
	if len(tuples) == 0 {
		t.Error("empty mappings")
	}
}

func TestBuild_PrunesStaleEntries(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"a/a.tova": "pub fn fa() {\n  return 1\n}\n",
		"b/b.tova": "pub fn fb() {\n  return 2\n}\n",
	})

	s := newTestSession(t, dir, Options{})
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.cache.Len() != 2 {
		t.Fatalf("cache has %d entries", s.cache.Len())
	}

	if err := os.RemoveAll(filepath.Join(dir, "b")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.cache.Len() != 1 {
		t.Errorf("stale entry survived: %d entries", s.cache.Len())
	}
}

func TestBlocksFor_CacheHit(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"main.tova": "server {\n  fn root() {\n    return 1\n  }\n}\n\nserver \"jobs\" {\n  fn run() {\n    return 2\n  }\n}\n",
	})

	s := newTestSession(t, dir, Options{BasePort: 4000})
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatal(err)
	}

	// A fresh session serves the unit from cache; block info must still
	// be derivable for the process orchestrator.
	s2 := newTestSession(t, dir, Options{BasePort: 4000})
	if _, err := s2.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	blocks, err := s2.BlocksFor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 2 || blocks[0].Port != 4000 || blocks[1].Port != 4001 {
		t.Errorf("blocks = %v", blocks)
	}
}
