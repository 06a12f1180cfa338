package dev

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tova-lang/tova/internal/build"
	"github.com/tova-lang/tova/internal/config"
)

const devTestApp = `server {
  fn hello(name) {
    return "hello " + name
  }
}

client {
  component App() {
    return hello("world")
  }
}
`

func newTestServer(t *testing.T, dir string) (*Server, *fakeSpawner) {
	t.Helper()

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(ServerOptions{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
	})
	t.Cleanup(s.Stop)

	spawner := &fakeSpawner{}
	s.orch = newTestOrchestrator(spawner)
	return s, spawner
}

func writeSource(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestServer_FailedRebuildKeepsProcesses(t *testing.T) {
	dir := t.TempDir()
	main := writeSource(t, dir, "main.tova", devTestApp)

	s, spawner := newTestServer(t, dir)
	ctx := context.Background()

	s.rebuild(ctx)
	afterFirst := spawner.log()
	if len(afterFirst) != 1 || !strings.HasPrefix(afterFirst[0], "spawn default:") {
		t.Fatalf("initial deploy events = %v", afterFirst)
	}

	// Break the module: an unresolvable import fails the build, and the
	// running process must be left alone.
	writeSource(t, dir, "main.tova", `import { nope } from "./missing"`+"\n\n"+devTestApp)
	s.handleChanges(ctx, []Change{{Path: main, Type: ChangeSource}})

	if got := spawner.log(); len(got) != len(afterFirst) {
		t.Fatalf("failed rebuild touched processes: %v", got)
	}
	if n := len(s.orch.Processes()); n != 1 {
		t.Fatalf("expected 1 running process, got %d", n)
	}

	// Fixing the module replaces the process blue-green.
	writeSource(t, dir, "main.tova", devTestApp)
	s.handleChanges(ctx, []Change{{Path: main, Type: ChangeSource}})

	got := spawner.log()
	want := []string{afterFirst[0], "stop default", afterFirst[0]}
	if !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestServer_RedeployReusesPorts(t *testing.T) {
	dir := t.TempDir()
	main := writeSource(t, dir, "main.tova", devTestApp)

	s, _ := newTestServer(t, dir)
	ctx := context.Background()

	s.rebuild(ctx)
	firstPort := s.orch.Processes()[0].Block.Port
	if firstPort != s.config.Dev.BasePort {
		t.Errorf("port = %d, want base port %d", firstPort, s.config.Dev.BasePort)
	}

	writeSource(t, dir, "main.tova", devTestApp+"\nshared {\n  let answer = 42\n}\n")
	s.handleChanges(ctx, []Change{{Path: main, Type: ChangeSource}})

	if port := s.orch.Processes()[0].Block.Port; port != firstPort {
		t.Errorf("redeploy moved the port: %d -> %d", firstPort, port)
	}
}

func TestServer_AssetChangeSkipsRebuild(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.tova", devTestApp)

	s, spawner := newTestServer(t, dir)
	ctx := context.Background()

	s.rebuild(ctx)
	before := spawner.log()

	asset := writeSource(t, dir, "public/logo.svg", "<svg/>")
	s.handleChanges(ctx, []Change{{Path: asset, Type: ChangeAsset}})

	if got := spawner.log(); !equalStrings(got, before) {
		t.Errorf("asset change redeployed: %v", got)
	}
}

func TestBlockArtifacts(t *testing.T) {
	unit := &build.UnitResult{
		Name: "main",
		Outputs: []string{
			"/out/main.shared.js",
			"/out/main.shared.js.map",
			"/out/main.server.js",
			"/out/main.server.events.js",
			"/out/main.server.events.js.map",
			"/out/main.client.js",
		},
	}

	artifacts, err := blockArtifacts(unit)
	if err != nil {
		t.Fatal(err)
	}
	if artifacts[""] != "/out/main.server.js" {
		t.Errorf("default artifact = %q", artifacts[""])
	}
	if artifacts["events"] != "/out/main.server.events.js" {
		t.Errorf("events artifact = %q", artifacts["events"])
	}
	if len(artifacts) != 2 {
		t.Errorf("artifacts = %v", artifacts)
	}

	if _, err := blockArtifacts(&build.UnitResult{Name: "lib", Outputs: []string{"/out/lib.js"}}); err == nil {
		t.Error("expected error for a unit without server artifacts")
	}
}

func TestInjectScript(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(strings.NewReader("<html><body><h1>hi</h1></body></html>")),
	}
	if err := injectScript(resp, "<script>x</script>"); err != nil {
		t.Fatal(err)
	}

	body, _ := io.ReadAll(resp.Body)
	want := "<html><body><h1>hi</h1><script>x</script></body></html>"
	if string(body) != want {
		t.Errorf("body = %q", body)
	}
	if resp.ContentLength != int64(len(want)) {
		t.Errorf("ContentLength = %d, want %d", resp.ContentLength, len(want))
	}
}
