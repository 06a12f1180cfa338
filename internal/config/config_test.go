package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Missing(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
	if cfg.Dev.Port != DefaultPort {
		t.Errorf("Dev.Port = %d, want %d", cfg.Dev.Port, DefaultPort)
	}
	if cfg.Dev.BasePort != DefaultPort+10 {
		t.Errorf("Dev.BasePort = %d, want %d", cfg.Dev.BasePort, DefaultPort+10)
	}
	if cfg.Build.Output != DefaultOutput {
		t.Errorf("Build.Output = %q, want %q", cfg.Build.Output, DefaultOutput)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "name": "blog",
  "entry": "app.tova",
  "dev": {"port": 8080},
  "build": {"output": "out", "strict": true}
}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Name != "blog" {
		t.Errorf("Name = %q, want blog", cfg.Name)
	}
	if cfg.Dev.Port != 8080 {
		t.Errorf("Dev.Port = %d, want 8080", cfg.Dev.Port)
	}
	if cfg.Dev.BasePort != 8090 {
		t.Errorf("Dev.BasePort = %d, want 8090", cfg.Dev.BasePort)
	}
	if !cfg.Build.Strict {
		t.Error("Build.Strict should be true")
	}
	if got, want := cfg.OutputPath(), filepath.Join(dir, "out"); got != want {
		t.Errorf("OutputPath() = %q, want %q", got, want)
	}
	if got, want := cfg.EntryPath(), filepath.Join(dir, "app.tova"); got != want {
		t.Errorf("EntryPath() = %q, want %q", got, want)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Error("Expected error for corrupt tova.json")
	}
}

func TestSourceMaps_Default(t *testing.T) {
	cfg := New(t.TempDir())
	if !cfg.SourceMaps() {
		t.Error("source maps should default to enabled")
	}

	off := false
	cfg.Build.SourceMaps = &off
	if cfg.SourceMaps() {
		t.Error("source maps should be disabled when set to false")
	}
}

func TestDevURL(t *testing.T) {
	cfg := New(t.TempDir())
	cfg.Dev.Port = 4242
	if got := cfg.DevURL(); got != "http://localhost:4242" {
		t.Errorf("DevURL() = %q", got)
	}
}
