package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tova-lang/tova/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "tova.json"

	// DefaultPort is the base port for server blocks in development.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultOutput is the default build output directory.
	DefaultOutput = "dist"
)

// Config represents the complete tova.json configuration.
type Config struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// Version is the project version.
	Version string `json:"version,omitempty"`

	// Entry is the main application source file, relative to the project
	// directory. Its server blocks become the spawned dev processes.
	Entry string `json:"entry,omitempty"`

	// Src is the source root scanned for .tova files. Defaults to the
	// project directory itself.
	Src string `json:"src,omitempty"`

	// Dev contains development server configuration.
	Dev DevConfig `json:"dev,omitempty"`

	// Build contains build configuration.
	Build BuildConfig `json:"build,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Port is the dev server port. Server block processes bind Port+10
	// upward (the base port), leaving room for the proxy itself.
	Port int `json:"port,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// BasePort is the first port assigned to server blocks. Defaults to
	// Port+10.
	BasePort int `json:"basePort,omitempty"`

	// Watch contains extra paths to watch for changes.
	Watch []string `json:"watch,omitempty"`

	// Ignore contains patterns to skip during watch.
	Ignore []string `json:"ignore,omitempty"`
}

// BuildConfig contains build settings.
type BuildConfig struct {
	// Output is the output directory for compiled artifacts.
	Output string `json:"output,omitempty"`

	// SourceMaps enables source map generation. On by default.
	SourceMaps *bool `json:"sourceMaps,omitempty"`

	// Strict treats compiler warnings as errors.
	Strict bool `json:"strict,omitempty"`

	// Publish is an optional S3 destination ("bucket" or "bucket/prefix")
	// for build artifacts.
	Publish string `json:"publish,omitempty"`
}

// New creates a new Config with default values for projectDir.
func New(projectDir string) *Config {
	cfg := &Config{
		Version:    "0.1.0",
		configPath: filepath.Join(projectDir, ConfigFileName),
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the specified directory. A missing
// tova.json is not an error: the directory itself is then the project.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return New(dir), nil
		}
		return nil, errors.New("E501").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E501").
			WithDetail("Failed to parse tova.json: " + err.Error()).
			WithSuggestion("Check that tova.json is valid JSON")
	}

	cfg.configPath = configPath
	cfg.applyDefaults()

	return cfg, nil
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E501").Wrap(err)
	}
	data = append(data, '\n')
	return os.WriteFile(c.configPath, data, 0644)
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project directory.
func (c *Config) Dir() string {
	return filepath.Dir(c.configPath)
}

// SrcPath returns the absolute source root.
func (c *Config) SrcPath() string {
	return resolve(c.Dir(), c.Src)
}

// OutputPath returns the absolute output directory.
func (c *Config) OutputPath() string {
	return resolve(c.Dir(), c.Build.Output)
}

// EntryPath returns the absolute entry file path, or "" if unset.
func (c *Config) EntryPath() string {
	if c.Entry == "" {
		return ""
	}
	return resolve(c.Dir(), c.Entry)
}

// DevAddress returns the host:port address for the dev server.
func (c *Config) DevAddress() string {
	return fmt.Sprintf("%s:%d", c.Dev.Host, c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return fmt.Sprintf("http://%s", c.DevAddress())
}

// SourceMaps reports whether source maps should be emitted.
func (c *Config) SourceMaps() bool {
	if c.Build.SourceMaps == nil {
		return true
	}
	return *c.Build.SourceMaps
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Src == "" {
		c.Src = "."
	}
	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultPort
	}
	if c.Dev.Host == "" {
		c.Dev.Host = DefaultHost
	}
	if c.Dev.BasePort == 0 {
		c.Dev.BasePort = c.Dev.Port + 10
	}
	if c.Build.Output == "" {
		c.Build.Output = DefaultOutput
	}
}

func resolve(dir, path string) string {
	if path == "" || path == "." {
		return dir
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
