package build

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	cacheDirName     = ".cache"
	manifestFileName = "manifest.json"
	manifestVersion  = 1
	dirKeyPrefix     = "dir:"
)

// CacheEntry records the last successful compile of one cache key.
type CacheEntry struct {
	Hash      string    `json:"hash"`
	Outputs   []string  `json:"outputs"`
	Timestamp time.Time `json:"timestamp"`
}

// manifest is the on-disk shape of the cache.
type manifest struct {
	Version int                   `json:"version"`
	Entries map[string]CacheEntry `json:"entries"`
}

// Cache is the incremental build cache: a content-hash keyed manifest
// mapping a unit key to its last output paths. Keys are absolute module
// paths, or "dir:<path>" for merged directory units. The manifest is
// loaded once per build, mutated in memory, and saved once at the end.
// Concurrent builds against the same output directory are unsupported.
type Cache struct {
	path    string
	entries map[string]CacheEntry
	enabled bool
}

// LoadCache reads the manifest under outputDir. A missing or corrupt
// manifest degrades to an empty cache, never a failed build.
func LoadCache(outputDir string) *Cache {
	c := &Cache{
		path:    filepath.Join(outputDir, cacheDirName, manifestFileName),
		entries: make(map[string]CacheEntry),
		enabled: true,
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return c
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil || m.Version != manifestVersion {
		return c
	}
	if m.Entries != nil {
		c.entries = m.Entries
	}
	return c
}

// Disable turns every lookup into a miss. Writes still happen, so the
// manifest ends up warm for the next build.
func (c *Cache) Disable() {
	c.enabled = false
}

// Save writes the manifest back to disk.
func (c *Cache) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(manifest{Version: manifestVersion, Entries: c.entries}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// DirKey returns the cache key of a merged directory unit.
func DirKey(dir string) string {
	return dirKeyPrefix + dir
}

// IsUpToDate reports whether key's stored hash matches content.
func (c *Cache) IsUpToDate(key string, content []byte) bool {
	if !c.enabled {
		return false
	}
	entry, ok := c.entries[key]
	return ok && entry.Hash == hashBytes(content)
}

// IsGroupUpToDate reports whether key's stored hash matches a set of
// files. The hash covers path+content pairs in sorted path order, so it
// is insensitive to directory-listing order.
func (c *Cache) IsGroupUpToDate(key string, files map[string][]byte) bool {
	if !c.enabled {
		return false
	}
	entry, ok := c.entries[key]
	return ok && entry.Hash == hashGroup(files)
}

// Cached returns key's stored output paths, but only if every one of
// them still exists on disk. A deleted output is a miss, not an error.
func (c *Cache) Cached(key string) ([]string, bool) {
	if !c.enabled {
		return nil, false
	}
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	for _, out := range entry.Outputs {
		if _, err := os.Stat(out); err != nil {
			return nil, false
		}
	}
	return entry.Outputs, true
}

// Set records a single-file unit's hash and outputs.
func (c *Cache) Set(key string, content []byte, outputs []string) {
	c.entries[key] = CacheEntry{
		Hash:      hashBytes(content),
		Outputs:   outputs,
		Timestamp: time.Now(),
	}
}

// SetGroup records a merged unit's hash and outputs.
func (c *Cache) SetGroup(key string, files map[string][]byte, outputs []string) {
	c.entries[key] = CacheEntry{
		Hash:      hashGroup(files),
		Outputs:   outputs,
		Timestamp: time.Now(),
	}
}

// Invalidate drops key's entry.
func (c *Cache) Invalidate(key string) {
	delete(c.entries, key)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Prune deletes entries whose key no longer names an existing source
// file or an active directory group, so renames and deletions don't leak
// stale entries across builds.
func (c *Cache) Prune(existingFiles, existingDirKeys map[string]bool) {
	for key := range c.entries {
		if strings.HasPrefix(key, dirKeyPrefix) {
			if !existingDirKeys[key] {
				delete(c.entries, key)
			}
			continue
		}
		if !existingFiles[key] {
			delete(c.entries, key)
		}
	}
}

// hashBytes computes the content hash used for staleness checks. FNV-1a
// is fast and collision-resistant enough for cache keys; nothing here is
// security-sensitive.
func hashBytes(content []byte) string {
	h := fnv.New64a()
	h.Write(content)
	return fmt.Sprintf("%016x", h.Sum64())
}

// hashGroup hashes path+content pairs in sorted path order.
func hashGroup(files map[string][]byte) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := fnv.New64a()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(files[p])
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
