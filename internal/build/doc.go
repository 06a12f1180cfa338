// Package build orchestrates compilation of a tree of .tova sources into
// JavaScript artifacts.
//
// Sources are grouped into compilation units by directory: a directory
// with one .tova file compiles alone, a directory with several is merged
// into a single program before one compiler pass. The package tracks
// cross-unit imports, validates exported symbols, keeps a content-hashed
// incremental cache under the output directory, and assembles source maps
// spanning every file that contributed to a unit.
//
// All state lives on a Session; two sessions never share caches or
// dependency graphs.
package build
