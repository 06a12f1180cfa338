// Package compiler is the front-end the build orchestrator drives: it
// parses one source module (or a merged directory unit) into a Program,
// analyzes it, and lowers it to JavaScript artifacts.
//
// The orchestrator only depends on the three entry points:
//
//	prog, err := compiler.Parse(text, path)
//	diags := compiler.Analyze(prog)
//	out, err := compiler.Generate(prog, opts)
//
// Parsing is declaration-structural: statement bodies pass through to the
// generated JavaScript verbatim, with provenance recorded per line so
// diagnostics and source maps can point back at the original file even
// after several files are merged into one unit.
package compiler
