package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Compile Errors (E001-E099)
	// ============================================

	"E001": {
		Category: CategoryCompile,
		Message:  "Parse error",
		Detail:   "The source file could not be parsed into a program.",
		DocURL:   "https://tova-lang.dev/docs/errors/E001",
	},
	"E002": {
		Category: CategoryCompile,
		Message:  "Analysis error",
		Detail:   "The program parsed but failed semantic analysis.",
		DocURL:   "https://tova-lang.dev/docs/errors/E002",
	},
	"E003": {
		Category: CategoryCompile,
		Message:  "Code generation failed",
		Detail:   "The analyzed program could not be lowered to JavaScript.",
		DocURL:   "https://tova-lang.dev/docs/errors/E003",
	},
	"E004": {
		Category: CategoryCompile,
		Message:  "Strict mode: warnings treated as errors",
		Detail:   "The build ran with --strict and the compiler reported warnings.",
		DocURL:   "https://tova-lang.dev/docs/errors/E004",
	},

	// ============================================
	// Import Errors (E101-E199)
	// ============================================

	"E101": {
		Category: CategoryImport,
		Message:  "Module does not export symbol",
		Detail:   "The imported name is not declared anywhere in the target module.",
		DocURL:   "https://tova-lang.dev/docs/errors/E101",
	},
	"E102": {
		Category: CategoryImport,
		Message:  "Symbol is private",
		Detail:   "The name exists in the target module but is not marked 'pub'.",
		DocURL:   "https://tova-lang.dev/docs/errors/E102",
	},
	"E103": {
		Category: CategoryImport,
		Message:  "Circular import",
		Detail:   "Two or more modules import each other, directly or transitively.",
		DocURL:   "https://tova-lang.dev/docs/errors/E103",
	},
	"E104": {
		Category: CategoryImport,
		Message:  "Cannot resolve import",
		Detail:   "The import path does not correspond to a source file on disk.",
		DocURL:   "https://tova-lang.dev/docs/errors/E104",
	},

	// ============================================
	// Merge Errors (E201-E299)
	// ============================================

	"E201": {
		Category: CategoryMerge,
		Message:  "Duplicate declarations in merged directory",
		Detail:   "Two files in the same directory declare the same name in the same scope.",
		DocURL:   "https://tova-lang.dev/docs/errors/E201",
	},

	// ============================================
	// Cache Errors (E301-E399)
	// ============================================

	"E301": {
		Category: CategoryCache,
		Message:  "Cache manifest unreadable",
		Detail:   "The incremental cache manifest could not be read; the build continues with a cold cache.",
		DocURL:   "https://tova-lang.dev/docs/errors/E301",
	},
	"E302": {
		Category: CategoryCache,
		Message:  "Cache manifest could not be written",
		Detail:   "The build succeeded but the cache manifest could not be saved; the next build will be cold.",
		DocURL:   "https://tova-lang.dev/docs/errors/E302",
	},

	// ============================================
	// Process Errors (E401-E499)
	// ============================================

	"E401": {
		Category: CategoryProcess,
		Message:  "Failed to start server process",
		Detail:   "A compiled server block could not be spawned.",
		DocURL:   "https://tova-lang.dev/docs/errors/E401",
	},
	"E402": {
		Category: CategoryProcess,
		Message:  "Server process not responding",
		Detail:   "The primary server block did not answer its root endpoint within the retry budget.",
		DocURL:   "https://tova-lang.dev/docs/errors/E402",
	},

	// ============================================
	// Config Errors (E501-E599)
	// ============================================

	"E501": {
		Category: CategoryConfig,
		Message:  "Invalid tova.json",
		Detail:   "The project configuration file exists but is not valid JSON.",
		DocURL:   "https://tova-lang.dev/docs/errors/E501",
	},

	// ============================================
	// CLI / IO Errors (E601-E699)
	// ============================================

	"E601": {
		Category: CategoryCLI,
		Message:  "Build failed",
		Detail:   "One or more compilation units failed to build.",
		DocURL:   "https://tova-lang.dev/docs/errors/E601",
	},
	"E602": {
		Category: CategoryCLI,
		Message:  "Output could not be written",
		Detail:   "A compiled artifact could not be written to the output directory.",
		DocURL:   "https://tova-lang.dev/docs/errors/E602",
	},
	"E603": {
		Category: CategoryCLI,
		Message:  "Artifact publish failed",
		Detail:   "Build outputs could not be uploaded to the configured bucket.",
		DocURL:   "https://tova-lang.dev/docs/errors/E603",
	},
}
