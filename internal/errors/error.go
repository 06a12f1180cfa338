package errors

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryCompile Category = "compile"
	CategoryImport  Category = "import"
	CategoryMerge   Category = "merge"
	CategoryCache   Category = "cache"
	CategoryProcess Category = "process"
	CategoryConfig  Category = "config"
	CategoryCLI     Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// TovaError is a structured error with source location, suggestions, and documentation.
type TovaError struct {
	// Code is a unique error identifier (e.g., "E101").
	Code string

	// Category is the error type (compile, import, merge, ...).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context contains surrounding source code lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface. Detail is folded in so plain
// %v logging still says which module, block, or port was involved.
func (e *TovaError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Location != nil {
		msg = fmt.Sprintf("%s: %s", e.Location.String(), msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *TovaError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds source location to the error.
func (e *TovaError) WithLocation(file string, line, column int) *TovaError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *TovaError) WithSuggestion(s string) *TovaError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *TovaError) WithDetail(d string) *TovaError {
	e.Detail = d
	return e
}

// WithMessagef replaces the template message with a formatted one.
func (e *TovaError) WithMessagef(format string, args ...any) *TovaError {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *TovaError) Wrap(err error) *TovaError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

// New creates a TovaError from a registered error code.
func New(code string) *TovaError {
	template, ok := registry[code]
	if !ok {
		return &TovaError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &TovaError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates a new TovaError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *TovaError {
	return &TovaError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a TovaError.
func FromError(err error, code string) *TovaError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TovaError); ok {
		return te
	}
	return New(code).Wrap(err)
}

// Aggregate combines several errors into one composite error. A single
// error is returned unchanged; nil is returned for an empty list.
func Aggregate(category Category, header string, errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	var b strings.Builder
	b.WriteString(header)
	for _, err := range errs {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return &TovaError{
		Category: category,
		Message:  b.String(),
	}
}
