package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tova-lang/tova/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ╔╦╗┌─┐┬  ┬┌─┐
   ║ │ │└┐┌┘├─┤
   ╩ └─┘ └┘ ┴ ┴
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "tova",
		Short: "The Tova language toolchain",
		Long: `Tova compiles full-stack applications to JavaScript.

A single source tree produces shared, server, and client artifacts
with the RPC plumbing between them generated for you. Features:

  • Shared, server, and client blocks in one file
  • Named server blocks as separate processes
  • Incremental rebuilds with a persistent cache
  • Hot reload development server
  • Source maps back to .tova sources`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildCmd(),
		devCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		renderError(err)
		os.Exit(1)
	}
}

// renderError prints coded errors with their full terminal rendering
// (location, context lines, suggestion, doc link); anything else gets
// the plain one-liner.
func renderError(err error) {
	var coded *errors.TovaError
	if stderrors.As(err, &coded) {
		fmt.Fprintln(os.Stderr, coded.Format())
		return
	}
	fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
}

// printBanner prints the Tova ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s\n", fmt.Sprintf(format, args...))
}
