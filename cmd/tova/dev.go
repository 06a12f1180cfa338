package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tova-lang/tova/internal/build"
	"github.com/tova-lang/tova/internal/config"
	"github.com/tova-lang/tova/internal/dev"
)

func devCmd() *cobra.Command {
	var (
		port     int
		host     string
		basePort int
	)

	cmd := &cobra.Command{
		Use:   "dev [dir]",
		Short: "Start the development server",
		Long: `Start the development server with hot reload.

The dev server watches the source tree, rebuilds changed modules
incrementally, and swaps the running server block processes only
after a fully successful build. Connected browsers reload
automatically.

Examples:
  tova dev
  tova dev --port=8080
  tova dev --base-port=5000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runDev(dir, port, host, basePort)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Proxy port (default from tova.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from tova.json)")
	cmd.Flags().IntVar(&basePort, "base-port", 0, "First port assigned to server blocks")

	return cmd
}

func runDev(dir string, port int, host string, basePort int) error {
	// Server blocks run under node.
	if _, err := exec.LookPath("node"); err != nil {
		errorMsg("node is not installed or not in PATH")
		info("Install Node.js from https://nodejs.org")
		return err
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return err
	}

	if port > 0 {
		cfg.Dev.Port = port
		if basePort == 0 && cfg.Dev.BasePort <= port {
			cfg.Dev.BasePort = port + 10
		}
	}
	if host != "" {
		cfg.Dev.Host = host
	}
	if basePort > 0 {
		cfg.Dev.BasePort = basePort
	}

	printBanner()
	fmt.Println("  dev")
	fmt.Println()

	server := dev.NewServer(dev.ServerOptions{
		Config: cfg,
		OnBuildComplete: func(result *build.Result) {
			if result.Failed() == 0 {
				success("Built in %s", result.Duration.Round(time.Millisecond))
			}
		},
		OnReload: func(clients int) {
			if clients > 0 {
				success("Reloaded %d browser(s)", clients)
			}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\n  Shutting down...")
		cancel()
		server.Stop()
	}()

	return server.Start(ctx)
}
