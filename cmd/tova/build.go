package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tova-lang/tova/internal/build"
	"github.com/tova-lang/tova/internal/config"
	"github.com/tova-lang/tova/internal/dev"
)

func buildCmd() *cobra.Command {
	var (
		output  string
		noCache bool
		strict  bool
		watch   bool
		publish string
	)

	cmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Compile the project",
		Long: `Compile every .tova module under the source root.

Artifacts are emitted to the output directory, one set per module:
library modules produce a single file, application modules produce
shared, server, and client targets plus one file per named server
block. Unchanged modules are restored from the incremental cache.

Examples:
  tova build
  tova build ./examples/blog
  tova build --no-cache --strict
  tova build --publish my-bucket/releases/v1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runBuild(dir, output, noCache, strict, watch, publish)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default from tova.json)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Recompile everything, ignoring the cache")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat compiler warnings as errors")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Rebuild on source changes")
	cmd.Flags().StringVar(&publish, "publish", "", "Upload artifacts to S3 (bucket or bucket/prefix)")

	return cmd
}

func runBuild(dir, output string, noCache, strict, watch bool, publish string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return err
	}

	if output != "" {
		cfg.Build.Output = output
	}
	if publish == "" {
		publish = cfg.Build.Publish
	}

	session := build.NewSession(cfg, build.Options{
		NoCache: noCache,
		Strict:  strict || cfg.Build.Strict,
		Log: func(format string, args ...any) {
			info(format, args...)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Println("  Building...")
	fmt.Println()

	result, err := session.Build(ctx)
	if err != nil {
		return err
	}

	printUnits(cfg, result)

	if failed := result.Failed(); failed > 0 {
		if !watch {
			return fmt.Errorf("%d module(s) failed to build", failed)
		}
		errorMsg("%d module(s) failed to build", failed)
	} else {
		success("Build complete in %s", result.Duration.Round(time.Millisecond))
	}

	if watch {
		return runWatch(ctx, cfg, session)
	}
	if publish != "" {
		return runPublish(ctx, cfg, publish)
	}
	return nil
}

// runWatch rebuilds incrementally on every source change until
// interrupted.
func runWatch(ctx context.Context, cfg *config.Config, session *build.Session) error {
	watcher := dev.NewWatcher(dev.WatcherConfig{
		Paths:  []string{cfg.SrcPath()},
		Ignore: append(append([]string{}, dev.DefaultIgnore...), cfg.Dev.Ignore...),
	})

	changes := make(chan dev.Change, 64)
	watcher.OnChange(func(c dev.Change) {
		if c.Type != dev.ChangeSource {
			return
		}
		select {
		case changes <- c:
		default:
		}
	})

	info("Watching %s for changes...", cfg.SrcPath())
	go watcher.Start(ctx)
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case first := <-changes:
			batch := []string{first.Path}
			draining := true
			for draining {
				select {
				case c := <-changes:
					batch = append(batch, c.Path)
				default:
					draining = false
				}
			}

			session.Invalidate(batch...)
			result, err := session.Build(ctx)
			if err != nil {
				errorMsg("%v", err)
				continue
			}
			printUnits(cfg, result)
			if failed := result.Failed(); failed > 0 {
				errorMsg("%d module(s) failed to build", failed)
			} else {
				success("Rebuilt in %s", result.Duration.Round(time.Millisecond))
			}
		}
	}
}

// printUnits renders one line per compiled unit, with its artifacts.
func printUnits(cfg *config.Config, result *build.Result) {
	for _, u := range result.Units {
		if u.Err != nil {
			errorMsg("%s failed to build", u.Name)
			renderError(u.Err)
			continue
		}

		status := u.Duration.Round(time.Millisecond).String()
		if u.Cached {
			status = "cached"
		}
		fmt.Printf("  \033[36m%s\033[0m (%s, %s)\n", u.Name, u.Kind, status)
		for _, out := range u.Outputs {
			rel, err := filepath.Rel(cfg.Dir(), out)
			if err != nil {
				rel = out
			}
			fmt.Printf("    %s\n", rel)
		}
	}
	fmt.Println()
}

func runPublish(ctx context.Context, cfg *config.Config, dest string) error {
	publisher, err := build.NewPublisher(dest)
	if err != nil {
		return err
	}

	info("Publishing %s to s3://%s...", cfg.Build.Output, dest)
	uploaded, err := publisher.Publish(ctx, cfg.OutputPath())
	if err != nil {
		return err
	}
	success("Uploaded %d file(s)", uploaded)
	return nil
}
