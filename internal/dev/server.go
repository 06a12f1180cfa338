package dev

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tova-lang/tova/internal/build"
	"github.com/tova-lang/tova/internal/compiler"
	"github.com/tova-lang/tova/internal/config"
)

// DevClientScript is injected into proxied HTML responses so browsers
// subscribe to the reload stream.
const DevClientScript = `<script>
(() => {
  const src = new EventSource("/__tova_reload");
  src.onmessage = (e) => { if (e.data === "reload") location.reload(); };
  src.onerror = () => {
    src.close();
    const poll = setInterval(() => {
      fetch("/", { cache: "no-store" })
        .then((r) => { if (r.ok) { clearInterval(poll); location.reload(); } })
        .catch(() => {});
    }, 1000);
  };
})();
</script>`

// ServerOptions configures the development server.
type ServerOptions struct {
	// Config is the project configuration.
	Config *config.Config

	// Registry receives the dev metrics. Nil uses the default registerer.
	Registry prometheus.Registerer

	// OnBuildComplete is called after every rebuild attempt.
	OnBuildComplete func(result *build.Result)

	// OnReload is called after browsers are notified.
	OnReload func(clients int)
}

// Server is the development server: it builds on change, replaces the
// running block processes blue-green, proxies browser traffic to the
// primary block, and notifies live-reload subscribers.
type Server struct {
	config  *config.Config
	options ServerOptions
	session *build.Session
	watcher *Watcher
	reload  *ReloadServer
	orch    *Orchestrator
	metrics *Metrics

	changeCh   chan Change
	httpServer *http.Server

	mu          sync.Mutex
	running     bool
	primaryPort int
}

// NewServer creates a development server.
func NewServer(options ServerOptions) *Server {
	cfg := options.Config

	session := build.NewSession(cfg, build.Options{
		BasePort: cfg.Dev.BasePort,
		Log: func(format string, args ...any) {
			logLine(format, args...)
		},
	})

	paths := []string{cfg.SrcPath()}
	for _, extra := range cfg.Dev.Watch {
		if !filepath.IsAbs(extra) {
			extra = filepath.Join(cfg.Dir(), extra)
		}
		paths = append(paths, extra)
	}
	watcher := NewWatcher(WatcherConfig{
		Paths:  paths,
		Ignore: append(append([]string{}, DefaultIgnore...), cfg.Dev.Ignore...),
	})

	reload := NewReloadServer()

	registry := options.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Server{
		config:  cfg,
		options: options,
		session: session,
		watcher: watcher,
		reload:  reload,
		orch:    NewOrchestrator(cfg.OutputPath()),
		metrics: NewMetrics(registry, reload),
	}
}

// Start builds, deploys, and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	logLine("Building...")
	s.rebuild(ctx)

	s.changeCh = make(chan Change, 64)
	s.watcher.OnChange(func(change Change) {
		select {
		case s.changeCh <- change:
		default:
		}
	})
	go s.watcher.Start(ctx)
	go s.processChanges(ctx)

	s.httpServer = &http.Server{
		Addr:    s.config.DevAddress(),
		Handler: s.router(),
	}

	logLine("Dev server running at %s", s.config.DevURL())

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Stop shuts down the watcher, every block process, and the HTTP
// listener.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.watcher.Stop()
	s.orch.Shutdown()
	s.reload.Close()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(traceMiddleware)

	r.Get(ReloadPath, s.reload.ServeHTTP)
	r.Get("/__tova_status", s.statusHandler)
	if gatherer, ok := s.options.Registry.(prometheus.Gatherer); ok {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.HandleFunc("/*", s.proxyHandler)

	return r
}

// processChanges serializes change handling. Events arriving during an
// in-flight rebuild accumulate in the channel and are drained into the
// next batch, never a concurrent rebuild.
func (s *Server) processChanges(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-s.changeCh:
			changes := []Change{change}
			draining := true
			for draining {
				select {
				case next := <-s.changeCh:
					changes = append(changes, next)
				default:
					draining = false
				}
			}
			s.handleChanges(ctx, changes)
		}
	}
}

// handleChanges runs one blue-green rebuild cycle for a batch of file
// changes.
func (s *Server) handleChanges(ctx context.Context, changes []Change) {
	var sourcePaths []string
	assetOnly := true
	for _, c := range changes {
		logLine("Changed: %s", c.Path)
		switch c.Type {
		case ChangeSource:
			sourcePaths = append(sourcePaths, c.Path)
			assetOnly = false
		case ChangeConfig:
			logLine("tova.json changed; restart the dev server to apply it")
		default:
		}
	}

	if assetOnly {
		s.notifyReload()
		return
	}

	affected := s.session.Invalidate(sourcePaths...)
	logLine("Rebuilding %d module(s)...", len(affected))
	s.rebuild(ctx)
}

// rebuild compiles everything and, only on full success, swaps the
// running processes and notifies browsers. On failure the previous
// deployment keeps serving.
func (s *Server) rebuild(ctx context.Context) {
	start := time.Now()

	var result *build.Result
	err := traceRebuild(ctx, func(ctx context.Context) (int, error) {
		r, err := s.session.Build(ctx)
		if err != nil {
			return 0, err
		}
		result = r
		return r.Failed(), nil
	})

	ok := err == nil && result != nil && result.Failed() == 0
	s.metrics.RecordBuild(ok, time.Since(start))
	if s.options.OnBuildComplete != nil && result != nil {
		s.options.OnBuildComplete(result)
	}

	if err != nil {
		logError("Build failed: %v", err)
		return
	}
	if result.Failed() > 0 {
		for _, u := range result.Units {
			if u.Err != nil {
				logError("%s: %v", u.Name, u.Err)
			}
		}
		logError("%d unit(s) failed; previous deployment keeps serving", result.Failed())
		return
	}

	logLine("Built in %s", result.Duration.Round(time.Millisecond))

	if err := s.deploy(ctx, result); err != nil {
		logError("Deploy failed: %v", err)
		return
	}
	s.notifyReload()
}

// deploy starts processes for the primary application unit's server
// blocks.
func (s *Server) deploy(ctx context.Context, result *build.Result) error {
	unit := s.primaryUnit(result)
	if unit == nil {
		// Nothing to run; a library-only project still gets reloads.
		return nil
	}

	blocks := unit.Blocks
	if len(blocks) == 0 {
		var err error
		blocks, err = s.session.BlocksFor(unit.Dir)
		if err != nil {
			return err
		}
	}
	if len(blocks) == 0 {
		return nil
	}

	artifacts, err := blockArtifacts(unit)
	if err != nil {
		return err
	}
	if err := s.orch.Deploy(ctx, blocks, artifacts); err != nil {
		return err
	}

	s.metrics.SetProcesses(len(blocks))
	s.mu.Lock()
	s.primaryPort = blocks[0].Port
	s.mu.Unlock()
	logLine("Serving %d block(s), primary on :%d", len(blocks), blocks[0].Port)
	return nil
}

// primaryUnit picks the unit whose blocks are spawned: the configured
// entry file's unit, or the first application unit otherwise.
func (s *Server) primaryUnit(result *build.Result) *build.UnitResult {
	if entry := s.config.EntryPath(); entry != "" {
		entryDir := filepath.Dir(entry)
		for _, u := range result.Units {
			if u.Dir == entryDir {
				return u
			}
		}
	}
	for _, u := range result.Units {
		if u.Err == nil && u.Kind == compiler.ModuleApplication {
			return u
		}
	}
	return nil
}

// blockArtifacts maps block names to their emitted server artifacts.
func blockArtifacts(unit *build.UnitResult) (map[string]string, error) {
	artifacts := map[string]string{}
	for _, out := range unit.Outputs {
		base := filepath.Base(out)
		if strings.HasSuffix(base, ".map") {
			continue
		}
		if base == unit.Name+".server.js" {
			artifacts[""] = out
			continue
		}
		prefix := unit.Name + ".server."
		if strings.HasPrefix(base, prefix) && strings.HasSuffix(base, ".js") {
			name := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".js")
			artifacts[name] = out
		}
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("unit %s has no server artifacts", unit.Name)
	}
	return artifacts, nil
}

func (s *Server) notifyReload() {
	s.reload.NotifyReload()
	if s.options.OnReload != nil {
		s.options.OnReload(s.reload.ClientCount())
	}
	logLine("Reloaded %d browser(s)", s.reload.ClientCount())
}

// statusHandler reports the running deployment as JSON.
func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	type blockStatus struct {
		Name string `json:"name"`
		Port int    `json:"port"`
	}
	var blocks []blockStatus
	for _, p := range s.orch.Processes() {
		blocks = append(blocks, blockStatus{Name: p.Block.Label(), Port: p.Block.Port})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"blocks":         blocks,
		"reload_clients": s.reload.ClientCount(),
	})
}

// proxyHandler forwards browser traffic to the primary block, injecting
// the reload client into HTML responses.
func (s *Server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	port := s.primaryPort
	s.mu.Unlock()

	if port == 0 {
		s.unavailable(w)
		return
	}

	target, _ := url.Parse(fmt.Sprintf("http://localhost:%d", port))
	proxy := httputil.NewSingleHostReverseProxy(target)

	proxy.ModifyResponse = func(resp *http.Response) error {
		if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return nil
		}
		return injectScript(resp, DevClientScript)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
		s.unavailable(w)
	}

	proxy.ServeHTTP(w, r)
}

func (s *Server) unavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Tova Dev Server</title></head>
<body style="font-family: system-ui; padding: 40px; background: #1a1a1a; color: #fff;">
<h1 style="color: #ff5555;">Application Not Running</h1>
<p>No server block is responding. This could mean:</p>
<ul>
<li>The first build is still in progress</li>
<li>There was a build error (check your terminal)</li>
<li>The block process crashed on startup</li>
</ul>
<p style="color: #888;">The page reloads automatically when a block is ready.</p>
%s
</body>
</html>`, DevClientScript)
}

// injectScript rewrites an HTML response body to include script just
// before the closing body tag, falling back to appending it.
func injectScript(resp *http.Response, script string) error {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	html := string(body)
	if idx := strings.LastIndex(html, "</body>"); idx >= 0 {
		html = html[:idx] + script + html[idx:]
	} else {
		html += script
	}

	resp.Body = io.NopCloser(strings.NewReader(html))
	resp.ContentLength = int64(len(html))
	resp.Header.Set("Content-Length", fmt.Sprintf("%d", len(html)))
	return nil
}

func logLine(format string, args ...any) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Printf("[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

func logError(format string, args ...any) {
	timestamp := time.Now().Format("15:04:05")
	fmt.Fprintf(os.Stderr, "[%s] \033[31m%s\033[0m\n", timestamp, fmt.Sprintf(format, args...))
}
