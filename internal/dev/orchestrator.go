package dev

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tova-lang/tova/internal/build"
	"github.com/tova-lang/tova/internal/errors"
)

// Process is a handle on one running server block.
type Process interface {
	// Stop terminates the process, waiting for exit (forced kill after a
	// bounded grace period) so the port is released on return.
	Stop()
}

// Spawner starts server-block processes. The default spawner runs node
// against the compiled artifact; tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, block build.NamedBlock, artifact string, env []string) (Process, error)
}

// DevProcess pairs a running block with its process handle. The
// orchestrator owns it for its whole lifetime.
type DevProcess struct {
	Block    build.NamedBlock
	Artifact string
	proc     Process
}

// Orchestrator owns every spawned server-block process and performs
// blue-green replacement: processes are only ever torn down after a
// fully successful rebuild, and replacements reuse the same ports.
type Orchestrator struct {
	spawner Spawner
	workDir string

	// healthCheck probes a block's root endpoint. Injectable for tests.
	healthCheck func(url string) bool

	// healthRetries and healthDelay bound the readiness poll.
	healthRetries int
	healthDelay   time.Duration

	mu    sync.Mutex
	procs []*DevProcess
}

// NewOrchestrator creates an orchestrator spawning node processes in
// workDir.
func NewOrchestrator(workDir string) *Orchestrator {
	return &Orchestrator{
		spawner:       nodeSpawner{dir: workDir},
		workDir:       workDir,
		healthCheck:   probeRoot,
		healthRetries: 25,
		healthDelay:   200 * time.Millisecond,
	}
}

// NewOrchestratorWithSpawner creates an orchestrator around a custom
// spawner.
func NewOrchestratorWithSpawner(spawner Spawner) *Orchestrator {
	o := NewOrchestrator("")
	o.spawner = spawner
	return o
}

// Processes returns the currently running processes.
func (o *Orchestrator) Processes() []*DevProcess {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*DevProcess, len(o.procs))
	copy(out, o.procs)
	return out
}

// Deploy replaces the running deployment with a new one: every existing
// process is stopped (ports released), then one process per block is
// spawned with its assigned port, then the primary block's root endpoint
// is polled until it answers. Callers must only invoke Deploy after a
// fully successful build.
func (o *Orchestrator) Deploy(ctx context.Context, blocks []build.NamedBlock, artifacts map[string]string) error {
	o.Shutdown()

	var started []*DevProcess
	for _, block := range blocks {
		artifact, ok := artifacts[block.Name]
		if !ok {
			stopAll(started)
			return errors.New("E401").
				WithDetail(fmt.Sprintf("no artifact for block '%s'", block.Label()))
		}

		proc, err := o.spawner.Spawn(ctx, block, artifact, blockEnv(block))
		if err != nil {
			stopAll(started)
			return errors.New("E401").
				WithDetail(fmt.Sprintf("block '%s' on port %d", block.Label(), block.Port)).
				Wrap(err)
		}
		started = append(started, &DevProcess{Block: block, Artifact: artifact, proc: proc})
	}

	if len(started) > 0 {
		primary := started[0].Block
		if !o.awaitHealthy(ctx, primary) {
			stopAll(started)
			return errors.New("E402").
				WithDetail(fmt.Sprintf("block '%s' on port %d", primary.Label(), primary.Port))
		}
	}

	o.mu.Lock()
	o.procs = started
	o.mu.Unlock()
	return nil
}

// Shutdown stops every running process and waits for each to exit.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	procs := o.procs
	o.procs = nil
	o.mu.Unlock()
	stopAll(procs)
}

func (o *Orchestrator) awaitHealthy(ctx context.Context, block build.NamedBlock) bool {
	url := fmt.Sprintf("http://localhost:%d/", block.Port)
	for i := 0; i < o.healthRetries; i++ {
		if ctx.Err() != nil {
			return false
		}
		if o.healthCheck(url) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(o.healthDelay):
		}
	}
	return false
}

func stopAll(procs []*DevProcess) {
	for _, p := range procs {
		p.proc.Stop()
	}
}

// blockEnv builds a block process's environment: the inherited
// environment plus the generic port variable and the block's own
// name-derived variable.
func blockEnv(block build.NamedBlock) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, fmt.Sprintf("TOVA_PORT=%d", block.Port))
	if block.Name != "" {
		env = append(env, fmt.Sprintf("%s=%d", block.EnvVar, block.Port))
	}
	return env
}

func probeRoot(url string) bool {
	client := http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// nodeSpawner runs compiled artifacts under node.
type nodeSpawner struct {
	dir string
}

func (s nodeSpawner) Spawn(ctx context.Context, _ build.NamedBlock, artifact string, env []string) (Process, error) {
	handle, err := startProcess(ctx, artifact, s.dir, env)
	if err != nil {
		return nil, err
	}
	return nodeProcess{handle: handle}, nil
}

type nodeProcess struct {
	handle *processHandle
}

func (p nodeProcess) Stop() {
	stopProcess(p.handle)
}
