// Package reload implements the ReloadCoordinator of spec.md §4.10: the
// gate/drain/swap protocol that replaces an entire ReloadGeneration (the
// Registry, SecretMap, SqlEngine and the ExecutionEngine built on top of
// them) atomically and without dropping in-flight calls.
//
// The swap itself is grounded on a standard Go pattern (atomic.Pointer
// compare-and-swap of an immutable snapshot); the trigger plumbing is
// grounded on two pack examples: giantswarm-muster's
// internal/reconciler/filesystem_detector.go for debounced fsnotify
// handling, and toolhive's cmd/vmcp/main.go for signal-driven lifecycle
// control (generalized here from one-shot shutdown cancellation to a
// continuous SIGHUP reload trigger).
package reload

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/secrets"
	"github.com/mxcp-io/mxcp-core/internal/sqlengine"
)

// Generation is one immutable bundle of the gateway's request-serving
// components. A request acquires a Generation for its whole lifetime so a
// reload mid-request never hands it a half-swapped set of dependencies.
type Generation struct {
	Seq      int64
	Registry *registry.Registry
	Engine   *execution.Engine
	Secrets  *secrets.Resolver
	SQL      *sqlengine.Engine
	BuiltAt  time.Time

	wg sync.WaitGroup
}

func (g *Generation) acquire() { g.wg.Add(1) }
func (g *Generation) release() { g.wg.Done() }

func (g *Generation) close() {
	if g.SQL == nil {
		return
	}
	if err := g.SQL.Close(); err != nil {
		logger.Errorw("reload: failed to close superseded generation's SQL engine", "seq", g.Seq, "err", err)
	}
}

// BuildFunc constructs a fresh Generation by re-reading the registry
// directory, re-resolving secrets and re-opening (or reusing) the SQL
// engine. It must not mutate anything the currently-serving Generation holds.
type BuildFunc func(ctx context.Context) (*Generation, error)

// Coordinator owns the currently-serving Generation and mediates reloads.
type Coordinator struct {
	ptr     atomic.Pointer[Generation]
	buildMu sync.Mutex
	build   BuildFunc
	seq     atomic.Int64
}

// New creates a Coordinator and performs the first build synchronously, so
// the gateway never serves before having at least one Generation.
func New(ctx context.Context, build BuildFunc) (*Coordinator, error) {
	c := &Coordinator{build: build}
	gen, err := build(ctx)
	if err != nil {
		return nil, err
	}
	gen.Seq = c.seq.Add(1)
	gen.BuiltAt = time.Now()
	recordReload(ctx, gen)
	c.ptr.Store(gen)
	return c, nil
}

// recordReload logs this generation's arrival into its own SQL engine's
// mxcp_reload_log table, so an operator's endpoint SQL can query reload
// history the same way it queries any other table. A failure here is
// logged, not fatal: the generation still serves even if the bookkeeping
// write fails.
func recordReload(ctx context.Context, gen *Generation) {
	if gen.SQL == nil {
		return
	}
	endpointCount := len(gen.Registry.List(registry.KindTool)) +
		len(gen.Registry.List(registry.KindResource)) +
		len(gen.Registry.List(registry.KindPrompt))
	if err := gen.SQL.RecordReload(ctx, gen.Seq, gen.BuiltAt, endpointCount); err != nil {
		logger.Errorw("reload: failed to record reload log entry", "seq", gen.Seq, "err", err)
	}
}

// Acquire pins the currently-serving Generation for the duration of one
// call and returns a release func the caller must defer-call exactly once.
// Acquiring never blocks: a reload in progress does not gate new traffic,
// it only delays when the superseded Generation's resources are closed.
func (c *Coordinator) Acquire() (*Generation, func()) {
	gen := c.ptr.Load()
	gen.acquire()
	return gen, gen.release
}

// Current returns the currently-serving Generation without pinning it,
// for read-only introspection (e.g. the admin /status endpoint).
func (c *Coordinator) Current() *Generation {
	return c.ptr.Load()
}

// Reload builds a new Generation and swaps it in. The previous Generation
// keeps serving any calls that had already acquired it; once those drain,
// its resources (the SQL engine's connection pool) are closed in the
// background. Reload calls are serialized: a reload already in flight is
// finished before a new one starts building.
func (c *Coordinator) Reload(ctx context.Context) error {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	next, err := c.build(ctx)
	if err != nil {
		return err
	}
	next.Seq = c.seq.Add(1)
	next.BuiltAt = time.Now()
	recordReload(ctx, next)

	previous := c.ptr.Swap(next)
	logger.Infow("reload: swapped generation", "new_seq", next.Seq)

	if previous != nil {
		go func() {
			previous.wg.Wait()
			previous.close()
			logger.Infow("reload: closed superseded generation", "seq", previous.Seq)
		}()
	}
	return nil
}

// WatchSignals reloads on SIGHUP until ctx is canceled. sig receives one
// value per SIGHUP; the caller owns the signal.Notify wiring and forwards
// each signal onto sig, so cmd/mxcpd's top-level signal handling stays in
// one place.
func (c *Coordinator) WatchSignals(ctx context.Context, sig <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			logger.Info("reload: SIGHUP received, reloading")
			if err := c.Reload(ctx); err != nil {
				logger.Errorw("reload: SIGHUP-triggered reload failed", "err", err)
			}
		}
	}
}

// WatchFilesystem watches dir for YAML changes and triggers a debounced
// reload, the same "coalesce rapid edits into one rebuild" behavior as
// giantswarm-muster's FilesystemDetector. The returned stop func closes the
// underlying watcher; it must be called once the caller is done.
func (c *Coordinator) WatchFilesystem(ctx context.Context, dir string, debounce time.Duration) (stop func() error, err error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go c.watchLoop(ctx, watcher, debounce)

	return watcher.Close, nil
}

func (c *Coordinator) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration) {
	var mu sync.Mutex
	var timer *time.Timer

	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			logger.Info("reload: configuration change detected, reloading")
			if err := c.Reload(ctx); err != nil {
				logger.Errorw("reload: filesystem-triggered reload failed", "err", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			scheduleReload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Errorw("reload: filesystem watcher error", "err", err)
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
