// Package syncengine wires the full triplet pipeline together: pick the
// change-log path when a prior token exists and the server still honors
// it, fall back to a full crawler-driven sync otherwise, and hand either
// path's full triplets to the processor's worker pool. It also owns the
// background loops that decide *when* to run: an initial sync at startup,
// a periodic poll, and the file watcher's debounced change notifications.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rjeczalik/notify"

	"github.com/cmissync/core/internal/assembler"
	"github.com/cmissync/core/internal/changelog"
	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/crawler"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/ignore"
	"github.com/cmissync/core/internal/processor"
	"github.com/cmissync/core/internal/queue"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

// ErrSyncAlreadyRunning is returned by RunSync when a run is already in
// flight; the caller's trigger is simply dropped since the in-flight run
// will pick up whatever prompted it.
var ErrSyncAlreadyRunning = errors.New("sync already running")

// ErrRunHadFailures is returned when the processor ran to completion but at
// least one triplet permanently failed. The change log token is never
// advanced in this case (spec §7/§8): the failed item(s) are still unknown
// to the server's delta stream on the next run, so the next change-log
// pass (or full crawl, once escalated) gets another chance at them.
var ErrRunHadFailures = errors.New("sync run completed with failures")

// Watcher is the subset of *watcher.Watcher the engine consumes. Declared
// as an interface so tests can supply a fake event source instead of a
// real filesystem watch.
type Watcher interface {
	Start(ctx context.Context) error
	Stop()
	Events() <-chan notify.EventInfo
}

// Engine is the top-level orchestrator. One Engine drives one sync root.
type Engine struct {
	cfg     *config.Config
	store   *store.Database
	session cmis.Session
	ignore  *ignore.List // optional
	watch   Watcher      // optional; nil disables the watcher trigger loop
	log     *slog.Logger

	triggers *queue.PriorityQueue[TriggerReason]
	wake     chan struct{}

	wg     sync.WaitGroup
	muSync sync.Mutex
}

// New builds an Engine. ignoreList and w may be nil (no path filtering, no
// filesystem watcher respectively); log nil falls back to slog.Default().
func New(cfg *config.Config, st *store.Database, session cmis.Session, ignoreList *ignore.List, w Watcher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		session:  session,
		ignore:   ignoreList,
		watch:    w,
		log:      log,
		triggers: queue.NewPriorityQueue[TriggerReason](),
		wake:     make(chan struct{}, 1),
	}
}

// Start runs one synchronous initial sync (when configured), then spawns
// the background trigger loops and returns. It does not block; callers
// wait on ctx cancellation or call Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.log.Info("syncengine: start")

	if e.cfg.SyncAtStartup {
		e.log.Info("syncengine: running initial sync")
		if err := e.RunSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("syncengine: initial sync failed", "error", err)
		}
	}

	if e.watch != nil {
		if err := e.watch.Start(ctx); err != nil {
			return fmt.Errorf("syncengine: start watcher: %w", err)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	if e.watch != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.watchLoop(ctx)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.triggerLoop(ctx)
	}()

	return nil
}

// Stop waits for the background loops to exit. The caller is expected to
// have already cancelled the context it passed to Start.
func (e *Engine) Stop() {
	if e.watch != nil {
		e.watch.Stop()
	}
	e.wg.Wait()
}

// TriggerSync enqueues a manual sync request and wakes the trigger loop
// without blocking the caller.
func (e *Engine) TriggerSync() {
	e.enqueue(TriggerManual)
}

// pollLoop fires a periodic full-sync trigger. A Timer, not a Ticker, is
// used so a slow run never leaves queued-up ticks behind it.
func (e *Engine) pollLoop(ctx context.Context) {
	timer := time.NewTimer(e.cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.enqueue(TriggerPoll)
			timer.Reset(e.cfg.PollInterval)
		}
	}
}

// watchLoop drains the filesystem watcher's event channel, translating
// every event into a trigger. The watcher is only ever an external signal
// here — its events are never inspected for per-path diffing, that is the
// crawlers'/change-log's job.
func (e *Engine) watchLoop(ctx context.Context) {
	events := e.watch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			e.enqueue(TriggerWatcher)
		}
	}
}

// triggerLoop wakes whenever a trigger is enqueued, drains every trigger
// queued since the last run (coalescing a burst into one pass), and runs
// one sync. The queue's priority ordering only matters for which reason
// gets logged as the cause; the run itself always reconciles everything.
func (e *Engine) triggerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			reasons := e.triggers.DequeueAll()
			if len(reasons) == 0 {
				continue
			}
			e.log.Debug("syncengine: sync triggered", "reasons", reasons, "count", len(reasons))
			if err := e.RunSync(ctx); err != nil && !errors.Is(err, ErrSyncAlreadyRunning) && !errors.Is(err, context.Canceled) {
				e.log.Error("syncengine: triggered sync failed", "error", err)
			}
		}
	}
}

func (e *Engine) enqueue(reason TriggerReason) {
	e.triggers.Enqueue(reason, priorityFor(reason))
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// RunSync performs one full pass: change-log path first, escalating to a
// full crawler-driven sync when the log is unusable or this is the first
// run ever. Concurrent calls collapse into ErrSyncAlreadyRunning rather
// than running two passes over the same triplets at once.
func (e *Engine) RunSync(ctx context.Context) error {
	if !e.muSync.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer e.muSync.Unlock()

	runID := uuid.NewString()
	log := e.log.With("run_id", runID)
	tStart := time.Now()

	deps := depgraph.New()
	ing := changelog.New(e.session, e.store, deps, e.cfg, e.ignore)
	result, err := ing.Run(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: change log run: %w", err)
	}

	switch result.Status {
	case changelog.Synced:
		log.Debug("syncengine: already up to date")
		return nil
	case changelog.EscalateToFull:
		log.Info("syncengine: escalating to full crawl", "reason", result.Reason)
		if err := e.runFullCrawl(ctx, deps); err != nil {
			return err
		}
	case changelog.Incremental:
		if err := e.runIncremental(ctx, deps, result); err != nil {
			return err
		}
	}

	log.Info("syncengine: sync complete", "status", result.Status.String(), "elapsed", time.Since(tStart))
	return nil
}

// runIncremental assembles the change-log semi-triplets and drains them
// through the processor, advancing the persisted token only once every
// triplet has been handled.
func (e *Engine) runIncremental(ctx context.Context, deps *depgraph.Graph, result *changelog.Result) error {
	asm := assembler.New(e.cfg, e.store, e.session, deps)
	full := make(chan *triplet.Triplet, e.cfg.QueueCapacity)

	var assembleErr error
	go func() {
		assembleErr = asm.AssembleChangeLog(ctx, result.Triplets, full)
		close(full)
	}()

	proc := processor.New(e.cfg, e.store, e.session, deps, e.log)
	if err := proc.Run(ctx, full); err != nil {
		return fmt.Errorf("syncengine: processor: %w", err)
	}
	if assembleErr != nil {
		return fmt.Errorf("syncengine: assemble change log: %w", assembleErr)
	}
	if proc.HadFailures() {
		e.log.Warn("syncengine: not advancing change log token, run had failures")
		return ErrRunHadFailures
	}

	return e.store.SetChangeLogToken(result.NewToken)
}

// runFullCrawl walks both trees, assembles full triplets from scratch, and
// drains them through the processor. On success it re-baselines the change
// log token against the server's current value so the next run can take
// the incremental path again.
func (e *Engine) runFullCrawl(ctx context.Context, deps *depgraph.Graph) error {
	local := crawler.NewLocal(e.cfg.LocalRoot, e.store, e.ignore, e.cfg.IgnoreIfSameLowercaseNames)
	remote := crawler.NewRemote(e.session, e.cfg.RootFolderID, e.ignore, e.cfg.IgnoreIfSameLowercaseNames)
	asm := assembler.New(e.cfg, e.store, e.session, deps)

	full := make(chan *triplet.Triplet, e.cfg.QueueCapacity)
	var assembleErr error
	go func() {
		assembleErr = asm.AssembleCrawl(ctx, local, remote, full)
		close(full)
	}()

	proc := processor.New(e.cfg, e.store, e.session, deps, e.log)
	if err := proc.Run(ctx, full); err != nil {
		return fmt.Errorf("syncengine: processor: %w", err)
	}
	if assembleErr != nil {
		return fmt.Errorf("syncengine: assemble crawl: %w", assembleErr)
	}
	if proc.HadFailures() {
		e.log.Warn("syncengine: not rebaselining change log token, run had failures")
		return ErrRunHadFailures
	}

	token, err := e.session.GetChangeLogToken(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: rebaseline change log token: %w", err)
	}
	return e.store.SetChangeLogToken(token)
}
