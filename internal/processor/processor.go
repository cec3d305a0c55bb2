// Package processor implements the worker pool that drains full triplets
// off the assembler and runs the ten-row decision table against each:
// upload, download, no-op, conflict (keep both), or delete, gated by the
// dependency graph so a folder is never removed before its children.
package processor

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/marker"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

// maxTransientRetries bounds how many times a single triplet is requeued
// after a transient transport error before the run gives up on it and
// reports Fail to the dependency graph.
const maxTransientRetries = 3

// requeueBackoff is the pause before a requeued triplet is handed back to
// a worker, long enough to let a sibling worker finish the parent folder
// it may be waiting on without busy-spinning the queue.
const requeueBackoff = 20 * time.Millisecond

// Processor drains a channel of full triplets and applies the decision
// table. Safe for concurrent use by its own worker pool only — do not
// share one Processor's internal state across two concurrent Run calls.
type Processor struct {
	cfg     *config.Config
	store   *store.Database
	session cmis.Session
	deps    *depgraph.Graph
	log     *slog.Logger

	// failed counts triplets that permanently failed (exhausted transient
	// retries, or a non-transient action error) during Run. The dependency
	// graph alone can't answer this: Graph.Remove is a no-op for root-level
	// items (parent==""), so a failure at the sync root would otherwise go
	// unseen by anything consulting the graph.
	failed int64
}

// New builds a Processor. log may be nil, in which case slog.Default() is
// used, matching the teacher's convention of a nil logger meaning "use
// the global default".
func New(cfg *config.Config, st *store.Database, session cmis.Session, deps *depgraph.Graph, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{cfg: cfg, store: st, session: session, deps: deps, log: log}
}

func (p *Processor) logger() *slog.Logger { return p.log }

// HadFailures reports whether any triplet permanently failed during Run.
// Callers must not treat the run as fully succeeded when this is true —
// in particular, the change-log token must not advance (spec §7/§8: the
// token only advances once every emitted triplet has succeeded).
func (p *Processor) HadFailures() bool {
	return atomic.LoadInt64(&p.failed) > 0
}

// Run consumes in until it is closed and the dependency graph reports no
// outstanding folder-delete preconditions, then returns. A single
// unrecoverable error (local database corruption) aborts the whole run;
// per-triplet failures are logged and reported to the dependency graph
// instead of aborting.
func (p *Processor) Run(ctx context.Context, in <-chan *triplet.Triplet) error {
	workers := p.cfg.WorkerCount
	if workers <= 0 {
		workers = config.DefaultWorkerCount
	}
	capacity := p.cfg.QueueCapacity
	if capacity <= 0 {
		capacity = config.DefaultQueueCapacity
	}

	workCh := make(chan *triplet.Triplet, capacity)
	var inFlight int64
	var inputDone int32

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer atomic.StoreInt32(&inputDone, 1)
		for t := range in {
			atomic.AddInt64(&inFlight, 1)
			select {
			case workCh <- t:
			case <-egCtx.Done():
				atomic.AddInt64(&inFlight, -1)
				return egCtx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			return p.worker(egCtx, workCh, &inFlight)
		})
	}

	eg.Go(func() error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if atomic.LoadInt32(&inputDone) == 1 && atomic.LoadInt64(&inFlight) == 0 && p.deps.Empty() {
					close(workCh)
					return nil
				}
			case <-egCtx.Done():
				return nil
			}
		}
	})

	return eg.Wait()
}

func (p *Processor) worker(ctx context.Context, workCh chan *triplet.Triplet, inFlight *int64) error {
	for {
		select {
		case t, ok := <-workCh:
			if !ok {
				return nil
			}
			requeue, backoff, fatal := p.handle(ctx, t)
			if fatal != nil {
				return fatal
			}
			if requeue {
				time.Sleep(backoff)
				select {
				case workCh <- t:
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			atomic.AddInt64(inFlight, -1)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handle runs the dependency gate, executes the classified action, and
// resolves the triplet's own dependency edge (the one its parent folder,
// if any, is waiting on) before returning. requeue=true means the caller
// must hand t back to the queue unresolved; fatal aborts the whole run.
func (p *Processor) handle(ctx context.Context, t *triplet.Triplet) (requeue bool, backoff time.Duration, fatal error) {
	if t.CaseCollision {
		p.resolveCaseCollision(t)
		p.deps.Remove(string(parentOf(t.Name)), string(t.Name), depgraph.Succeed)
		return false, 0, nil
	}

	a := classify(t)

	if isDeleteAction(a) && t.IsFolder() {
		if p.deps.Failed(string(t.Name)) {
			p.log.Warn("processor: folder has a permanently failed child, skipping delete", "name", t.Name)
			p.deps.Remove(string(parentOf(t.Name)), string(t.Name), depgraph.Fail)
			atomic.AddInt64(&p.failed, 1)
			return false, 0, nil
		}
		if !p.deps.IsReady(string(t.Name)) {
			return true, requeueBackoff, nil
		}
	}

	execErr := p.execute(ctx, t, a)

	outcome := depgraph.Succeed
	if execErr != nil {
		if errors.Is(execErr, cmis.ErrDBCorruption) {
			return false, 0, execErr
		}
		if cmis.IsTransient(execErr) {
			count, cerr := p.store.IncrementErrorCount(p.localPathFor(t))
			if cerr == nil && count <= maxTransientRetries {
				wait := transientBackoff(count)
				p.log.Warn("processor: transient error, retrying", "name", t.Name, "action", a, "attempt", count, "wait", wait, "error", execErr)
				return true, wait, nil
			}
			p.log.Error("processor: giving up after repeated transient errors", "name", t.Name, "action", a, "error", execErr)
		} else {
			p.log.Error("processor: action failed", "name", t.Name, "action", a, "error", execErr)
		}
		outcome = depgraph.Fail
		atomic.AddInt64(&p.failed, 1)
	}

	p.deps.Remove(string(parentOf(t.Name)), string(t.Name), outcome)
	return false, 0, nil
}

// transientBackoff is the exponential backoff per spec.md §7's
// "TransportTransient — retry up to N times with exponential backoff"
// rule, capped so a slow-growing retry never stalls a worker for long.
func transientBackoff(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	return requeueBackoff * time.Duration(1<<uint(attempt))
}

// resolveCaseCollision forces the keep-both rename for a local file whose
// name only differs by case from one already claimed this run, instead of
// running the normal decision table on it. As with conflict(), the renamed
// copy is not recorded in the database and is not uploaded.
func (p *Processor) resolveCaseCollision(t *triplet.Triplet) {
	if t.Local == nil {
		return
	}
	renamed, err := marker.Set(t.Local.AbsPath, marker.Conflict)
	if err != nil {
		p.log.Error("processor: failed to rename case-colliding local file", "name", t.Name, "path", t.Local.AbsPath, "error", err)
		return
	}
	p.log.Warn("processor: case collision, renamed local copy", "name", t.Name, "renamed_to", renamed)
}

type md5Hasher struct{ h hash.Hash }

func newHasher() md5Hasher { return md5Hasher{h: md5.New()} }

func (m md5Hasher) Write(p []byte) (int, error) { return m.h.Write(p) }
func (m md5Hasher) sum() string                 { return fmt.Sprintf("%x", m.h.Sum(nil)) }

func hashPath(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := md5.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
