// Package assembler joins semi-triplets produced by the change-log
// ingester or the crawlers into full triplets, deduplicating by canonical
// name so that the processor sees each key exactly once.
package assembler

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/crawler"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

// Assembler holds the collaborators both modes need: the database (to
// enrich change-log semis that only carry a remote id), the CMIS session
// (to resolve a local-only item's mirror path in crawler mode), and the
// dependency graph (to merge in remote-only folder dependencies).
type Assembler struct {
	cfg     *config.Config
	store   *store.Database
	session cmis.Session
	deps    *depgraph.Graph
}

// New builds an Assembler.
func New(cfg *config.Config, st *store.Database, session cmis.Session, deps *depgraph.Graph) *Assembler {
	return &Assembler{cfg: cfg, store: st, session: session, deps: deps}
}

// AssembleChangeLog passes the ingester's already near-complete
// semi-triplets through, enriching with the DB view via GetPathById when
// the ingester only had a remote id to go on (the Created/Security path).
func (a *Assembler) AssembleChangeLog(ctx context.Context, semis []triplet.Semi, out chan<- *triplet.Triplet) error {
	for _, s := range semis {
		full := &triplet.Triplet{Name: s.Name, Kind: s.Kind, Local: s.Local, DB: s.DB, Remote: s.Remote}

		if full.DB == nil && full.Remote != nil {
			localPath, ok, err := a.store.GetPathById(full.Remote.ID)
			if err != nil {
				return fmt.Errorf("assembler: enrich %s: %w", s.Name, err)
			}
			if ok {
				dbView, err := a.store.GetDBView(localPath)
				if err != nil {
					return fmt.Errorf("assembler: load db view for %s: %w", localPath, err)
				}
				full.DB = dbView
			}
		}

		if err := sendTriplet(ctx, out, full); err != nil {
			return err
		}
	}
	return nil
}

// AssembleCrawl runs local against an inline consumer loop and remote
// concurrently, joining their output into full triplets. It returns once
// both crawlers have finished and every discovered key has been emitted
// exactly once.
func (a *Assembler) AssembleCrawl(ctx context.Context, local *crawler.Local, remote *crawler.Remote, out chan<- *triplet.Triplet) error {
	semiCh := make(chan triplet.Semi, a.cfg.QueueCapacity)

	remoteDone := make(chan error, 1)
	go func() { remoteDone <- remote.Crawl(ctx) }()

	localDone := make(chan error, 1)
	go func() {
		defer close(semiCh)
		localDone <- local.Crawl(ctx, semiCh)
	}()

	buffer := remote.Buffer()
	processed := make(map[triplet.Name]bool)

	for semi := range semiCh {
		var remoteView *triplet.RemoteView
		// A case-collision duplicate never claims the real remote object;
		// it is handled as a local-only conflict by the processor.
		if !semi.CaseCollision {
			if rv, ok := buffer.Get(semi.Name); ok {
				remoteView = rv
			} else {
				remoteView = a.lookupMirror(ctx, semi)
			}
		}

		full := &triplet.Triplet{Name: semi.Name, Kind: semi.Kind, Local: semi.Local, DB: semi.DB, Remote: remoteView, CaseCollision: semi.CaseCollision}
		processed[semi.Name] = true
		if err := sendTriplet(ctx, out, full); err != nil {
			return err
		}
	}
	if err := <-localDone; err != nil {
		return fmt.Errorf("assembler: local crawl: %w", err)
	}

	if err := <-remoteDone; err != nil {
		return fmt.Errorf("assembler: remote crawl: %w", err)
	}

	for _, name := range buffer.OrderedNames() {
		if processed[name] {
			continue
		}
		rv, ok := buffer.Get(name)
		if !ok {
			continue
		}
		full := &triplet.Triplet{Name: name, Kind: rv.Kind, Remote: rv}

		if rv.Kind == triplet.Folder {
			for _, child := range remote.Deps.DependenciesOf(string(name)) {
				a.deps.Add(string(name), child)
			}
		}

		if err := sendTriplet(ctx, out, full); err != nil {
			return err
		}
	}

	buffer.Clear()
	return nil
}

// lookupMirror performs the direct GetObjectByPath fallback for a local
// semi-triplet the remote crawler's buffer has not (yet) recorded. A
// not-found response means the item is local-only; nil is returned rather
// than an error.
func (a *Assembler) lookupMirror(ctx context.Context, semi triplet.Semi) *triplet.RemoteView {
	path := assumedMirrorPath(semi.Name)
	if semi.DB != nil && semi.DB.RemotePath != "" {
		path = semi.DB.RemotePath
	}

	obj, err := a.session.GetObjectByPath(ctx, path)
	if err != nil {
		return nil
	}

	kind := triplet.Document
	if obj.Kind == cmis.Folder {
		kind = triplet.Folder
	}
	session := a.session
	id := obj.ID
	return &triplet.RemoteView{
		ID:       obj.ID,
		Path:     obj.Path,
		Checksum: obj.Checksum,
		Size:     obj.Size,
		ModTime:  obj.ModTime,
		Kind:     kind,
		Content: func() (io.ReadCloser, error) {
			return session.DownloadContent(ctx, id)
		},
	}
}

// assumedMirrorPath derives the remote path a local relative path would
// have if it mirrors the server 1:1, used when no DBView.RemotePath is on
// record (the item has never been synced before).
func assumedMirrorPath(name triplet.Name) string {
	return "/" + strings.TrimSuffix(string(name), "/")
}

func sendTriplet(ctx context.Context, out chan<- *triplet.Triplet, t *triplet.Triplet) error {
	select {
	case out <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
