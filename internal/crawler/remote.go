package crawler

import (
	"context"
	"io"
	gopath "path"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/ignore"
	"github.com/cmissync/core/internal/triplet"
)

// Remote walks the remote tree depth-first via Session.GetChildren,
// inserting every entry into a shared ordered Buffer. It also builds its
// own dependency graph (mirroring internal/depgraph's shape) recording
// that a remote folder depends on each of its remote children, so that a
// folder empty-on-server-but-recorded-here is still visible to the
// assembler as a candidate pure-remote deletion.
type Remote struct {
	Session      cmis.Session
	RootFolderID string
	Ignore       *ignore.List // optional
	FoldCase     bool

	buffer *Buffer
	// Deps is the remote-only dependency bookkeeping the crawler builds
	// alongside the buffer (spec's r_idps). The assembler merges the
	// entries relevant to remote-only folders into the main dependency
	// graph after the crawl completes.
	Deps *depgraph.Graph
}

// NewRemote builds a RemoteCrawler with a fresh buffer and dependency
// graph. ignoreList may be nil.
func NewRemote(session cmis.Session, rootFolderID string, ignoreList *ignore.List, foldCase bool) *Remote {
	return &Remote{
		Session:      session,
		RootFolderID: rootFolderID,
		Ignore:       ignoreList,
		FoldCase:     foldCase,
		buffer:       NewBuffer(),
		Deps:         depgraph.New(),
	}
}

// Buffer returns the ordered buffer entries are inserted into.
func (c *Remote) Buffer() *Buffer {
	return c.buffer
}

// Crawl walks the remote tree from RootFolderID to completion.
func (c *Remote) Crawl(ctx context.Context) error {
	return c.walk(ctx, c.RootFolderID, "")
}

func (c *Remote) walk(ctx context.Context, folderID, relPrefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	children, err := c.Session.GetChildren(ctx, folderID)
	if err != nil {
		return err
	}

	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath := child.Name
		if relPrefix != "" {
			relPath = gopath.Join(relPrefix, child.Name)
		}
		if c.Ignore != nil && c.Ignore.ShouldIgnore(relPath) {
			continue
		}

		kind := triplet.Document
		if child.Kind == cmis.Folder {
			kind = triplet.Folder
		}
		name := triplet.Canonical(relPath, kind, c.FoldCase)

		id := child.ID
		session := c.Session
		rv := &triplet.RemoteView{
			ID:       child.ID,
			Path:     child.Path,
			Checksum: child.Checksum,
			Size:     child.Size,
			ModTime:  child.ModTime,
			Kind:     kind,
			Content: func() (io.ReadCloser, error) {
				return session.DownloadContent(ctx, id)
			},
		}
		c.buffer.Add(name, rv)

		if relPrefix != "" {
			parent := triplet.Canonical(relPrefix, triplet.Folder, c.FoldCase)
			c.Deps.Add(string(parent), string(name))
		}

		if kind == triplet.Folder {
			if err := c.walk(ctx, child.ID, relPath); err != nil {
				return err
			}
		}
	}
	return nil
}
