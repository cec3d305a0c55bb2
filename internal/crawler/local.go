// Package crawler implements the LocalCrawler and RemoteCrawler: the two
// depth-first walks that feed semi-triplets to the assembler when the
// change-log path is unavailable or has escalated to a full sync.
package crawler

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cmissync/core/internal/ignore"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

// Local walks the local filesystem tree rooted at Root, emitting a
// semi-triplet for every entry (LocalView, plus DBView when the database
// already knows about it), followed by one semi-triplet per DB-only row
// so that local deletions missed while the watcher wasn't running are
// still detected.
type Local struct {
	Root     string
	Store    *store.Database
	Ignore   *ignore.List // optional
	FoldCase bool
}

// NewLocal builds a LocalCrawler. ignoreList may be nil.
func NewLocal(root string, st *store.Database, ignoreList *ignore.List, foldCase bool) *Local {
	return &Local{Root: root, Store: st, Ignore: ignoreList, FoldCase: foldCase}
}

// Crawl walks the tree and sends one semi-triplet per entry to out. It
// does not close out — the assembler, which also drives the remote
// crawler, owns that.
func (c *Local) Crawl(ctx context.Context, out chan<- triplet.Semi) error {
	seen := make(map[string]bool)
	claimed := make(map[triplet.Name]string)

	walkErr := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == c.Root {
			return nil
		}
		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if c.Ignore != nil && c.Ignore.ShouldIgnore(relSlash) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		kind := triplet.Document
		if d.IsDir() {
			kind = triplet.Folder
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		local := &triplet.LocalView{AbsPath: path, Size: info.Size(), ModTime: info.ModTime(), Kind: kind}

		dbView, err := c.Store.GetDBView(relSlash)
		if err != nil {
			return fmt.Errorf("crawl local %s: %w", relSlash, err)
		}

		if !d.IsDir() && isCandidateChange(dbView, info) {
			sum, err := hashFile(path)
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			local.Checksum = sum
		}

		seen[relSlash] = true
		name := triplet.Canonical(relSlash, kind, c.FoldCase)

		// Two local entries that only differ by case fold to the same
		// canonical name under a case-insensitive server. The first claims
		// the name normally; later ones are flagged so the processor
		// forces a keep-both rename instead of silently dropping one.
		collision := false
		if c.FoldCase {
			if claimedBy, ok := claimed[name]; ok && claimedBy != relSlash {
				collision = true
			} else if !ok {
				claimed[name] = relSlash
			}
		}

		semi := triplet.Semi{
			Name:          name,
			Kind:          kind,
			Local:         local,
			DB:            dbView,
			CaseCollision: collision,
		}
		return sendSemi(ctx, out, semi)
	})
	if walkErr != nil {
		return walkErr
	}

	allPaths, err := c.Store.GetAllLocalPaths()
	if err != nil {
		return fmt.Errorf("crawl local: list db paths: %w", err)
	}
	for _, p := range allPaths {
		if seen[p] {
			continue
		}
		dbView, err := c.Store.GetDBView(p)
		if err != nil {
			return fmt.Errorf("crawl local db-only %s: %w", p, err)
		}
		if dbView == nil {
			continue
		}
		semi := triplet.Semi{
			Name: triplet.Canonical(p, dbView.Kind, c.FoldCase),
			Kind: dbView.Kind,
			DB:   dbView,
		}
		if err := sendSemi(ctx, out, semi); err != nil {
			return err
		}
	}
	return nil
}

// isCandidateChange reports whether a file's mtime against the last
// recorded state makes it worth the cost of hashing (size is not compared). Mtime alone is never
// authoritative for the final decision (the processor still compares
// checksums), but it is a cheap enough gate to avoid hashing every file on
// every pass.
func isCandidateChange(dbView *triplet.DBView, info fs.FileInfo) bool {
	if dbView == nil || dbView.Checksum == "" {
		return true
	}
	return !dbView.ModTime.Equal(info.ModTime())
}

func hashFile(path string) (string, error) {
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

func sendSemi(ctx context.Context, out chan<- triplet.Semi, semi triplet.Semi) error {
	select {
	case out <- semi:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
