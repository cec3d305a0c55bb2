package crawler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

func newTestStore(t *testing.T) *store.Database {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func drain(t *testing.T, c *Local) []triplet.Semi {
	t.Helper()
	out := make(chan triplet.Semi, 64)
	if err := c.Crawl(context.Background(), out); err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	close(out)
	var got []triplet.Semi
	for s := range out {
		got = append(got, s)
	}
	return got
}

func TestLocalCrawlEmitsFileAndFolder(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "reports"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "reports", "q1.docx"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	db := newTestStore(t)
	c := NewLocal(root, db, nil, false)
	semis := drain(t, c)

	names := map[triplet.Name]triplet.Semi{}
	for _, s := range semis {
		names[s.Name] = s
	}
	if _, ok := names["reports/"]; !ok {
		t.Fatalf("want folder semi for reports/, got %v", names)
	}
	file, ok := names["reports/q1.docx"]
	if !ok || file.Local == nil || file.Local.Checksum == "" {
		t.Fatalf("want file semi with a checksum (no prior db row), got %+v", file)
	}
}

func TestLocalCrawlSkipsHashWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}

	db := newTestStore(t)
	if err := db.RecordUpload("a.txt", "r1", "/a.txt", "deadbeef", info.ModTime(), triplet.Document); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	c := NewLocal(root, db, nil, false)
	semis := drain(t, c)
	if len(semis) != 1 {
		t.Fatalf("want 1 semi, got %d", len(semis))
	}
	if semis[0].Local.Checksum != "" {
		t.Fatalf("want no rehash when mtime unchanged, got checksum %q", semis[0].Local.Checksum)
	}
	if semis[0].DB == nil || semis[0].DB.RemoteID != "r1" {
		t.Fatalf("want DB view attached, got %+v", semis[0].DB)
	}
}

func TestLocalCrawlEmitsDBOnlyDeletion(t *testing.T) {
	root := t.TempDir()
	db := newTestStore(t)
	if err := db.RecordUpload("gone.txt", "r2", "/gone.txt", "sum", time.Now(), triplet.Document); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	c := NewLocal(root, db, nil, false)
	semis := drain(t, c)
	if len(semis) != 1 {
		t.Fatalf("want 1 db-only semi, got %d: %+v", len(semis), semis)
	}
	if semis[0].Local != nil {
		t.Fatalf("db-only deletion must not carry a LocalView, got %+v", semis[0])
	}
	if semis[0].DB == nil || semis[0].DB.RemoteID != "r2" {
		t.Fatalf("want DB view for the missing file, got %+v", semis[0].DB)
	}
}
