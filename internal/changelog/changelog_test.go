package changelog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

func newTestIngester(t *testing.T) (*Ingester, *cmis.FakeSession, *store.Database, *depgraph.Graph) {
	t.Helper()
	root := t.TempDir()
	db, err := store.Open(filepath.Join(root, "sync.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.LocalRoot = root
	cfg.IgnoreIfSameLowercaseNames = true

	session := cmis.NewFakeSession()
	deps := depgraph.New()
	return New(session, db, deps, cfg, nil), session, db, deps
}

func TestRunEscalatesWithoutPriorToken(t *testing.T) {
	in, _, _, _ := newTestIngester(t)
	res, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != EscalateToFull || res.Reason != "no prior token" {
		t.Fatalf("want escalate/no prior token, got %+v", res)
	}
}

func TestRunReportsSyncedWhenTokensMatch(t *testing.T) {
	in, session, db, _ := newTestIngester(t)
	session.SetToken("tok-1")
	if err := db.SetChangeLogToken("tok-1"); err != nil {
		t.Fatalf("SetChangeLogToken: %v", err)
	}

	res, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != Synced {
		t.Fatalf("want synced, got %+v", res)
	}
}

func TestRunEmitsCreatedObjectAsRemoteOnlySemi(t *testing.T) {
	in, session, db, _ := newTestIngester(t)
	if err := db.SetChangeLogToken("tok-0"); err != nil {
		t.Fatalf("SetChangeLogToken: %v", err)
	}
	session.SetToken("tok-1")

	session.Seed(&cmis.Object{ID: "obj-1", Path: "report.docx", Kind: cmis.Document, Checksum: "abc"}, []byte("data"))
	// Drop-first-event-per-batch: pad with a throwaway leading event.
	session.PushChange(cmis.ChangeEvent{ObjectID: "ignored", Type: cmis.EventCreated})
	session.PushChange(cmis.ChangeEvent{ObjectID: "obj-1", Type: cmis.EventCreated})

	res, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != Incremental {
		t.Fatalf("want incremental, got %+v", res)
	}
	if len(res.Triplets) != 1 {
		t.Fatalf("want 1 triplet, got %d", len(res.Triplets))
	}
	semi := res.Triplets[0]
	if semi.Remote == nil || semi.Remote.ID != "obj-1" {
		t.Fatalf("want remote-only semi for obj-1, got %+v", semi)
	}
	if semi.DB != nil || semi.Local != nil {
		t.Fatalf("created event must not carry DB/Local views, got %+v", semi)
	}
}

func TestRunEscalatesOnUpdatedEvent(t *testing.T) {
	in, session, db, _ := newTestIngester(t)
	if err := db.SetChangeLogToken("tok-0"); err != nil {
		t.Fatalf("SetChangeLogToken: %v", err)
	}
	session.SetToken("tok-1")

	session.PushChange(cmis.ChangeEvent{ObjectID: "ignored", Type: cmis.EventCreated})
	session.PushChange(cmis.ChangeEvent{ObjectID: "obj-2", Type: cmis.EventUpdated, Time: 100})

	res, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != EscalateToFull {
		t.Fatalf("want escalate on Updated event, got %+v", res)
	}
}

func TestRunDeletedPopulatedFolderKeepsParentDependencyPending(t *testing.T) {
	in, session, db, deps := newTestIngester(t)
	if err := db.SetChangeLogToken("tok-0"); err != nil {
		t.Fatalf("SetChangeLogToken: %v", err)
	}
	session.SetToken("tok-1")

	if err := db.RecordUpload("reports/q1.docx", "obj-3", "/reports/q1.docx", "sum", time.Now(), triplet.Document); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}
	if err := db.RecordUpload("reports", "obj-5", "/reports", "sum", time.Now(), triplet.Folder); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	// The folder itself is also a Deleted target this run, so its
	// tentative parent dependency on q1.docx must survive the post-pass
	// (it is not an untouched parent).
	session.PushChange(cmis.ChangeEvent{ObjectID: "ignored", Type: cmis.EventDeleted})
	session.PushChange(cmis.ChangeEvent{ObjectID: "obj-3", Type: cmis.EventDeleted})
	session.PushChange(cmis.ChangeEvent{ObjectID: "obj-5", Type: cmis.EventDeleted})

	res, err := in.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != Incremental || len(res.Triplets) != 2 {
		t.Fatalf("want 2 incremental triplets, got %+v", res)
	}

	parent := triplet.Canonical("reports", triplet.Folder, true)
	if deps.IsReady(string(parent)) {
		t.Fatal("folder delete must not be ready until its deleted child resolves")
	}
}

func TestRunClearsUntouchedTentativeParent(t *testing.T) {
	in, session, db, deps := newTestIngester(t)
	if err := db.SetChangeLogToken("tok-0"); err != nil {
		t.Fatalf("SetChangeLogToken: %v", err)
	}
	session.SetToken("tok-1")

	if err := db.RecordUpload("archive/old.txt", "obj-4", "/archive/old.txt", "sum", time.Now(), triplet.Document); err != nil {
		t.Fatalf("RecordUpload: %v", err)
	}

	session.PushChange(cmis.ChangeEvent{ObjectID: "ignored", Type: cmis.EventDeleted})
	session.PushChange(cmis.ChangeEvent{ObjectID: "obj-4", Type: cmis.EventDeleted})

	if _, err := in.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	parent := triplet.Canonical("archive", triplet.Folder, true)
	if !deps.IsReady(string(parent)) {
		t.Fatal("parent folder was never itself a change-event target and must be cleared, not left pending")
	}
}
