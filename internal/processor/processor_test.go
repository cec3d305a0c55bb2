package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/depgraph"
	"github.com/cmissync/core/internal/marker"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/triplet"
)

func newHarness(t *testing.T) (*config.Config, *store.Database, *cmis.FakeSession, *depgraph.Graph) {
	t.Helper()
	root := t.TempDir()
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.LocalRoot = root
	cfg.RootFolderID = "root"
	cfg.WorkerCount = 2
	cfg.QueueCapacity = 8

	return cfg, db, cmis.NewFakeSession(), depgraph.New()
}

func runOne(t *testing.T, p *Processor, tr *triplet.Triplet) {
	t.Helper()
	in := make(chan *triplet.Triplet, 1)
	in <- tr
	close(in)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx, in))
}

func TestUploadNewCreatesRemoteDocumentAndRecordsRow(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	abs := filepath.Join(cfg.LocalRoot, "note.txt")
	require.NoError(t, os.WriteFile(abs, []byte("hello"), 0o644))

	p := New(cfg, db, session, deps, nil)
	tr := &triplet.Triplet{
		Name:  "note.txt",
		Kind:  triplet.Document,
		Local: &triplet.LocalView{AbsPath: abs, Size: 5, ModTime: time.Now(), Kind: triplet.Document},
	}
	runOne(t, p, tr)

	row, err := db.GetRow("note.txt")
	require.NoError(t, err)
	require.NotNil(t, row, "want a DB row for note.txt")
	assert.NotEmpty(t, row.RemoteID, "want a remote id recorded")

	obj, err := session.GetObject(context.Background(), row.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, "root", obj.ParentID, "document should be created under the root folder")
}

func TestDownloadNewWritesLocalFile(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	ctx := context.Background()
	obj, err := session.CreateDocument(ctx, "root", "b.txt", strings.NewReader("remote-data"))
	require.NoError(t, err)
	obj.Path = "/b.txt"

	p := New(cfg, db, session, deps, nil)
	tr := &triplet.Triplet{
		Name: "b.txt",
		Kind: triplet.Document,
		Remote: &triplet.RemoteView{
			ID:   obj.ID,
			Path: obj.Path,
			Kind: triplet.Document,
			Size: int64(len("remote-data")),
			Content: func() (io.ReadCloser, error) {
				return session.DownloadContent(ctx, obj.ID)
			},
		},
	}
	runOne(t, p, tr)

	got, err := os.ReadFile(filepath.Join(cfg.LocalRoot, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remote-data", string(got))

	row, err := db.GetRow("b.txt")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, obj.ID, row.RemoteID)
}

func TestDeleteLocalRemovesFileWhenRemoteDeleted(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	abs := filepath.Join(cfg.LocalRoot, "gone.txt")
	require.NoError(t, os.WriteFile(abs, []byte("x"), 0o644))
	require.NoError(t, db.RecordUpload("gone.txt", "obj-1", "/gone.txt", "sum", time.Now(), triplet.Document))

	p := New(cfg, db, session, deps, nil)
	tr := &triplet.Triplet{
		Name:  "gone.txt",
		Kind:  triplet.Document,
		Local: &triplet.LocalView{AbsPath: abs, Kind: triplet.Document},
		DB:    &triplet.DBView{LocalPath: "gone.txt", RemoteID: "obj-1", RemotePath: "/gone.txt", Checksum: "sum", Kind: triplet.Document},
	}
	runOne(t, p, tr)

	_, statErr := os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr), "want local file removed")

	row, err := db.GetRow("gone.txt")
	require.NoError(t, err)
	assert.Nil(t, row, "want DB row purged")
}

func TestPurgeRemovesStaleDBOnlyRow(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	require.NoError(t, db.RecordUpload("stale.txt", "obj-2", "/stale.txt", "sum", time.Now(), triplet.Document))

	p := New(cfg, db, session, deps, nil)
	tr := &triplet.Triplet{
		Name: "stale.txt",
		Kind: triplet.Document,
		DB:   &triplet.DBView{LocalPath: "stale.txt", RemoteID: "obj-2", RemotePath: "/stale.txt", Checksum: "sum", Kind: triplet.Document},
	}
	runOne(t, p, tr)

	row, err := db.GetRow("stale.txt")
	require.NoError(t, err)
	assert.Nil(t, row, "want stale row purged")
}

func TestFolderDeleteWaitsForPendingChildThenProceeds(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	folderAbs := filepath.Join(cfg.LocalRoot, "dir")
	require.NoError(t, os.Mkdir(folderAbs, 0o755))
	require.NoError(t, db.RecordUpload("dir", "folder-1", "/dir", "", time.Now(), triplet.Folder))
	deps.Add("dir/", "dir/child.txt")

	p := New(cfg, db, session, deps, nil)
	folderTr := &triplet.Triplet{
		Name:  "dir/",
		Kind:  triplet.Folder,
		Local: &triplet.LocalView{AbsPath: folderAbs, Kind: triplet.Folder},
		DB:    &triplet.DBView{LocalPath: "dir", RemoteID: "folder-1", RemotePath: "/dir", Kind: triplet.Folder},
	}

	in := make(chan *triplet.Triplet, 1)
	in <- folderTr
	close(in)

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { done <- p.Run(ctx, in) }()

	// Give a worker a moment to observe the folder isn't ready yet, then
	// resolve the child so the run can complete.
	time.Sleep(50 * time.Millisecond)
	_, err := os.Stat(folderAbs)
	require.NoError(t, err, "folder should still exist while its child is pending")

	deps.Remove("dir/", "dir/child.txt", depgraph.Succeed)

	require.NoError(t, <-done)
	_, statErr := os.Stat(folderAbs)
	assert.True(t, os.IsNotExist(statErr), "want folder removed once its child resolved")
}

func TestCaseCollisionForcesKeepBothRename(t *testing.T) {
	cfg, db, session, deps := newHarness(t)
	abs := filepath.Join(cfg.LocalRoot, "foo.TXT")
	require.NoError(t, os.WriteFile(abs, []byte("dup"), 0o644))

	p := New(cfg, db, session, deps, nil)
	tr := &triplet.Triplet{
		Name:          "foo.txt",
		Kind:          triplet.Document,
		Local:         &triplet.LocalView{AbsPath: abs, Kind: triplet.Document},
		CaseCollision: true,
	}
	runOne(t, p, tr)

	_, statErr := os.Stat(abs)
	assert.True(t, os.IsNotExist(statErr), "want the original path renamed away")

	entries, err := os.ReadDir(cfg.LocalRoot)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if marker.IsConflictPath(e.Name()) {
			found = true
		}
	}
	assert.True(t, found, "want a conflict-marked file left behind")
}
