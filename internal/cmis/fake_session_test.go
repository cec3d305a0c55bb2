package cmis

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestFakeSessionCreateAndDownload(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()

	obj, err := s.CreateDocument(ctx, "root", "note.txt", bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	rc, err := s.DownloadContent(ctx, obj.ID)
	if err != nil {
		t.Fatalf("DownloadContent: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("want hello, got %q", data)
	}
}

func TestFakeSessionDeleteThenGetNotFound(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	obj, _ := s.CreateFolder(ctx, "root", "sub")

	if err := s.DeleteObject(ctx, obj.ID); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if _, err := s.GetObject(ctx, obj.ID); !IsNotFound(err) {
		t.Fatalf("want ErrObjectNotFound after delete, got %v", err)
	}
}

func TestFakeSessionGetChildren(t *testing.T) {
	s := NewFakeSession()
	ctx := context.Background()
	folder, _ := s.CreateFolder(ctx, "root", "reports")
	_, _ = s.CreateDocument(ctx, folder.ID, "q1.docx", bytes.NewBufferString("a"))
	_, _ = s.CreateDocument(ctx, folder.ID, "q2.docx", bytes.NewBufferString("b"))

	children, err := s.GetChildren(ctx, folder.ID)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("want 2 children, got %d", len(children))
	}
}
