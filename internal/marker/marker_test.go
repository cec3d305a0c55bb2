package marker

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSetAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	writeFile(t, path, "v1")

	marked, err := Set(path, Conflict)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if filepath.Base(marked) != "report.conflict.docx" {
		t.Fatalf("unexpected marked path: %s", marked)
	}

	restored, err := Remove(marked)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if restored != path {
		t.Fatalf("want restored path %s, got %s", path, restored)
	}
}

func TestSetRotatesExistingMarkedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.docx")
	writeFile(t, path, "v1")

	marked, err := Set(path, Conflict)
	if err != nil {
		t.Fatalf("Set #1: %v", err)
	}

	writeFile(t, path, "v2")
	marked2, err := Set(path, Conflict)
	if err != nil {
		t.Fatalf("Set #2: %v", err)
	}
	if marked2 != marked {
		t.Fatalf("second marked path should reuse the same name, got %s vs %s", marked2, marked)
	}
	if !ConflictFileExists(path) {
		t.Fatal("a conflict file must be detectable after rotation")
	}
}

func TestGetUnmarkedPathStripsRotationTimestamp(t *testing.T) {
	got := GetUnmarkedPath("report.conflict.20250101120000.docx")
	if got != "report.docx" {
		t.Fatalf("want report.docx, got %s", got)
	}
}
