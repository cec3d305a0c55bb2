package workspace

import (
	"os"
	"testing"
)

func TestNormPath(t *testing.T) {
	cases := map[string]string{
		"/a/b/c":    "a/b/c",
		`a\b\c`:     "a/b/c",
		"a/./b/../c": "a/c",
		"":          ".",
	}
	for in, want := range cases {
		if got := NormPath(in); got != want {
			t.Errorf("NormPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWorkspaceSetupCreatesMetadataDir(t *testing.T) {
	root := t.TempDir()
	ws, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ws.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer ws.Unlock()

	info, err := os.Stat(ws.MetadataDir)
	if err != nil {
		t.Fatalf("MetadataDir not created: %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("MetadataDir %s is not a directory", ws.MetadataDir)
	}
}

func TestWorkspaceLockingSingleInstance(t *testing.T) {
	root := t.TempDir()

	ws1, err := New(root)
	if err != nil {
		t.Fatalf("New (ws1): %v", err)
	}
	if err := ws1.Lock(); err != nil {
		t.Fatalf("ws1.Lock: %v", err)
	}
	defer ws1.Unlock()

	ws2, err := New(root)
	if err != nil {
		t.Fatalf("New (ws2): %v", err)
	}
	if err := ws2.Lock(); err != ErrWorkspaceLocked {
		t.Fatalf("ws2.Lock: want ErrWorkspaceLocked, got %v", err)
	}
}
