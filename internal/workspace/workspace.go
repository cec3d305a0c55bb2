// Package workspace resolves the local sync root and guards it with a
// cross-process lock so that two cmissync instances never run against the
// same directory at once.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/cmissync/core/internal/utils"
)

const (
	metadataDir = ".cmissync"
	lockFile    = "cmissync.lock"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the single local directory tree mirrored against the
// remote repository, plus the metadata directory that holds the sync
// database and lock file.
type Workspace struct {
	Root        string
	MetadataDir string

	flock *flock.Flock
}

// New resolves rootDir (expanding "~" and making it absolute, same as the
// teacher's utils.ResolvePath) and prepares the lock handle without
// acquiring it.
func New(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	lockFilePath := filepath.Join(root, metadataDir, lockFile)

	return &Workspace{
		Root:        root,
		MetadataDir: filepath.Join(root, metadataDir),
		flock:       flock.New(lockFilePath),
	}, nil
}

// Lock creates the metadata directory and takes an exclusive, non-blocking
// lock on it so a second process on the same root fails fast instead of
// silently corrupting the sync database.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

// Unlock releases the lock and removes the lock file, but only if this
// process is the one holding it.
func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates the directories cmissync needs
// (just the metadata directory; the sync root itself is expected to
// already exist).
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root)

	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	return nil
}

// NormPath cleans a relative path and normalizes it to forward slashes
// with no leading slash, the canonical form triplet.Canonical also starts
// from.
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.TrimLeft(path, "/")
	return path
}
