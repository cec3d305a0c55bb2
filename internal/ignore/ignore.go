// Package ignore holds the ignore-list and priority-list filters consulted
// by the crawlers and the change-log ingester before a path is ever turned
// into a triplet.
package ignore

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/cmissync/core/internal/utils"
)

var defaultIgnoreLines = []string{
	"cmissyncignore",
	"**/*.conflict.*",
	"**/*.rejected.*",
	"*.cmissync.tmp.*",
	".cmissynckeep",
	".ipynb_checkpoints/",
	"__pycache__/",
	"*.py[cod]",
	".vscode",
	".idea",
	".git",
	"*.tmp",
	"*.log",
	"logs/",
	".DS_Store",
	"Thumbs.db",
}

// defaultPriorityPatterns are doublestar globs (matched against the
// canonical, forward-slash relative name) for paths that should be synced
// ahead of everything else queued in the same run — small marker/lock
// files a downstream consumer is waiting on.
var defaultPriorityPatterns = []string{
	"**/*.request",
	"**/*.response",
	"**/*.lock",
}

// List filters paths before they enter the pipeline (ShouldIgnore) and
// reports which of them match a priority pattern (ShouldPrioritize); it
// does not reorder anything itself.
type List struct {
	baseDir  string
	ignore   *gitignore.GitIgnore
	priority []string
}

// New returns a List for baseDir without loading anything; the default
// ignore set plus baseDir/cmissyncignore (if present) is compiled by Load.
func New(baseDir string) *List {
	return &List{baseDir: baseDir, priority: defaultPriorityPatterns}
}

// Load (re)compiles the ignore matcher. Call once at startup and again
// after a local write to cmissyncignore is detected.
func (l *List) Load() {
	ignorePath := filepath.Join(l.baseDir, "cmissyncignore")
	lines := defaultIgnoreLines

	if utils.FileExists(ignorePath) {
		custom, err := readIgnoreFile(ignorePath)
		if err != nil {
			slog.Warn("ignore: failed to read cmissyncignore", "path", ignorePath, "error", err)
		} else if len(custom) > 0 {
			lines = append(lines, custom...)
			slog.Info("ignore: loaded cmissyncignore", "path", ignorePath, "rules", len(custom))
		}
	}

	l.ignore = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether relPath (forward-slash, relative to the
// sync root) must never become a triplet.
func (l *List) ShouldIgnore(relPath string) bool {
	if l.ignore == nil {
		l.Load()
	}
	return l.ignore.MatchesPath(relPath)
}

// ShouldPrioritize reports whether relPath should jump ahead of the rest
// of the processor's queue.
func (l *List) ShouldPrioritize(relPath string) bool {
	for _, pattern := range l.priority {
		ok, err := doublestar.Match(pattern, relPath)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.Contains(line, "\x00") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}
	return lines, nil
}
