// Package marker implements the "keep both" conflict resolution: when a
// path was modified on both sides in ways that cannot be reconciled, the
// local copy is renamed out of the way with a marker suffix instead of
// being silently overwritten or dropped.
package marker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/cmissync/core/internal/utils"
)

// Type is a dot-suffix marker applied to a conflicted or rejected local
// file, chosen to be command-line friendly (no special characters).
type Type string

const (
	// Rejected marks a local file the remote side refused to accept
	// (e.g. a permission error on upload).
	Rejected Type = ".rejected"
	// Conflict marks the local copy of a path that was renamed out of the
	// way so both the local and remote versions survive.
	Conflict Type = ".conflict"
)

var allMarkers = []Type{Rejected, Conflict}

const (
	timeFormat       = "20060102150405"
	timestampPattern = `\d{14}`
)

var markerRegexes = make(map[Type]*regexp.Regexp)

func init() {
	for _, m := range allMarkers {
		pattern := fmt.Sprintf(`%s(\.%s)?`, regexp.QuoteMeta(string(m)), timestampPattern)
		markerRegexes[m] = regexp.MustCompile(pattern)
	}
}

// Set renames the file at path to carry marker mtype, rotating any
// previously marked file out of the way first (by timestamp suffix) so no
// data is lost. It returns the new path.
func Set(path string, mtype Type) (string, error) {
	if !utils.FileExists(path) {
		return "", fmt.Errorf("cannot mark file: source does not exist: %s", path)
	}

	markedPath := asMarkedPath(path, mtype)

	if utils.FileExists(markedPath) {
		rotatedPath := asRotatedPath(markedPath, time.Now())
		if err := os.Rename(markedPath, rotatedPath); err != nil {
			return "", fmt.Errorf("rotate existing marked file %s -> %s: %w", markedPath, rotatedPath, err)
		}
		slog.Debug("marker: rotated existing marked file", "from", markedPath, "to", rotatedPath)
	}

	if err := os.Rename(path, markedPath); err != nil {
		return "", fmt.Errorf("mark file %s -> %s: %w", path, markedPath, err)
	}

	return markedPath, nil
}

// Remove renames a marked file back to its original name. No-op if path
// is not marked.
func Remove(path string) (string, error) {
	if !IsMarkedPath(path) {
		return path, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("cannot unmark: source does not exist: %s", path)
	}

	original := GetUnmarkedPath(path)
	if _, err := os.Stat(original); err == nil {
		return "", fmt.Errorf("cannot unmark: destination already exists: %s", original)
	}
	if err := os.Rename(path, original); err != nil {
		return "", fmt.Errorf("unmark file %s -> %s: %w", path, original, err)
	}
	return original, nil
}

func IsMarkedPath(path string) bool {
	return strings.Contains(path, string(Conflict)) || strings.Contains(path, string(Rejected))
}

func IsConflictPath(path string) bool {
	return slices.Contains(GetMarkers(path), Conflict)
}

func IsRejectedPath(path string) bool {
	return slices.Contains(GetMarkers(path), Rejected)
}

func ConflictFileExists(basePath string) bool {
	return markerFileExists(basePath, Conflict)
}

func RejectedFileExists(basePath string) bool {
	return markerFileExists(basePath, Rejected)
}

func markerFileExists(basePath string, mtype Type) bool {
	if IsMarkedPath(basePath) {
		basePath = GetUnmarkedPath(basePath)
	}
	ext := filepath.Ext(basePath)
	base := strings.TrimSuffix(basePath, ext)

	globPattern := base + string(mtype) + "*" + ext
	matches, err := filepath.Glob(globPattern)
	if err != nil {
		slog.Error("marker: glob for marked files failed", "pattern", globPattern, "error", err)
		return false
	}
	return len(matches) > 0
}

func GetUnmarkedPath(path string) string {
	original := path
	for _, m := range allMarkers {
		if re, ok := markerRegexes[m]; ok {
			original = re.ReplaceAllString(original, "")
		}
	}
	return original
}

func GetMarkers(path string) []Type {
	var found []Type
	for _, m := range allMarkers {
		if re, ok := markerRegexes[m]; ok && re.MatchString(path) {
			found = append(found, m)
		}
	}
	return found
}

func asMarkedPath(path string, mtype Type) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + string(mtype) + ext
}

func asRotatedPath(path string, t time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s.%s%s", base, t.Format(timeFormat), ext)
}
