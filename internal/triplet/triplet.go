// Package triplet defines the three-way join between the local filesystem,
// the sync database, and the remote CMIS-like repository that drives every
// downstream decision in the pipeline.
package triplet

import (
	"io"
	"strings"
	"time"
)

// Kind distinguishes a document from a folder. A folder's canonical Name
// always carries a trailing slash so that "reports" (a document) and
// "reports/" (a folder) never collide in a map keyed by Name.
type Kind int

const (
	Document Kind = iota
	Folder
)

func (k Kind) String() string {
	if k == Folder {
		return "folder"
	}
	return "document"
}

// Name is the canonical join key for a triplet: forward-slash separated,
// relative to the sync root, optionally lowercased per
// config.Config.IgnoreIfSameLowercaseNames, folders suffixed with "/".
type Name string

// Canonical folds a filesystem- or server-reported relative path into the
// join key used across LocalView, DBView and RemoteView. It never receives
// an absolute path; callers strip the sync root first.
func Canonical(relPath string, kind Kind, foldCase bool) Name {
	p := strings.ReplaceAll(relPath, `\`, "/")
	p = strings.Trim(p, "/")
	if foldCase {
		p = strings.ToLower(p)
	}
	if kind == Folder && p != "" {
		p += "/"
	}
	return Name(p)
}

// LocalView is what the LocalCrawler (or the file watcher) observed on disk.
type LocalView struct {
	AbsPath string
	Size    int64
	ModTime time.Time
	Kind    Kind

	// Checksum is computed lazily by the crawler only when a candidate
	// change is detected, to avoid hashing every file on every pass.
	Checksum string
}

// DBView is the last state the SyncDatabase recorded for this object,
// i.e. what we believe was true immediately after the previous successful
// sync run.
type DBView struct {
	LocalPath  string
	RemoteID   string
	RemotePath string
	Checksum   string
	ModTime    time.Time
	Kind       Kind
}

// RemoteView is what the CMIS-like repository reports for this object.
// Content is opened lazily; most decisions only need the metadata.
type RemoteView struct {
	ID       string
	Path     string
	Checksum string
	Size     int64
	ModTime  time.Time
	Kind     Kind

	Content func() (io.ReadCloser, error)
}

// Triplet is the unit of work the pipeline moves between stages. At least
// one of Local, DB, Remote must be non-nil; a Triplet with all three nil
// is invalid and must never be constructed.
type Triplet struct {
	Name Name
	Kind Kind

	Local  *LocalView
	DB     *DBView
	Remote *RemoteView

	// CaseCollision marks a triplet whose Name lost a case-insensitive
	// join to an earlier entry on the local side (two local names that
	// only differ by case, under a server known to fold names). The
	// processor must not run the normal decision table on it: it forces
	// a keep-both rename so the colliding local file is never silently
	// dropped from the run.
	CaseCollision bool
}

// Valid reports whether the triplet carries at least one view, per the
// pipeline's own invariant: a triplet exists only because something
// (filesystem, database, or server) knows about this name.
func (t *Triplet) Valid() bool {
	return t != nil && (t.Local != nil || t.DB != nil || t.Remote != nil)
}

// IsFolder reports whether this triplet represents a folder, going by the
// triplet's own Kind; the views are not consulted and a kind mismatch
// across views is not detected.
func (t *Triplet) IsFolder() bool {
	return t.Kind == Folder
}

// Semi is a partially-built triplet emitted by a single crawler before the
// assembler joins it against the other views. A LocalCrawler only ever
// produces semi-triplets with Local set (or DB set, for DB-only rows); a
// RemoteCrawler only ever sets Remote.
type Semi struct {
	Name   Name
	Kind   Kind
	Local  *LocalView
	DB     *DBView
	Remote *RemoteView

	// CaseCollision, see Triplet.CaseCollision.
	CaseCollision bool
}

// Merge folds a Semi into an existing (possibly nil) Triplet, building up
// a full Triplet out of several semi-triplets that share the same
// canonical Name. The assembler does not use it; it joins views itself.
func Merge(existing *Triplet, s Semi) *Triplet {
	if existing == nil {
		existing = &Triplet{Name: s.Name, Kind: s.Kind}
	}
	if s.Local != nil {
		existing.Local = s.Local
	}
	if s.DB != nil {
		existing.DB = s.DB
	}
	if s.Remote != nil {
		existing.Remote = s.Remote
	}
	if s.CaseCollision {
		existing.CaseCollision = true
	}
	return existing
}
