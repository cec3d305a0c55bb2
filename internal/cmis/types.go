package cmis

import (
	"context"
	"io"
	"time"
)

// ObjectKind mirrors triplet.Kind but lives in this package so cmis has no
// import-time dependency on the triplet package (the assembler does the
// translation).
type ObjectKind int

const (
	Document ObjectKind = iota
	Folder
)

// Object is one node in the remote repository tree.
type Object struct {
	ID       string
	ParentID string
	Path     string
	Name     string
	Kind     ObjectKind
	Checksum string
	Size     int64
	ModTime  time.Time
}

// EventType is the kind of change a ChangeEvent reports.
type EventType string

const (
	EventCreated  EventType = "created"
	EventUpdated  EventType = "updated"
	EventDeleted  EventType = "deleted"
	EventSecurity EventType = "security"
)

// ChangeEvent is one entry in a change-log page. Time is measured in
// 100ns file-time ticks (Windows FILETIME epoch semantics), matching the
// precision the coalescing window in internal/changelog compares against.
type ChangeEvent struct {
	ObjectID string
	Type     EventType
	Time     int64
	Object   *Object // nil for Deleted events
}

// ChangeBatch is one page of the change log.
type ChangeBatch struct {
	Events       []ChangeEvent
	HasMoreItems bool
	LatestToken  string
}

// Session is the CMIS-like repository contract every component above
// internal/cmis depends on through this interface, never the concrete
// HTTP implementation, so tests can fake it.
type Session interface {
	// GetChangeLogToken returns the repository's current change-log
	// token, used as a baseline when no prior token is stored.
	GetChangeLogToken(ctx context.Context) (string, error)

	// GetContentChanges returns up to maxItems change events that
	// occurred after token. ErrChangeLogUnsupported forces escalation to
	// a full crawl.
	GetContentChanges(ctx context.Context, token string, maxItems int) (*ChangeBatch, error)

	GetObject(ctx context.Context, id string) (*Object, error)
	GetObjectByPath(ctx context.Context, path string) (*Object, error)
	GetChildren(ctx context.Context, folderID string) ([]*Object, error)

	CreateDocument(ctx context.Context, parentID, name string, content io.Reader) (*Object, error)
	CreateFolder(ctx context.Context, parentID, name string) (*Object, error)
	UpdateContent(ctx context.Context, id string, content io.Reader) (*Object, error)
	DeleteObject(ctx context.Context, id string) error

	DownloadContent(ctx context.Context, id string) (io.ReadCloser, error)
}
