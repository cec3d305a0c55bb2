package cmis

import "errors"

// Error kinds a Session implementation must surface so callers can
// errors.Is/errors.As instead of string-matching a transport error.
var (
	// ErrObjectNotFound means the remote object id or path no longer
	// exists on the server.
	ErrObjectNotFound = errors.New("cmis: object not found")
	// ErrTransportTransient wraps a retryable transport failure (timeout,
	// connection reset, 5xx) a caller should back off and retry.
	ErrTransportTransient = errors.New("cmis: transient transport error")
	// ErrChangeLogUnsupported means the repository cannot serve a
	// change-log token (new repository, or the feature is disabled),
	// forcing the caller to escalate to a full crawl.
	ErrChangeLogUnsupported = errors.New("cmis: change log unsupported")
	// ErrUpdateDetected names the escalation rule that any Updated event
	// forces a full crawl rather than trusting the change feed's ordering
	// for that object. The change-log ingester does not return this error:
	// it reports an Updated event as a Result with Status EscalateToFull.
	ErrUpdateDetected = errors.New("cmis: update event forces full crawl")
	// ErrDBCorruption indicates the local sync database is unreadable or
	// inconsistent and must not be trusted for this run.
	ErrDBCorruption = errors.New("cmis: local database corrupted")
)

// IsTransient reports whether err (or anything it wraps) is a transient
// transport failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransportTransient)
}

// IsNotFound reports whether err means the object is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
