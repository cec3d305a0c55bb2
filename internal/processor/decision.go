package processor

import "github.com/cmissync/core/internal/triplet"

// action is the row of the decision table (spec §4.6) a triplet resolves
// to once classified.
type action int

const (
	actionNoop action = iota
	actionUploadNew
	actionDownloadNew
	actionUpload
	actionDownload
	actionConflict
	actionDeleteRemote
	actionDeleteLocal
	actionPurge
	actionBaseline
)

func (a action) String() string {
	switch a {
	case actionUploadNew:
		return "upload_new"
	case actionDownloadNew:
		return "download_new"
	case actionUpload:
		return "upload"
	case actionDownload:
		return "download"
	case actionConflict:
		return "conflict"
	case actionDeleteRemote:
		return "delete_remote"
	case actionDeleteLocal:
		return "delete_local"
	case actionPurge:
		return "purge"
	case actionBaseline:
		return "baseline"
	default:
		return "noop"
	}
}

// isDeleteAction reports whether a only applies the dependency-graph gate
// described in spec.md §4.5 — deletions must wait for a folder's children.
func isDeleteAction(a action) bool {
	return a == actionDeleteRemote || a == actionDeleteLocal || a == actionPurge
}

// classify maps the three view presence flags (and, for files, whether
// the checksums agree) onto the ten rows of the decision table.
func classify(t *triplet.Triplet) action {
	hasL, hasD, hasR := t.Local != nil, t.DB != nil, t.Remote != nil

	switch {
	case hasL && !hasD && !hasR:
		return actionUploadNew
	case !hasL && !hasD && hasR:
		return actionDownloadNew
	case hasL && !hasD && hasR:
		if baselineMatch(t) {
			return actionBaseline
		}
		return actionConflict
	case hasL && hasD && hasR:
		lc, rc := localChanged(t), remoteChanged(t)
		switch {
		case !lc && !rc:
			return actionNoop
		case lc && !rc:
			return actionUpload
		case !lc && rc:
			return actionDownload
		default:
			return actionConflict
		}
	case !hasL && hasD && hasR:
		return actionDeleteRemote
	case hasL && hasD && !hasR:
		return actionDeleteLocal
	case !hasL && hasD && !hasR:
		return actionPurge
	default:
		// Unreachable given triplet.Valid(), kept exhaustive for clarity.
		return actionNoop
	}
}

// baselineMatch handles the no-prior-DB-row case where a name already
// exists on both sides — the common "connect to an existing tree" first
// sync. Folders carry no content checksum, so same name on both sides is
// itself the match; files are compared by checksum, which the crawlers
// always populate when there is no DB row to gate the hash against.
func baselineMatch(t *triplet.Triplet) bool {
	if t.IsFolder() {
		return true
	}
	return t.Local.Checksum != "" && t.Local.Checksum == t.Remote.Checksum
}

// localChanged reports whether the local content diverges from the last
// recorded DB checksum. Folders are structural — there is no content to
// hash — so they are never reported changed here. An empty Local.Checksum
// means the crawler's cheap mtime gate found nothing worth hashing.
func localChanged(t *triplet.Triplet) bool {
	if t.IsFolder() || t.Local == nil || t.DB == nil {
		return false
	}
	if t.Local.Checksum == "" {
		return false
	}
	return t.Local.Checksum != t.DB.Checksum
}

// remoteChanged mirrors localChanged for the server-reported checksum.
// Mtime is never consulted — only the checksum is authoritative.
func remoteChanged(t *triplet.Triplet) bool {
	if t.IsFolder() || t.Remote == nil || t.DB == nil {
		return false
	}
	if t.Remote.Checksum == "" {
		return false
	}
	return t.Remote.Checksum != t.DB.Checksum
}
