package processor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/marker"
	"github.com/cmissync/core/internal/triplet"
	"github.com/dustin/go-humanize"
)

// execute performs the filesystem/remote/database side effects for a
// single classified triplet. It never touches the dependency graph — the
// caller resolves the edge once execute returns.
func (p *Processor) execute(ctx context.Context, t *triplet.Triplet, a action) error {
	switch a {
	case actionUploadNew:
		return p.uploadNew(ctx, t)
	case actionDownloadNew:
		return p.downloadNew(ctx, t)
	case actionUpload:
		return p.upload(ctx, t)
	case actionDownload:
		return p.download(ctx, t)
	case actionConflict:
		return p.conflict(ctx, t)
	case actionDeleteRemote:
		return p.deleteRemote(ctx, t)
	case actionDeleteLocal:
		return p.deleteLocal(ctx, t)
	case actionPurge:
		return p.store.RecordDelete(p.localPathFor(t))
	case actionNoop:
		return p.noop(t)
	case actionBaseline:
		return p.baseline(t)
	default:
		return nil
	}
}

func (p *Processor) uploadNew(ctx context.Context, t *triplet.Triplet) error {
	localPath := p.localPathFor(t)
	parentID, err := p.resolveParentRemoteID(t)
	if err != nil {
		return err
	}
	name := baseName(t.Name)

	if t.IsFolder() {
		obj, err := p.session.CreateFolder(ctx, parentID, name)
		if err != nil {
			return fmt.Errorf("create remote folder %s: %w", t.Name, err)
		}
		return p.store.RecordUpload(localPath, obj.ID, obj.Path, "", t.Local.ModTime, triplet.Folder)
	}

	f, err := os.Open(t.Local.AbsPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Local.AbsPath, err)
	}
	defer f.Close()

	obj, err := p.session.CreateDocument(ctx, parentID, name, f)
	if err != nil {
		return fmt.Errorf("create remote document %s: %w", t.Name, err)
	}
	checksum := t.Local.Checksum
	if checksum == "" {
		checksum, err = hashPath(t.Local.AbsPath)
		if err != nil {
			return err
		}
	}
	p.logger().Info("processor: uploaded new document", "name", t.Name, "size", humanize.Bytes(uint64(t.Local.Size)))
	return p.store.RecordUpload(localPath, obj.ID, obj.Path, checksum, t.Local.ModTime, triplet.Document)
}

func (p *Processor) downloadNew(ctx context.Context, t *triplet.Triplet) error {
	localPath := p.localPathFor(t)
	absPath := p.absPathFor(t)

	if t.IsFolder() {
		if err := os.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("create local folder %s: %w", absPath, err)
		}
		return p.store.RecordDownload(localPath, t.Remote.ID, t.Remote.Path, "", t.Remote.ModTime, triplet.Folder)
	}

	checksum, err := p.writeLocal(ctx, absPath, t.Remote)
	if err != nil {
		return err
	}
	p.logger().Info("processor: downloaded new document", "name", t.Name, "size", humanize.Bytes(uint64(t.Remote.Size)))
	return p.store.RecordDownload(localPath, t.Remote.ID, t.Remote.Path, checksum, t.Remote.ModTime, triplet.Document)
}

// noop refreshes the DB row's timestamp when all three views already
// agree on checksum, per the "same checksums" row of the decision table —
// nothing is transferred, but the recorded mtime is brought current so a
// later mtime-only comparison elsewhere doesn't re-flag this entry.
func (p *Processor) noop(t *triplet.Triplet) error {
	localPath := p.localPathFor(t)
	mtime := t.DB.ModTime
	if t.Local != nil {
		mtime = t.Local.ModTime
	}
	return p.store.RecordDownload(localPath, t.DB.RemoteID, t.DB.RemotePath, t.DB.Checksum, mtime, t.DB.Kind)
}

// baseline records a DB row for a name that already existed on both sides
// before this was ever synced, without transferring anything — the
// connect-to-an-existing-tree row of the decision table. classify has
// already confirmed the two sides agree (or that this is a folder, which
// has nothing to compare).
func (p *Processor) baseline(t *triplet.Triplet) error {
	return p.store.RecordDownload(p.localPathFor(t), t.Remote.ID, t.Remote.Path, t.Remote.Checksum, t.Local.ModTime, t.Kind)
}

func (p *Processor) upload(ctx context.Context, t *triplet.Triplet) error {
	localPath := p.localPathFor(t)
	f, err := os.Open(t.Local.AbsPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.Local.AbsPath, err)
	}
	defer f.Close()

	obj, err := p.session.UpdateContent(ctx, t.DB.RemoteID, f)
	if err != nil {
		return fmt.Errorf("update remote content %s: %w", t.Name, err)
	}
	checksum := t.Local.Checksum
	if checksum == "" {
		checksum, err = hashPath(t.Local.AbsPath)
		if err != nil {
			return err
		}
	}
	p.logger().Info("processor: uploaded changed document", "name", t.Name, "size", humanize.Bytes(uint64(t.Local.Size)))
	return p.store.RecordUpload(localPath, obj.ID, t.DB.RemotePath, checksum, t.Local.ModTime, triplet.Document)
}

func (p *Processor) download(ctx context.Context, t *triplet.Triplet) error {
	localPath := p.localPathFor(t)
	checksum, err := p.writeLocal(ctx, t.Local.AbsPath, t.Remote)
	if err != nil {
		return err
	}
	p.logger().Info("processor: downloaded changed document", "name", t.Name, "size", humanize.Bytes(uint64(t.Remote.Size)))
	return p.store.RecordDownload(localPath, t.Remote.ID, t.Remote.Path, checksum, t.Remote.ModTime, triplet.Document)
}

// conflict renames the local copy out of the way via internal/marker and
// then downloads the remote copy into the original path. The renamed
// local file is not recorded in the database, and its marked name matches
// the default ignore rule `**/*.conflict.*`, so a LocalCrawler run with the
// ignore list skips it: the copy stays on local disk and is not uploaded.
func (p *Processor) conflict(ctx context.Context, t *triplet.Triplet) error {
	renamedPath, err := marker.Set(t.Local.AbsPath, marker.Conflict)
	if err != nil {
		return fmt.Errorf("mark conflicted local copy %s: %w", t.Local.AbsPath, err)
	}
	p.logger().Warn("processor: conflict, keeping both copies", "name", t.Name, "renamed_local", renamedPath)
	return p.download(ctx, t)
}

func (p *Processor) deleteRemote(ctx context.Context, t *triplet.Triplet) error {
	if err := p.session.DeleteObject(ctx, t.DB.RemoteID); err != nil && !cmis.IsNotFound(err) {
		return fmt.Errorf("delete remote object %s: %w", t.Name, err)
	}
	return p.store.RecordDelete(p.localPathFor(t))
}

func (p *Processor) deleteLocal(ctx context.Context, t *triplet.Triplet) error {
	if err := os.Remove(t.Local.AbsPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete local %s: %w", t.Local.AbsPath, err)
	}
	return p.store.RecordDelete(p.localPathFor(t))
}

// writeLocal streams remote content to absPath, hashing as it goes rather
// than re-reading the file afterward.
func (p *Processor) writeLocal(ctx context.Context, absPath string, rv *triplet.RemoteView) (string, error) {
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir for %s: %w", absPath, err)
	}

	rc, err := rv.Content()
	if err != nil {
		return "", fmt.Errorf("open remote content %s: %w", rv.ID, err)
	}
	defer rc.Close()

	tmp := absPath + ".cmissync-tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", tmp, err)
	}

	hasher := newHasher()
	if _, err := io.Copy(io.MultiWriter(f, hasher), rc); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s -> %s: %w", tmp, absPath, err)
	}
	return hasher.sum(), nil
}

// resolveParentRemoteID looks up the remote id of t's parent folder. A
// missing parent row is reported as a transient error: the parent folder
// may simply not have finished its own CreateFolder call yet on another
// worker, and the caller's transient-retry loop gives it time to land.
func (p *Processor) resolveParentRemoteID(t *triplet.Triplet) (string, error) {
	parent := parentOf(t.Name)
	if parent == "" {
		return p.cfg.RootFolderID, nil
	}
	dbView, err := p.store.GetDBView(trimTrailingSlash(string(parent)))
	if err != nil {
		return "", fmt.Errorf("resolve parent %s: %w", parent, err)
	}
	if dbView == nil || dbView.RemoteID == "" {
		return "", fmt.Errorf("parent folder %s not yet synced remotely: %w", parent, cmis.ErrTransportTransient)
	}
	return dbView.RemoteID, nil
}

func (p *Processor) localPathFor(t *triplet.Triplet) string {
	if t.DB != nil && t.DB.LocalPath != "" {
		return t.DB.LocalPath
	}
	return trimTrailingSlash(string(t.Name))
}

func (p *Processor) absPathFor(t *triplet.Triplet) string {
	if t.Local != nil {
		return t.Local.AbsPath
	}
	return filepath.Join(p.cfg.LocalRoot, filepath.FromSlash(trimTrailingSlash(string(t.Name))))
}

// parentOf derives the canonical name of t's parent folder from its
// canonical Name, or "" for a sync-root-level item.
func parentOf(name triplet.Name) triplet.Name {
	s := trimTrailingSlash(string(name))
	dir := path.Dir(s)
	if dir == "." || dir == "/" || dir == "" {
		return ""
	}
	return triplet.Name(dir + "/")
}

func baseName(name triplet.Name) string {
	return path.Base(trimTrailingSlash(string(name)))
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
