package cmis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeSession is an in-memory Session used by tests in higher-level
// packages (changelog, crawler, assembler, processor) that need a CMIS
// repository double without a real server.
type FakeSession struct {
	mu sync.Mutex

	objects map[string]*Object // by id
	byPath  map[string]*Object
	content map[string][]byte
	changes []ChangeEvent
	token   string

	nextID int
}

func NewFakeSession() *FakeSession {
	return &FakeSession{
		objects: make(map[string]*Object),
		byPath:  make(map[string]*Object),
		content: make(map[string][]byte),
		token:   "0",
	}
}

// SetToken overrides the change-log token FakeSession reports, letting
// tests simulate a server that has already moved past the locally stored
// token.
func (f *FakeSession) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *FakeSession) Seed(obj *Object, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[obj.ID] = obj
	f.byPath[obj.Path] = obj
	if content != nil {
		f.content[obj.ID] = content
	}
}

func (f *FakeSession) PushChange(ev ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, ev)
}

func (f *FakeSession) GetChangeLogToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *FakeSession) GetContentChanges(ctx context.Context, token string, maxItems int) (*ChangeBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maxItems <= 0 || maxItems > len(f.changes) {
		maxItems = len(f.changes)
	}
	events := append([]ChangeEvent(nil), f.changes[:maxItems]...)
	return &ChangeBatch{Events: events, LatestToken: f.token}, nil
}

func (f *FakeSession) GetObject(ctx context.Context, id string) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return obj, nil
}

func (f *FakeSession) GetObjectByPath(ctx context.Context, path string) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.byPath[path]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return obj, nil
}

func (f *FakeSession) GetChildren(ctx context.Context, folderID string) ([]*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Object
	for _, obj := range f.objects {
		if obj.ParentID == folderID {
			out = append(out, obj)
		}
	}
	return out, nil
}

func (f *FakeSession) CreateDocument(ctx context.Context, parentID, name string, content io.Reader) (*Object, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	obj := &Object{ID: fmt.Sprintf("fake-%d", f.nextID), ParentID: parentID, Name: name, Kind: Document, Size: int64(len(data))}
	f.objects[obj.ID] = obj
	f.content[obj.ID] = data
	return obj, nil
}

func (f *FakeSession) CreateFolder(ctx context.Context, parentID, name string) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	obj := &Object{ID: fmt.Sprintf("fake-%d", f.nextID), ParentID: parentID, Name: name, Kind: Folder}
	f.objects[obj.ID] = obj
	return obj, nil
}

func (f *FakeSession) UpdateContent(ctx context.Context, id string, content io.Reader) (*Object, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	obj.Size = int64(len(data))
	f.content[id] = data
	return obj, nil
}

func (f *FakeSession) DeleteObject(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[id]
	if !ok {
		return ErrObjectNotFound
	}
	delete(f.objects, id)
	delete(f.byPath, obj.Path)
	delete(f.content, id)
	return nil
}

func (f *FakeSession) DownloadContent(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
