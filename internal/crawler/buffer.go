package crawler

import (
	"sync"

	"github.com/cmissync/core/internal/triplet"
)

// Buffer is the remote crawler's shared ordered buffer: a mutex-guarded
// insertion-ordered map from canonical name to the remote view observed
// for it. Insertion order matters to the assembler, which iterates it in
// the order the depth-first remote walk discovered entries so that
// parents are always handled before children.
type Buffer struct {
	mu      sync.Mutex
	order   []triplet.Name
	entries map[triplet.Name]*triplet.RemoteView
}

// NewBuffer returns an empty ordered buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[triplet.Name]*triplet.RemoteView)}
}

// Add records rv under name, preserving first-seen insertion order.
func (b *Buffer) Add(name triplet.Name, rv *triplet.RemoteView) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[name]; !ok {
		b.order = append(b.order, name)
	}
	b.entries[name] = rv
}

// Get returns the remote view recorded for name, if any.
func (b *Buffer) Get(name triplet.Name) (*triplet.RemoteView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rv, ok := b.entries[name]
	return rv, ok
}

// OrderedNames returns every recorded name in insertion order. The
// returned slice is a snapshot; callers may range over it after the
// crawl completes without holding the lock.
func (b *Buffer) OrderedNames() []triplet.Name {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]triplet.Name, len(b.order))
	copy(out, b.order)
	return out
}

// Clear empties the buffer, required at assembler exit per the
// crawler-mode contract ("finally clear both buffers").
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.entries = make(map[triplet.Name]*triplet.RemoteView)
}
