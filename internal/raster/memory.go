package raster

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TransientPrefix is the URL path under which MemoryStore serves its pages.
const TransientPrefix = "/transient-pages/"

// MemoryStore holds pages whose upload failed, for as long as a viewer shows them.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores a JPEG page and returns its reference.
func (m *MemoryStore) Put(data []byte) string {
	ref := TransientPrefix + uuid.NewString() + ".jpg"
	m.mu.Lock()
	m.blobs[ref] = data
	m.mu.Unlock()
	return ref
}

func (m *MemoryStore) Get(ref string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	return data, ok
}

// Release frees a reference. Unknown references are ignored.
func (m *MemoryStore) Release(ref string) {
	m.mu.Lock()
	delete(m.blobs, ref)
	m.mu.Unlock()
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// ServeHTTP serves GET TransientPrefix + "<id>.jpg".
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.URL.Path, TransientPrefix) {
		http.NotFound(w, r)
		return
	}
	data, ok := m.Get(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}
