package jsvm

import (
	"sort"
	"strings"
	"sync"
)

// memFS is the in-memory filesystem of one context. Paths are cleaned,
// slash-separated and relative to the workspace root.
type memFS struct {
	mu    sync.RWMutex
	files map[string]string
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]string)}
}

func (f *memFS) Get(p string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	content, ok := f.files[p]
	return content, ok
}

func (f *memFS) Put(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = content
}

// IsDir reports whether any file lives under dir
func (f *memFS) IsDir(dir string) bool {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	f.mu.RLock()
	defer f.mu.RUnlock()
	for p := range f.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (f *memFS) Paths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	paths := make([]string, 0, len(f.files))
	for p := range f.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
