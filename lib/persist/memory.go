package persist

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// memoryBackend keeps spilled values in a concurrent map. The data is copied,
// so the caller may reuse its buffers.
type memoryBackend struct {
	data *xsync.MapOf[string, []byte]
}

// NewMemoryBackend creates an in-process backend
func NewMemoryBackend() IBackend {
	return &memoryBackend{data: xsync.NewMapOf[string, []byte]()}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IBackend)
// --------------------------------------------------------------------------

func (b *memoryBackend) Name() string {
	return BackendMemory
}

func (b *memoryBackend) Store(key string, data []byte) error {
	b.data.Store(key, append([]byte(nil), data...))
	return nil
}

func (b *memoryBackend) Load(key string) ([]byte, error) {
	data, ok := b.data.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memoryBackend) Delete(key string) error {
	b.data.Delete(key)
	return nil
}
