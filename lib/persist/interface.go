package persist

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("persist")

// ErrNotFound is returned by Load for keys without a stored copy
var ErrNotFound = errors.New("persist: key not found")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBackend stores spilled values. Keys are the raw key bytes of the store.
// Implementations must be safe for concurrent use.
type IBackend interface {
	// Name returns the backend tag recorded in every value it holds
	Name() string
	// Store saves data under key, replacing an earlier copy
	Store(key string, data []byte) error
	// Load returns the copy stored under key or ErrNotFound
	Load(key string) ([]byte, error)
	// Delete removes the copy stored under key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Backend names
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
)

// NewBackend creates the backend selected in config
func NewBackend(config common.StoreConfig) (IBackend, error) {
	switch config.Backend {
	case BackendMemory, "":
		return NewMemoryBackend(), nil
	case BackendDisk:
		return NewDiskBackend(config.DataDir)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", config.Backend)
	}
}
