package store

import (
	"context"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the distributed, cache-coherent key-value table of a node.
// Keys are created by the store and interned, values are immutable once
// published. A nil *Value stands for an absent mapping.
type IStore interface {
	// Key returns the interned user key for name
	Key(name string) *Key
	// SystemKey returns a system key with a desired replication factor. If homes
	// are given, the first live one is the key's home.
	SystemKey(name string, repl byte, homes ...string) *Key
	// VecKey returns the key of a partitioned dataset. Datasets with the same
	// group place their chunks on the same nodes.
	VecKey(group uint32, name string) *Key
	// ChunkKey returns the key of chunk cidx of the dataset vec
	ChunkKey(vec *Key, cidx int) *Key
	// KeyFromBytes interns a key from its raw bytes
	KeyFromBytes(raw []byte) (*Key, error)

	// Put installs v under k and returns the previous value. It returns once the
	// home node published v and every cached replica of the old value was
	// invalidated. A nil v removes the mapping.
	Put(ctx context.Context, k *Key, v *Value) (prev *Value, err error)
	// PutAsync starts a put and returns immediately. Puts of one node to the same
	// key are applied in the order they were started.
	PutAsync(ctx context.Context, k *Key, v *Value) *PutFuture
	// PutIfMatch installs v only if the current payload equals expected (nil
	// expects an absent key). It returns the value found and whether v was installed.
	PutIfMatch(ctx context.Context, k *Key, v *Value, expected []byte) (cur *Value, ok bool, err error)
	// Get returns the value of k or nil if there is none
	Get(ctx context.Context, k *Key) (*Value, error)
	// Remove deletes the mapping of k and returns the previous value
	Remove(ctx context.Context, k *Key) (prev *Value, err error)

	// HomeOf returns the address of the home node of k
	HomeOf(k *Key) string
	// IsHome returns true if this node is the home of k
	IsHome(k *Key) bool
	// ReplicaIndex returns the distance of this node from the home of k along
	// the member ring: 0 on the home, -1 if this node is not a member
	ReplicaIndex(k *Key) int
	// LocalKeys returns the keys this node holds a value for. With homeOnly only
	// keys this node is home of are returned.
	LocalKeys(homeOnly bool) []*Key

	// Stats returns a snapshot of the store's counters
	Stats() Stats
	// Close stops the background cleaner
	Close()
}

// Stats are the counters of a store, as reported by the admin endpoint
type Stats struct {
	Keys        int   `json:"keys"`
	HomeKeys    int   `json:"home_keys"`
	Replicas    int   `json:"replicas"`
	Spilled     int   `json:"spilled"`
	MemoryBytes int64 `json:"memory_bytes"`
	MemoryLimit int64 `json:"memory_limit"`
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation (oversized key or value, bad key bytes).
	RetCNotHome                         // 3: The receiving node is not the home of the key.
	RetCNoMembers                       // 4: No node can be the home of the key.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotHome:
		return "NotHome"
	case RetCNoMembers:
		return "NoMembers"
	default:
		return "Unknown"
	}
}
