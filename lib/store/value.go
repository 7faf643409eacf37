package store

import (
	"bytes"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/persist"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"runtime"
	"sync/atomic"
	"time"
)

// MaxValueSize is the largest payload a value may carry
const MaxValueSize = 256 << 20

// lock word states
const (
	unlocked    int32 = 0
	writeLocked int32 = -1
)

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is an immutable payload published under a key. The payload exists as raw
// bytes, as a decoded object cache or as a copy in the persistence backend; at
// least one of them is present.
//
// The lock word counts pending reads on the home node (>0) or marks the value
// as being replaced (-1). It is only changed by compare-and-swap. The replica
// set lists the peers holding a cached copy, it is only maintained on the home.
type Value struct {
	typ  uint16
	size int

	raw     atomic.Pointer[[]byte]
	obj     atomic.Pointer[cachedObject]
	spilled atomic.Pointer[spillRef]
	state   atomic.Int32
	touched atomic.Int64

	lock     atomic.Int32
	replicas atomic.Pointer[replicaSet]

	// set once the value is handed to a put, a value lives under one key only
	installed atomic.Bool
}

type cachedObject struct {
	obj codec.Freezable
}

type spillRef struct {
	backend persist.IBackend
	key     string
}

// NewValue creates a value holding data. The caller must not modify data
// afterwards.
func NewValue(data []byte) *Value {
	return newValue(codec.NullTypeID, data)
}

// NewObjectValue creates a value holding the encoded form of obj. The object is
// kept as decoded cache.
func NewObjectValue(obj codec.Freezable) *Value {
	v := newValue(obj.TypeID(), codec.Encode(obj))
	v.obj.Store(&cachedObject{obj: obj})
	return v
}

func newValue(typ uint16, data []byte) *Value {
	if data == nil {
		data = []byte{}
	}
	v := &Value{typ: typ, size: len(data)}
	v.raw.Store(&data)
	v.touch()
	return v
}

// Type returns the type-id of the payload, codec.NullTypeID for plain bytes
func (v *Value) Type() uint16 {
	return v.typ
}

// Size returns the payload size in bytes
func (v *Value) Size() int {
	return v.size
}

// Bytes returns the payload. Spilled payloads are read back from the persistence
// backend; nil is returned if that fails.
func (v *Value) Bytes() []byte {
	data, err := v.load()
	if err != nil {
		Logger.Errorf("Failed to load spilled value: %v", err)
		return nil
	}
	return data
}

// Object decodes the payload through reg. The decoded object is cached.
func (v *Value) Object(reg *codec.Registry) (codec.Freezable, error) {
	if c := v.obj.Load(); c != nil {
		return c.obj, nil
	}
	data, err := v.load()
	if err != nil {
		return nil, err
	}
	obj, err := reg.Decode(v.typ, data)
	if err != nil {
		return nil, err
	}
	v.obj.Store(&cachedObject{obj: obj})
	return obj, nil
}

// Equal returns true if the payload equals data
func (v *Value) Equal(data []byte) bool {
	cur, err := v.load()
	return err == nil && bytes.Equal(cur, data)
}

func (v *Value) String() string {
	if v == nil {
		return "<absent>"
	}
	data := v.Bytes()
	if v.typ == codec.NullTypeID && len(data) <= 64 {
		return string(data)
	}
	return "<" + byteCount(v.size) + ">"
}

// clone returns a fresh value with the same payload
func (v *Value) clone() *Value {
	c := newValue(v.typ, v.Bytes())
	if o := v.obj.Load(); o != nil {
		c.obj.Store(o)
	}
	return c
}

// byteCount formats n bytes with a binary unit
func byteCount(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// --------------------------------------------------------------------------
// Wire Format (implements codec.Freezable)
// --------------------------------------------------------------------------

func (v *Value) TypeID() uint16 { return common.TypeIDValue }

func (v *Value) Write(ab *codec.AutoBuffer) {
	ab.Put2(v.typ).PutA1(v.Bytes())
}

func (v *Value) Read(ab *codec.AutoBuffer) {
	v.typ = ab.Get2()
	data := ab.GetA1()
	if data == nil {
		data = []byte{}
	}
	v.size = len(data)
	v.raw.Store(&data)
	v.touch()
}

// freezable returns v as codec.Freezable, nil for an absent value
func (v *Value) freezable() codec.Freezable {
	if v == nil {
		return nil
	}
	return v
}

// getValue reads a value written with PutObj(v.freezable())
func getValue(ab *codec.AutoBuffer, reg *codec.Registry) *Value {
	v, _ := ab.GetObj(reg).(*Value)
	return v
}

// --------------------------------------------------------------------------
// Memory Representation
// --------------------------------------------------------------------------

// residency states of a value
const (
	stateResident int32 = iota // payload in memory, counted by the store
	stateSpilling              // payload being written to the backend
	stateSpilled               // payload only in the backend
	stateDetached              // removed from the table, not counted
)

// load returns the payload from memory or the persistence backend
func (v *Value) load() ([]byte, error) {
	if r := v.raw.Load(); r != nil {
		return *r, nil
	}
	ref := v.spilled.Load()
	if ref == nil {
		if r := v.raw.Load(); r != nil {
			return *r, nil
		}
		return nil, NewError(RetCInternalError, "value has no payload")
	}
	data, err := ref.backend.Load(ref.key)
	if err != nil {
		// detached concurrently, the payload is back in memory
		if r := v.raw.Load(); r != nil {
			return *r, nil
		}
		return nil, err
	}
	return data, nil
}

// spill writes the payload to backend and drops the in-memory copy. It returns
// the number of bytes freed.
func (v *Value) spill(backend persist.IBackend, key string) (int, error) {
	if !v.state.CompareAndSwap(stateResident, stateSpilling) {
		return 0, nil
	}
	data := v.raw.Load()
	if err := backend.Store(key, *data); err != nil {
		v.state.Store(stateResident)
		return 0, err
	}
	v.spilled.Store(&spillRef{backend: backend, key: key})
	v.state.Store(stateSpilled)
	v.raw.Store(nil)
	v.obj.Store(nil)
	return v.size, nil
}

// detach marks a value removed from the table. A spilled payload is read back
// into memory and its persisted copy deleted, so holders of the value can still
// read it. It returns the number of counted bytes freed.
func (v *Value) detach() int {
	for {
		switch s := v.state.Load(); s {
		case stateResident:
			if v.state.CompareAndSwap(s, stateDetached) {
				return v.size
			}
		case stateSpilling:
			runtime.Gosched()
		case stateSpilled:
			if !v.state.CompareAndSwap(s, stateDetached) {
				continue
			}
			ref := v.spilled.Load()
			if data, err := ref.backend.Load(ref.key); err == nil {
				v.raw.Store(&data)
			} else {
				Logger.Errorf("Failed to read back spilled value %q: %v", ref.key, err)
			}
			if err := ref.backend.Delete(ref.key); err != nil {
				Logger.Warningf("Failed to delete spilled copy of %q: %v", ref.key, err)
			}
			return 0
		default:
			return 0
		}
	}
}

// resident returns true if the payload is held in memory and counted
func (v *Value) resident() bool {
	return v.state.Load() == stateResident
}

// isSpilled returns true if the payload only exists in the backend
func (v *Value) isSpilled() bool {
	return v.state.Load() == stateSpilled
}

func (v *Value) touch() {
	v.touched.Store(time.Now().UnixNano())
}

// --------------------------------------------------------------------------
// Lock Word
// --------------------------------------------------------------------------

// lockRead registers a pending read. It fails while the value is write locked.
func (v *Value) lockRead() bool {
	for {
		n := v.lock.Load()
		if n == writeLocked {
			return false
		}
		if v.lock.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// unlockRead completes a pending read
func (v *Value) unlockRead() {
	for {
		n := v.lock.Load()
		if n <= 0 {
			panic("store: unlockRead on a value without pending reads")
		}
		if v.lock.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// tryLockWrite write locks the value if no reads are pending
func (v *Value) tryLockWrite() bool {
	return v.lock.CompareAndSwap(unlocked, writeLocked)
}

// readers returns the number of pending reads, -1 if write locked
func (v *Value) readers() int32 {
	return v.lock.Load()
}

// --------------------------------------------------------------------------
// Replica Set
// --------------------------------------------------------------------------

// replicaSet is an immutable bitmap of peer handles
type replicaSet []uint64

func (r replicaSet) has(h uint16) bool {
	i := int(h / 64)
	return i < len(r) && r[i]&(1<<(h%64)) != 0
}

func (r replicaSet) with(h uint16) replicaSet {
	i := int(h / 64)
	n := max(len(r), i+1)
	out := make(replicaSet, n)
	copy(out, r)
	out[i] |= 1 << (h % 64)
	return out
}

func (r replicaSet) handles() []uint16 {
	var out []uint16
	for i, word := range r {
		for b := 0; b < 64; b++ {
			if word&(1<<b) != 0 {
				out = append(out, uint16(i*64+b))
			}
		}
	}
	return out
}

// addReplica records that peer h holds a cached copy
func (v *Value) addReplica(h uint16) {
	for {
		old := v.replicas.Load()
		var cur replicaSet
		if old != nil {
			cur = *old
		}
		if cur.has(h) {
			return
		}
		next := cur.with(h)
		if v.replicas.CompareAndSwap(old, &next) {
			return
		}
	}
}

// replicaHandles returns the handles of all recorded replica holders
func (v *Value) replicaHandles() []uint16 {
	if r := v.replicas.Load(); r != nil {
		return r.handles()
	}
	return nil
}
