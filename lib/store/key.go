package store

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spaolacci/murmur3"
	"strconv"
	"sync/atomic"
)

// MaxKeyLen is the maximum length of the raw bytes of a key
const MaxKeyLen = 512

// KeyType is the first byte of every key
type KeyType byte

const (
	KeyUser   KeyType = 0 // [0][name]
	KeySystem KeyType = 1 // [1][repl][PutInt(len(homes))][PutStr(home)...][name]
	KeyVec    KeyType = 2 // [2][repl][group u32][name]
	KeyChunk  KeyType = 3 // [3][repl][group u32][cidx u32][vec name]
)

func (t KeyType) String() string {
	switch t {
	case KeyUser:
		return "user"
	case KeySystem:
		return "system"
	case KeyVec:
		return "vec"
	case KeyChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Key
// --------------------------------------------------------------------------

// Key is an immutable, interned key. Two keys with the same bytes obtained from
// the same store are the same pointer.
type Key struct {
	raw  string
	hash uint32

	typ   KeyType
	repl  byte
	homes []string
	group uint32
	cidx  int
	name  string

	// placement cached for one membership generation
	home atomic.Pointer[homeCache]
}

// homeCache is the placement of a key for a membership generation: the index
// of its home in the members and the replica index of this node, which is the
// distance from the home along the member ring (0 on the home, -1 if this
// node is not a member).
type homeCache struct {
	generation uint64
	home       int
	replica    int
}

// Bytes returns the raw bytes of the key
func (k *Key) Bytes() []byte {
	return []byte(k.raw)
}

// Hash returns the murmur3 hash of the raw key bytes
func (k *Key) Hash() uint32 {
	return k.hash
}

// Type returns the type tag of the key
func (k *Key) Type() KeyType {
	return k.typ
}

// Name returns the user visible name. For chunk keys it is the dataset's name.
func (k *Key) Name() string {
	return k.name
}

// Replication returns the desired replication factor
func (k *Key) Replication() byte {
	return k.repl
}

// Homes returns the pinned home candidates of a system key
func (k *Key) Homes() []string {
	return k.homes
}

// Group returns the placement group of vec and chunk keys
func (k *Key) Group() uint32 {
	return k.group
}

// Chunk returns the chunk index of a chunk key, -1 for other keys
func (k *Key) Chunk() int {
	return k.cidx
}

func (k *Key) String() string {
	switch k.typ {
	case KeySystem:
		return "sys:" + k.name
	case KeyVec:
		return "vec:" + k.name
	case KeyChunk:
		return "chunk:" + k.name + "#" + strconv.Itoa(k.cidx)
	default:
		return k.name
	}
}

// --------------------------------------------------------------------------
// Key Layouts
// --------------------------------------------------------------------------

func userKeyBytes(name string) string {
	return string(KeyUser) + name
}

func systemKeyBytes(name string, repl byte, homes []string) string {
	ab := codec.NewWriteBuffer(16 + len(name))
	ab.Put1(byte(KeySystem)).Put1(repl).PutInt(len(homes))
	for _, h := range homes {
		ab.PutStr(h)
	}
	ab.PutRaw([]byte(name))
	return string(ab.Bytes())
}

func vecKeyBytes(group uint32, name string) string {
	b := make([]byte, 6, 6+len(name))
	b[0] = byte(KeyVec)
	b[1] = 1
	binary.BigEndian.PutUint32(b[2:], group)
	return string(append(b, name...))
}

func chunkKeyBytes(vec *Key, cidx int) string {
	b := make([]byte, 10, 10+len(vec.name))
	b[0] = byte(KeyChunk)
	b[1] = vec.repl
	binary.BigEndian.PutUint32(b[2:], vec.group)
	binary.BigEndian.PutUint32(b[6:], uint32(cidx))
	return string(append(b, vec.name...))
}

// parseKey decodes the fields of a key from its raw bytes
func parseKey(raw string) (*Key, error) {
	if len(raw) == 0 {
		return nil, NewError(RetCInvalidOperation, "empty key")
	}
	if len(raw) > MaxKeyLen {
		return nil, NewError(RetCInvalidOperation, fmt.Sprintf("key of %d bytes exceeds %d", len(raw), MaxKeyLen))
	}

	k := &Key{raw: raw, hash: murmur3.Sum32([]byte(raw)), typ: KeyType(raw[0]), cidx: -1, repl: 1}
	switch k.typ {
	case KeyUser:
		k.name = raw[1:]
	case KeySystem:
		ab := codec.NewReadBuffer([]byte(raw[1:]))
		k.repl = ab.Get1()
		n := ab.GetInt()
		if ab.Err() != nil || n < 0 || n > MaxKeyLen {
			return nil, NewError(RetCInvalidOperation, "malformed system key")
		}
		for i := 0; i < n; i++ {
			k.homes = append(k.homes, ab.GetStr())
		}
		if ab.Err() != nil {
			return nil, NewError(RetCInvalidOperation, "malformed system key")
		}
		k.name = string(ab.GetRaw(ab.Remaining()))
	case KeyVec:
		if len(raw) < 6 {
			return nil, NewError(RetCInvalidOperation, "malformed vec key")
		}
		k.repl = raw[1]
		k.group = binary.BigEndian.Uint32([]byte(raw[2:6]))
		k.name = raw[6:]
	case KeyChunk:
		if len(raw) < 10 {
			return nil, NewError(RetCInvalidOperation, "malformed chunk key")
		}
		k.repl = raw[1]
		k.group = binary.BigEndian.Uint32([]byte(raw[2:6]))
		k.cidx = int(binary.BigEndian.Uint32([]byte(raw[6:10])))
		k.name = raw[10:]
	default:
		return nil, NewError(RetCInvalidOperation, fmt.Sprintf("unknown key type %d", raw[0]))
	}
	return k, nil
}

// --------------------------------------------------------------------------
// Interner
// --------------------------------------------------------------------------

// interner maps raw key bytes to the canonical *Key
type interner struct {
	keys *xsync.MapOf[string, *Key]
}

func newInterner() *interner {
	return &interner{keys: xsync.NewMapOf[string, *Key]()}
}

// intern returns the canonical key for raw
func (in *interner) intern(raw string) (*Key, error) {
	if k, ok := in.keys.Load(raw); ok {
		return k, nil
	}
	parsed, err := parseKey(raw)
	if err != nil {
		return nil, err
	}
	k, _ := in.keys.LoadOrStore(raw, parsed)
	return k, nil
}

// mustIntern is intern for keys built by the store itself
func (in *interner) mustIntern(raw string) *Key {
	k, err := in.intern(raw)
	if err != nil {
		panic(fmt.Sprintf("store: %v", err))
	}
	return k
}
