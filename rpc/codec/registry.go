package codec

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// NullTypeID is the type-id written for a nil object
const NullTypeID uint16 = 0

// Freezable is implemented by every type that travels over the wire.
// Write and Read encode the named fields explicitly, in the same order.
type Freezable interface {
	// TypeID returns the static type-id of the implementation
	TypeID() uint16
	// Write encodes the object into ab
	Write(ab *AutoBuffer)
	// Read decodes the object from ab, overwriting the receiver's fields
	Read(ab *AutoBuffer)
}

// Factory creates an empty instance of a registered type
type Factory func() Freezable

// --------------------------------------------------------------------------
// Type Registry
// --------------------------------------------------------------------------

// Registry maps type-ids to factories. Every node owns one registry; all nodes
// of a cluster register the same ids.
type Registry struct {
	factories *xsync.MapOf[uint16, Factory]
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: xsync.NewMapOf[uint16, Factory](),
	}
}

// Register adds a factory for id. Registering the null id or the same id twice panics.
func (r *Registry) Register(id uint16, factory Factory) {
	if id == NullTypeID {
		panic("codec: type-id 0 is reserved for nil")
	}
	if _, loaded := r.factories.LoadOrStore(id, factory); loaded {
		panic(fmt.Sprintf("codec: type-id %d registered twice", id))
	}
}

// IsRegistered returns true if a factory is known for id
func (r *Registry) IsRegistered(id uint16) bool {
	_, ok := r.factories.Load(id)
	return ok
}

// IDOf returns the type-id of v, NullTypeID for nil. Unregistered types are an error.
func (r *Registry) IDOf(v Freezable) (uint16, error) {
	if v == nil {
		return NullTypeID, nil
	}
	id := v.TypeID()
	if !r.IsRegistered(id) {
		return 0, fmt.Errorf("codec: type-id %d (%T) is not registered", id, v)
	}
	return id, nil
}

// New creates an empty instance for id
func (r *Registry) New(id uint16) (Freezable, error) {
	factory, ok := r.factories.Load(id)
	if !ok {
		return nil, fmt.Errorf("codec: unknown type-id %d", id)
	}
	return factory(), nil
}

// Decode creates an instance for id and reads it from b
func (r *Registry) Decode(id uint16, b []byte) (Freezable, error) {
	if id == NullTypeID {
		return nil, nil
	}
	obj, err := r.New(id)
	if err != nil {
		return nil, err
	}
	ab := NewReadBuffer(b)
	obj.Read(ab)
	if ab.Err() != nil {
		return nil, fmt.Errorf("codec: decoding type-id %d: %w", id, ab.Err())
	}
	return obj, nil
}

// Encode writes v without a type-id prefix and returns the bytes
func Encode(v Freezable) []byte {
	ab := NewWriteBuffer(0)
	v.Write(ab)
	return ab.Bytes()
}

// --------------------------------------------------------------------------
// Typed Object Framing
// --------------------------------------------------------------------------

// PutObj writes the type-id of v followed by its encoded form. nil writes NullTypeID.
func (ab *AutoBuffer) PutObj(v Freezable) *AutoBuffer {
	if v == nil {
		return ab.Put2(NullTypeID)
	}
	ab.Put2(v.TypeID())
	v.Write(ab)
	return ab
}

// GetObj reads an object written by PutObj, creating it through reg.
// Unknown type-ids are recorded as the buffer's error.
func (ab *AutoBuffer) GetObj(reg *Registry) Freezable {
	id := ab.Get2()
	if ab.err != nil || id == NullTypeID {
		return nil
	}
	obj, err := reg.New(id)
	if err != nil {
		ab.fail(err)
		return nil
	}
	obj.Read(ab)
	if ab.err != nil {
		return nil
	}
	return obj
}
