package serializer

import (
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
)

// flagOffset is the position of the flag byte in the header of RPC kinds
const flagOffset = 7

// NewBinarySerializer creates a new serializer writing the fixed wire header
// followed by the raw body
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using the codec package
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if !msg.Kind.IsValid() {
		return nil, fmt.Errorf("cannot serialize message of kind %s", msg.Kind)
	}

	ab := codec.NewWriteBuffer(common.HeaderSize(msg.Kind) + len(msg.Body))

	// header: control byte, sender port, task number
	ab.Put1(byte(msg.Kind)).Put2(msg.Port).Put4(msg.Task)

	// RPC kinds carry the flag byte
	if msg.Kind.IsRPC() {
		ab.Put1(byte(msg.Flags))
	} else if msg.Flags != 0 {
		return nil, fmt.Errorf("message of kind %s cannot carry flags", msg.Kind)
	}

	ab.PutRaw(msg.Body)
	return ab.Bytes(), nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (kind + port + task)
	if len(data) < 7 {
		return fmt.Errorf("data too short for message header")
	}

	ab := codec.NewReadBuffer(data)
	msg.Kind = common.MessageKind(ab.Get1())
	if !msg.Kind.IsValid() {
		return fmt.Errorf("unknown message kind %d", uint8(msg.Kind))
	}
	msg.Port = ab.Get2()
	msg.Task = ab.Get4()

	msg.Flags = 0
	if msg.Kind.IsRPC() {
		if len(data) < common.HeaderSize(msg.Kind) {
			return fmt.Errorf("data too short for flag byte")
		}
		msg.Flags = common.MessageFlags(ab.Get1())
	}

	// the body is copied, transports reuse their receive buffers
	msg.Body = nil
	if n := ab.Remaining(); n > 0 {
		msg.Body = ab.GetRaw(n)
	}
	return ab.Err()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// WithFlags returns a copy of the serialized RPC message data with flags added
func WithFlags(data []byte, flags common.MessageFlags) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	if len(out) > flagOffset && common.MessageKind(out[0]).IsRPC() {
		out[flagOffset] |= byte(flags)
	}
	return out
}

// PeekKind returns the kind of serialized message data without decoding it
func PeekKind(data []byte) common.MessageKind {
	if len(data) == 0 {
		return common.KindUnknown
	}
	return common.MessageKind(data[0])
}
