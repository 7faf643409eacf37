package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is a single frame exchanged between two nodes.
//
// On the wire every message starts with the control byte (Kind), the sender's
// listening port and the task number. RPC kinds add a flag byte. The body is
// encoded by the component owning the message kind.
type Message struct {
	Kind  MessageKind  `json:"kind"`
	Port  uint16       `json:"port"`
	Task  uint32       `json:"task"`
	Flags MessageFlags `json:"flags,omitempty"`
	Body  []byte       `json:"body,omitempty"`
}

// HeaderSize returns the number of header bytes for messages of kind k
func HeaderSize(k MessageKind) int {
	if k.IsRPC() {
		return 8
	}
	return 7
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewExecMessage creates a request carrying the encoded task in body
func NewExecMessage(port uint16, task uint32, body []byte) *Message {
	return &Message{Kind: KindExec, Port: port, Task: task, Body: body}
}

// NewAckMessage creates the reply to task carrying the encoded result in body
func NewAckMessage(port uint16, task uint32, body []byte) *Message {
	return &Message{Kind: KindAck, Port: port, Task: task, Flags: FlagReply, Body: body}
}

// NewAckAckMessage acknowledges the reply to task. The body carries the caller's low-water mark.
func NewAckAckMessage(port uint16, task uint32, body []byte) *Message {
	return &Message{Kind: KindAckAck, Port: port, Task: task, Body: body}
}

// NewNackMessage tells the caller that task is still running
func NewNackMessage(port uint16, task uint32) *Message {
	return &Message{Kind: KindNack, Port: port, Task: task, Flags: FlagReply}
}

// NewRebootedMessage announces that the sender lost all protocol state
func NewRebootedMessage(port uint16, epoch uint32) *Message {
	return &Message{Kind: KindRebooted, Port: port, Task: epoch}
}

// --------------------------------------------------------------------------
// Message Kinds
// --------------------------------------------------------------------------

// MessageKind is the control byte of a message
type MessageKind uint8

const (
	KindUnknown  MessageKind = iota // 0: invalid
	KindExec                        // 1: execute a task on the receiver
	KindAck                         // 2: result of a task
	KindAckAck                      // 3: result received, callee may forget it
	KindNack                        // 4: task still running (busy)
	KindRebooted                    // 5: sender restarted and lost its protocol state
)

// IsRPC returns true for kinds that carry a flag byte
func (k MessageKind) IsRPC() bool {
	return k >= KindExec && k <= KindNack
}

// IsValid returns true for known kinds
func (k MessageKind) IsValid() bool {
	return k > KindUnknown && k <= KindRebooted
}

// String returns the string representation of the MessageKind
func (k MessageKind) String() string {
	switch k {
	case KindExec:
		return "Exec"
	case KindAck:
		return "Ack"
	case KindAckAck:
		return "AckAck"
	case KindNack:
		return "Nack"
	case KindRebooted:
		return "Rebooted"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// MarshalJSON implements the json.Marshaler interface
func (k MessageKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// --------------------------------------------------------------------------
// Message Flags
// --------------------------------------------------------------------------

// MessageFlags distinguish the variants of an RPC message
type MessageFlags uint8

const (
	FlagStream MessageFlags = 1 << 0 // sent over a stream connection
	FlagReply  MessageFlags = 1 << 1 // sent by the callee
	FlagRetry  MessageFlags = 1 << 7 // idempotent resend of an earlier message
)

// Has returns true if all bits of f are set
func (m MessageFlags) Has(f MessageFlags) bool {
	return m&f == f
}
