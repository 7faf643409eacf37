package transport

import (
	"github.com/ValentinKolb/dCloud/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Handler Functions
// --------------------------------------------------------------------------

// PacketHandleFunc is called by the transport for every datagram received.
// The data slice is only valid during the call.
type PacketHandleFunc func(from net.Addr, data []byte)

// StreamHandleFunc is called by the transport for every accepted stream connection.
// The handler owns the connection and must close it.
type StreamHandleFunc func(conn net.Conn)

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// ITransport is the interface of the hybrid transport used between nodes.
// Small messages travel as connectionless datagrams, large ones over stream
// connections. Datagrams and streams share one endpoint so that the sender's
// port identifies it for both.
type ITransport interface {
	// RegisterHandlers registers the callbacks for received datagrams and accepted streams.
	// It must be called before Listen.
	RegisterHandlers(packets PacketHandleFunc, streams StreamHandleFunc)
	// Listen binds the endpoint and starts receiving in the background
	Listen(config common.TransportConfig) error
	// SendPacket sends data as a single datagram. Delivery is not guaranteed.
	SendPacket(addr string, data []byte) error
	// Dial opens a new stream connection to addr
	Dial(addr string) (net.Conn, error)
	// MaxPacketSize is the largest message SendPacket accepts
	MaxPacketSize() int
	// Addr returns the bound endpoint (host:port)
	Addr() string
	// Close stops receiving and releases the endpoint
	Close() error
}
