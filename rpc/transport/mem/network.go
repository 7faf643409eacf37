package mem

import (
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
)

// FilterFunc decides whether a datagram is delivered. Returning false drops it.
type FilterFunc func(from, to string, data []byte) bool

// Network connects in-process transports by address. Datagrams are delivered
// asynchronously (and may therefore be reordered); they can additionally be
// dropped or duplicated at random or by a filter. Streams are synchronous pipes.
type Network struct {
	endpoints *xsync.MapOf[string, *memTransport]

	rndMu sync.Mutex
	rnd   *rand.Rand

	dropRate atomic.Uint64 // per mille
	dupRate  atomic.Uint64 // per mille
	filter   atomic.Pointer[FilterFunc]

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewNetwork creates an empty network. The seed makes random loss reproducible.
func NewNetwork(seed int64) *Network {
	return &Network{
		endpoints: xsync.NewMapOf[string, *memTransport](),
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Transport creates the transport for addr (host:port)
func (n *Network) Transport(addr string) transport.ITransport {
	return &memTransport{network: n, addr: addr}
}

// SetLoss sets the probabilities (0..1) of dropping and duplicating a datagram
func (n *Network) SetLoss(drop, dup float64) {
	n.dropRate.Store(uint64(drop * 1000))
	n.dupRate.Store(uint64(dup * 1000))
}

// SetFilter installs f for every following datagram, nil removes the filter
func (n *Network) SetFilter(f FilterFunc) {
	if f == nil {
		n.filter.Store(nil)
		return
	}
	n.filter.Store(&f)
}

// Delivered returns the number of datagrams handed to a receiver
func (n *Network) Delivered() int64 {
	return n.delivered.Load()
}

// Dropped returns the number of datagrams dropped by loss or filter
func (n *Network) Dropped() int64 {
	return n.dropped.Load()
}

// roll returns true with the given per mille probability
func (n *Network) roll(perMille uint64) bool {
	if perMille == 0 {
		return false
	}
	n.rndMu.Lock()
	defer n.rndMu.Unlock()
	return uint64(n.rnd.Intn(1000)) < perMille
}

// deliver routes a datagram from -> to
func (n *Network) deliver(from, to string, data []byte) {
	dst, ok := n.endpoints.Load(to)
	if !ok || dst.closed.Load() {
		n.dropped.Add(1)
		return
	}
	if f := n.filter.Load(); f != nil && !(*f)(from, to, data) {
		n.dropped.Add(1)
		return
	}
	if n.roll(n.dropRate.Load()) {
		n.dropped.Add(1)
		return
	}

	copies := 1
	if n.roll(n.dupRate.Load()) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		buf := make([]byte, len(data))
		copy(buf, data)
		n.delivered.Add(1)
		go dst.packets(addr(from), buf)
	}
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// memTransport implements transport.ITransport on top of a Network
type memTransport struct {
	network *Network
	addr    string
	config  common.TransportConfig

	packets transport.PacketHandleFunc
	streams transport.StreamHandleFunc
	closed  atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *memTransport) RegisterHandlers(packets transport.PacketHandleFunc, streams transport.StreamHandleFunc) {
	t.packets = packets
	t.streams = streams
}

func (t *memTransport) Listen(config common.TransportConfig) error {
	if t.packets == nil || t.streams == nil {
		return fmt.Errorf("handlers must be registered before Listen")
	}
	if config.MaxPacketSize <= 0 {
		config.MaxPacketSize = common.DefaultMaxPacketSize
	}
	t.config = config
	if _, loaded := t.network.endpoints.LoadOrStore(t.addr, t); loaded {
		return fmt.Errorf("address %s already in use", t.addr)
	}
	return nil
}

func (t *memTransport) SendPacket(to string, data []byte) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	if len(data) > t.config.MaxPacketSize {
		return fmt.Errorf("packet of %d bytes exceeds the maximum of %d", len(data), t.config.MaxPacketSize)
	}
	t.network.deliver(t.addr, to, data)
	return nil
}

func (t *memTransport) Dial(to string) (net.Conn, error) {
	if t.closed.Load() {
		return nil, net.ErrClosed
	}
	dst, ok := t.network.endpoints.Load(to)
	if !ok || dst.closed.Load() {
		return nil, &net.OpError{Op: "dial", Net: "mem", Addr: addr(to), Err: fmt.Errorf("connection refused")}
	}
	local, remote := net.Pipe()
	go dst.streams(&conn{Conn: remote, local: addr(to), remote: addr(t.addr)})
	return &conn{Conn: local, local: addr(t.addr), remote: addr(to)}, nil
}

func (t *memTransport) MaxPacketSize() int {
	return t.config.MaxPacketSize
}

func (t *memTransport) Addr() string {
	return t.addr
}

func (t *memTransport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		t.network.endpoints.Compute(t.addr, func(old *memTransport, loaded bool) (*memTransport, bool) {
			// only remove the mapping owned by this transport
			return old, !loaded || old == t
		})
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// addr implements net.Addr for in-process endpoints
type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }

// conn reports the in-process endpoints as its addresses
type conn struct {
	net.Conn
	local, remote net.Addr
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }
