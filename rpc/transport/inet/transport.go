package inet

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/transport"
	"github.com/ValentinKolb/dCloud/rpc/transport/base"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// maxDatagramSize is the receive buffer size for a single datagram
	maxDatagramSize = 64 * 1024
	// dialTimeout bounds establishing a new stream connection
	dialTimeout = 5 * time.Second
)

// inetTransport implements transport.ITransport with a UDP socket for datagrams
// and a TCP listener for streams, both bound to the same endpoint
type inetTransport struct {
	packets transport.PacketHandleFunc
	streams transport.StreamHandleFunc
	config  common.TransportConfig

	udp      *net.UDPConn
	listener net.Listener
	addr     string

	// resolved datagram destinations
	resolved *xsync.MapOf[string, *net.UDPAddr]

	bufferPool *sync.Pool
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// --------------------------------------------------------------------------
// Transport Factory Method
// --------------------------------------------------------------------------

// NewInetTransport creates a new transport using UDP for datagrams and TCP for streams
func NewInetTransport() transport.ITransport {
	return &inetTransport{
		resolved: xsync.NewMapOf[string, *net.UDPAddr](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, maxDatagramSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ITransport)
// --------------------------------------------------------------------------

func (t *inetTransport) RegisterHandlers(packets transport.PacketHandleFunc, streams transport.StreamHandleFunc) {
	t.packets = packets
	t.streams = streams
}

func (t *inetTransport) Listen(config common.TransportConfig) error {
	if t.packets == nil || t.streams == nil {
		return fmt.Errorf("handlers must be registered before Listen")
	}
	if config.MaxPacketSize <= 0 {
		config.MaxPacketSize = common.DefaultMaxPacketSize
	}
	if config.MaxPacketSize > maxDatagramSize {
		return fmt.Errorf("max packet size %d exceeds the datagram limit of %d", config.MaxPacketSize, maxDatagramSize)
	}
	t.config = config

	// the stream listener is bound first so that port 0 resolves to a concrete port
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create TCP listener: %v", err)
	}
	host, _, err := net.SplitHostPort(config.Endpoint)
	if err != nil {
		listener.Close()
		return fmt.Errorf("invalid endpoint %s: %v", config.Endpoint, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to resolve UDP endpoint: %v", err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to create UDP socket: %v", err)
	}
	if config.ReadBufferSize > 0 {
		_ = udp.SetReadBuffer(config.ReadBufferSize)
	}
	if config.WriteBufferSize > 0 {
		_ = udp.SetWriteBuffer(config.WriteBufferSize)
	}

	t.listener = listener
	t.udp = udp
	t.addr = net.JoinHostPort(host, strconv.Itoa(port))

	base.Logger.Infof("Listening on %s (udp+tcp, max packet %d bytes)", t.addr, config.MaxPacketSize)

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.readPackets()
	}()
	go func() {
		defer t.wg.Done()
		base.AcceptLoop(listener, t, t.streams)
	}()
	return nil
}

func (t *inetTransport) SendPacket(addr string, data []byte) error {
	if len(data) > t.config.MaxPacketSize {
		return fmt.Errorf("packet of %d bytes exceeds the maximum of %d", len(data), t.config.MaxPacketSize)
	}
	dst, ok := t.resolved.Load(addr)
	if !ok {
		var err error
		if dst, err = net.ResolveUDPAddr("udp", addr); err != nil {
			return fmt.Errorf("failed to resolve %s: %v", addr, err)
		}
		t.resolved.Store(addr, dst)
	}
	_, err := t.udp.WriteToUDP(data, dst)
	return err
}

func (t *inetTransport) Dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	if err := t.UpgradeConnection(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", addr, err)
	}
	return conn, nil
}

func (t *inetTransport) MaxPacketSize() int {
	return t.config.MaxPacketSize
}

func (t *inetTransport) Addr() string {
	return t.addr
}

func (t *inetTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.listener != nil {
			err = t.listener.Close()
		}
		if t.udp != nil {
			if uerr := t.udp.Close(); err == nil {
				err = uerr
			}
		}
		t.wg.Wait()
	})
	return err
}

// --------------------------------------------------------------------------
// Connection Upgrade (docu see base.IConnUpgrader)
// --------------------------------------------------------------------------

// UpgradeConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func (t *inetTransport) UpgradeConnection(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}
	config := t.config

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	// Set socket write buffer size if configured
	if config.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if config.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if config.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(config.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set TCP linger option if configured
	if config.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(config.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readPackets receives datagrams until the socket is closed
func (t *inetTransport) readPackets() {
	for {
		buf := t.bufferPool.Get().([]byte)
		n, from, err := t.udp.ReadFromUDP(buf)
		if err != nil {
			t.bufferPool.Put(buf)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			base.Logger.Warningf("Datagram read error on %s: %v", t.addr, err)
			continue
		}
		t.packets(from, buf[:n])
		t.bufferPool.Put(buf)
	}
}
