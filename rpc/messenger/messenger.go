package messenger

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/ValentinKolb/dCloud/rpc/serializer"
	"github.com/ValentinKolb/dCloud/rpc/transport"
	"github.com/ValentinKolb/dCloud/rpc/transport/base"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"net"
	"strconv"
	"sync"
	"time"
)

var Logger = logger.GetLogger("messenger")

// defaultStreamBufferSize is used if the transport config sets no buffer size
const defaultStreamBufferSize = 64 * 1024

// --------------------------------------------------------------------------
// Interface
// --------------------------------------------------------------------------

// IMessenger executes tasks on remote nodes with at-most-once semantics per
// task number over an unreliable transport
type IMessenger interface {
	// Start binds the transport and starts the retry loop
	Start(config common.TransportConfig) error
	// Announce tells the nodes at addrs that this node (re)started
	Announce(addrs []string)
	// Call executes task on p and returns the task as computed by p
	Call(ctx context.Context, p *peer.Peer, task Task) (Task, error)
	// CallAsync sends task to p and returns a future for the result
	CallAsync(ctx context.Context, p *peer.Peer, task Task) *Future
	// Self returns the peer of the local node
	Self() *peer.Peer
	// Peers returns the peer registry
	Peers() *peer.Registry
	// Scheduler returns the scheduler tasks are executed on
	Scheduler() sched.IScheduler
	// Types returns the type registry tasks are decoded with
	Types() *codec.Registry
	// Epoch returns the boot epoch of the local node
	Epoch() uint32
	// Close stops the messenger and fails all pending calls with ErrClosed
	Close() error
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

type messengerImpl struct {
	config     common.MessengerConfig
	transport  transport.ITransport
	serializer serializer.IRPCSerializer
	types      *codec.Registry
	peers      *peer.Registry
	sched      sched.IScheduler
	metrics    *messengerMetrics

	self      *peer.Peer
	port      uint16
	epoch     uint32
	bufSize   int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMessenger creates a messenger sending over tr. Tasks are decoded with types
// and executed on s. Metrics are registered in set and stats (both may be nil).
func NewMessenger(
	config common.MessengerConfig,
	tr transport.ITransport,
	types *codec.Registry,
	peers *peer.Registry,
	s sched.IScheduler,
	set *metrics.Set,
	stats gometrics.Registry,
) IMessenger {
	if config.RetryInitial <= 0 {
		config.RetryInitial = common.DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = common.DefaultRetryMax
	}
	if config.ReofferInterval <= 0 {
		config.ReofferInterval = common.DefaultReofferInterval
	}
	if config.TickInterval <= 0 {
		config.TickInterval = common.DefaultTickInterval
	}
	if !types.IsRegistered(common.TypeIDPing) {
		types.Register(common.TypeIDPing, func() codec.Freezable { return &Ping{} })
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &messengerImpl{
		config:     config,
		transport:  tr,
		serializer: serializer.NewBinarySerializer(),
		types:      types,
		peers:      peers,
		sched:      s,
		metrics:    newMessengerMetrics(set, stats),
		epoch:      bootEpoch(),
		ctx:        ctx,
		cancel:     cancel,
	}
	tr.RegisterHandlers(m.handlePacket, m.handleStream)
	return m
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IMessenger)
// --------------------------------------------------------------------------

func (m *messengerImpl) Start(config common.TransportConfig) error {
	if err := m.transport.Listen(config); err != nil {
		return err
	}
	addr := m.transport.Addr()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid transport address %s: %v", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port in %s: %v", addr, err)
	}
	m.port = uint16(port)
	m.bufSize = config.StreamBufferSize
	if m.bufSize <= 0 {
		m.bufSize = defaultStreamBufferSize
	}
	m.self = m.peers.Intern(addr)

	m.wg.Add(1)
	go m.retryLoop()

	Logger.Infof("Messenger started on %s (epoch %d)", addr, m.epoch)
	return nil
}

func (m *messengerImpl) Announce(addrs []string) {
	data, err := m.serializer.Serialize(*common.NewRebootedMessage(m.port, m.epoch))
	if err != nil {
		Logger.Errorf("Failed to encode reboot announcement: %v", err)
		return
	}
	for _, addr := range addrs {
		if m.self != nil && addr == m.self.Addr() {
			continue
		}
		if err := m.transport.SendPacket(addr, data); err != nil {
			Logger.Warningf("Failed to announce reboot to %s: %v", addr, err)
		}
	}
}

func (m *messengerImpl) Self() *peer.Peer {
	return m.self
}

func (m *messengerImpl) Peers() *peer.Registry {
	return m.peers
}

func (m *messengerImpl) Scheduler() sched.IScheduler {
	return m.sched
}

func (m *messengerImpl) Types() *codec.Registry {
	return m.types
}

func (m *messengerImpl) Epoch() uint32 {
	return m.epoch
}

func (m *messengerImpl) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()
		err = m.transport.Close()
		m.wg.Wait()
		m.peers.Range(func(p *peer.Peer) bool {
			p.RangePending(func(call *peer.PendingCall) bool {
				call.Complete(nil, ErrClosed)
				p.RemovePending(call.Task)
				return true
			})
			return true
		})
		m.peers.Close()
		Logger.Infof("Messenger on %s closed", m.transport.Addr())
	})
	return err
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// transmit sends serialized message data to p. Data above the transport's packet
// size goes over a pooled stream connection on its own goroutine. Failures are
// only logged: lost messages are recovered by the retry loop.
func (m *messengerImpl) transmit(p *peer.Peer, data []byte) {
	if m.ctx.Err() != nil {
		return
	}
	if len(data) <= m.transport.MaxPacketSize() {
		if err := m.transport.SendPacket(p.Addr(), data); err != nil {
			Logger.Debugf("Datagram to %s failed: %v", p, err)
		}
		return
	}

	m.metrics.streamSends.Inc()
	data = serializer.WithFlags(data, common.FlagStream)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sendStream(p, data); err != nil {
			Logger.Debugf("Stream send of %d bytes to %s failed: %v", len(data), p, err)
		}
	}()
}

// sendStream writes data as a single frame over a pooled connection to p
func (m *messengerImpl) sendStream(p *peer.Peer, data []byte) error {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.RetryMax)
	defer cancel()

	conn, err := p.Acquire(ctx, func() (net.Conn, error) {
		return m.transport.Dial(p.Addr())
	})
	if err != nil {
		return err
	}
	err = base.WriteFrame(conn, data, m.bufSize, m.config.RetryMax)
	p.Release(conn, err != nil)
	return err
}

// send serializes msg and transmits it to p
func (m *messengerImpl) send(p *peer.Peer, msg *common.Message) {
	data, err := m.serializer.Serialize(*msg)
	if err != nil {
		Logger.Errorf("Failed to encode %s message for %s: %v", msg.Kind, p, err)
		return
	}
	m.transmit(p, data)
}

// --------------------------------------------------------------------------
// Retry Loop
// --------------------------------------------------------------------------

// retryLoop resends due calls and re-offers unacknowledged replies
func (m *messengerImpl) retryLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.peers.Range(func(p *peer.Peer) bool {
				m.retryPeer(p, now)
				return true
			})
		}
	}
}

// retryPeer handles the timers of all calls to and from p
func (m *messengerImpl) retryPeer(p *peer.Peer, now time.Time) {
	p.RangePending(func(call *peer.PendingCall) bool {
		if call.Due(now) {
			n := call.Backoff(now, m.config.RetryMax)
			m.metrics.retries.Inc()
			Logger.Debugf("Resending task #%d to %s (retry %d)", call.Task, p, n)
			m.transmit(p, serializer.WithFlags(call.Payload, common.FlagRetry))
		}
		return true
	})
	p.RangeLedger(func(call *peer.InProgressCall) bool {
		if call.ReofferDue(now, m.config.ReofferInterval) {
			if reply := call.Reply(); reply != nil {
				m.metrics.reoffers.Inc()
				m.transmit(p, serializer.WithFlags(reply, common.FlagRetry))
				call.MarkSent(now)
			}
		}
		return true
	})
}

// resendAll immediately resends every pending call to p
func (m *messengerImpl) resendAll(p *peer.Peer) {
	now := time.Now()
	p.RangePending(func(call *peer.PendingCall) bool {
		call.Extend(now)
		m.metrics.retries.Inc()
		m.transmit(p, serializer.WithFlags(call.Payload, common.FlagRetry))
		return true
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// bootEpoch returns a random non-zero epoch identifying this incarnation
func bootEpoch() uint32 {
	for {
		if e := uuid.New().ID(); e != 0 {
			return e
		}
	}
}

// senderAddr builds the address of a sender from the host it was received from
// and the port in the message header
func senderAddr(from net.Addr, port uint16) string {
	host, _, err := net.SplitHostPort(from.String())
	if err != nil {
		host = from.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
