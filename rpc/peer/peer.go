package peer

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Peer is the canonical object of a remote node. It owns the stream connection
// pool, the task number generator, the ledger of outgoing calls and the ledger
// of calls executed on behalf of the remote node.
type Peer struct {
	addr   string
	handle uint16

	// task numbers of outgoing calls. Allocation and registration of a call
	// hold the read lock, LowWater holds the write lock.
	nextTask atomic.Uint32
	allocMu  sync.RWMutex

	// connection pool
	poolSize int
	idle     chan net.Conn
	freed    chan struct{}
	live     atomic.Int32

	// caller side: calls sent to this peer
	pending *xsync.MapOf[uint32, *PendingCall]

	// callee side: calls received from this peer
	ledger   *xsync.MapOf[uint32, *InProgressCall]
	rolledUp atomic.Uint32
	epoch    atomic.Uint32
}

func newPeer(addr string, handle uint16, poolSize int) *Peer {
	return &Peer{
		addr:     addr,
		handle:   handle,
		poolSize: poolSize,
		idle:     make(chan net.Conn, poolSize),
		freed:    make(chan struct{}, poolSize),
		pending:  xsync.NewMapOf[uint32, *PendingCall](),
		ledger:   xsync.NewMapOf[uint32, *InProgressCall](),
	}
}

// Addr returns the address (host:port) of the peer
func (p *Peer) Addr() string {
	return p.addr
}

// Handle returns the small integer handle of the peer
func (p *Peer) Handle() uint16 {
	return p.handle
}

func (p *Peer) String() string {
	return p.addr
}

// NextTask returns a new task number. Numbers start at 1 and are never reused;
// running out of numbers is a protocol violation.
func (p *Peer) NextTask() uint32 {
	n := p.nextTask.Add(1)
	if n == 0 {
		panic(fmt.Sprintf("peer %s: task numbers exhausted", p.addr))
	}
	return n
}

// --------------------------------------------------------------------------
// Caller Side
// --------------------------------------------------------------------------

// StartCall allocates a task number, encodes the request with it and records
// the outgoing call
func (p *Peer) StartCall(encode func(task uint32) ([]byte, error), backoff time.Duration) (*PendingCall, error) {
	p.allocMu.RLock()
	defer p.allocMu.RUnlock()

	task := p.NextTask()
	payload, err := encode(task)
	if err != nil {
		return nil, err
	}
	call := NewPendingCall(task, payload, backoff)
	p.AddPending(call)
	return call, nil
}

// AddPending records an outgoing call
func (p *Peer) AddPending(call *PendingCall) {
	if _, loaded := p.pending.LoadOrStore(call.Task, call); loaded {
		panic(fmt.Sprintf("peer %s: task number %d reused", p.addr, call.Task))
	}
}

// Pending returns the outgoing call with the given task number
func (p *Peer) Pending(task uint32) (*PendingCall, bool) {
	return p.pending.Load(task)
}

// RemovePending forgets an outgoing call
func (p *Peer) RemovePending(task uint32) {
	p.pending.Delete(task)
}

// RangePending calls f for every outgoing call until f returns false
func (p *Peer) RangePending(f func(call *PendingCall) bool) {
	p.pending.Range(func(_ uint32, call *PendingCall) bool {
		return f(call)
	})
}

// PendingCount returns the number of outgoing calls not yet answered
func (p *Peer) PendingCount() int {
	return p.pending.Size()
}

// LowWater returns the lowest task number still pending. Every smaller number is
// either answered or abandoned.
func (p *Peer) LowWater() uint32 {
	p.allocMu.Lock()
	defer p.allocMu.Unlock()

	low := p.nextTask.Load() + 1
	p.pending.Range(func(task uint32, _ *PendingCall) bool {
		if task < low {
			low = task
		}
		return true
	})
	return low
}

// --------------------------------------------------------------------------
// Callee Side
// --------------------------------------------------------------------------

// Begin returns the ledger entry for task, creating it in state StatusRunning if
// this is the first time the task is seen
func (p *Peer) Begin(task uint32) (call *InProgressCall, isNew bool) {
	call, loaded := p.ledger.LoadOrCompute(task, func() *InProgressCall {
		return &InProgressCall{Task: task}
	})
	return call, !loaded
}

// Call returns the ledger entry for task
func (p *Peer) Call(task uint32) (*InProgressCall, bool) {
	return p.ledger.Load(task)
}

// RangeLedger calls f for every ledger entry until f returns false
func (p *Peer) RangeLedger(f func(call *InProgressCall) bool) {
	p.ledger.Range(func(_ uint32, call *InProgressCall) bool {
		return f(call)
	})
}

// LedgerSize returns the number of calls in the ledger
func (p *Peer) LedgerSize() int {
	return p.ledger.Size()
}

// Watermark returns the rolled-up watermark. Every task number up to and
// including it is complete.
func (p *Peer) Watermark() uint32 {
	return p.rolledUp.Load()
}

// BelowWatermark returns true if task is known to be complete
func (p *Peer) BelowWatermark(task uint32) bool {
	return task <= p.rolledUp.Load()
}

// RollUp raises the watermark below the caller's low-water mark and drops every
// finished ledger entry beneath it. Entries still waiting for their AckAck are
// acknowledged implicitly. Running calls finish normally.
func (p *Peer) RollUp(lowWater uint32) {
	if lowWater == 0 {
		return
	}
	mark := lowWater - 1
	for {
		old := p.rolledUp.Load()
		if mark <= old {
			return
		}
		if p.rolledUp.CompareAndSwap(old, mark) {
			break
		}
	}
	p.ledger.Range(func(task uint32, call *InProgressCall) bool {
		if task <= mark && call.Status() != StatusRunning {
			if dropped, ok := p.ledger.LoadAndDelete(task); ok {
				dropped.AckAcked()
			}
		}
		return true
	})
}

// ObserveEpoch records the boot epoch the peer announced and returns true if it
// differs from a previously recorded one
func (p *Peer) ObserveEpoch(epoch uint32) bool {
	if epoch == 0 {
		return false
	}
	old := p.epoch.Swap(epoch)
	return old != 0 && old != epoch
}

// Epoch returns the last observed boot epoch of the peer
func (p *Peer) Epoch() uint32 {
	return p.epoch.Load()
}

// Reset forgets all state received from the peer. It is used after the peer
// rebooted: its task numbers start over and its old connections are gone. The
// hooks of dropped calls run as if they had been acknowledged.
func (p *Peer) Reset() {
	p.ledger.Range(func(task uint32, call *InProgressCall) bool {
		if dropped, ok := p.ledger.LoadAndDelete(task); ok {
			dropped.abandon()
		}
		return true
	})
	p.rolledUp.Store(0)
	p.CloseConnections()
	Logger.Infof("Reset state of peer %s", p.addr)
}
