package peer

import (
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"sync"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Outgoing Calls
// --------------------------------------------------------------------------

// PendingCall is an outgoing call waiting for its reply
type PendingCall struct {
	// Task is the task number of the call
	Task uint32
	// Payload is the encoded request, resent unchanged on every retry
	Payload []byte
	// Sent is the time of the first transmission
	Sent time.Time

	deadline atomic.Int64
	backoff  atomic.Int64
	retries  atomic.Int32

	done   chan struct{}
	once   sync.Once
	result codec.Freezable
	err    error
}

// NewPendingCall creates a call whose first retry is due after backoff
func NewPendingCall(task uint32, payload []byte, backoff time.Duration) *PendingCall {
	now := time.Now()
	c := &PendingCall{
		Task:    task,
		Payload: payload,
		Sent:    now,
		done:    make(chan struct{}),
	}
	c.backoff.Store(int64(backoff))
	c.deadline.Store(now.Add(backoff).UnixNano())
	return c
}

// Due returns true if the retry deadline has passed
func (c *PendingCall) Due(now time.Time) bool {
	return now.UnixNano() >= c.deadline.Load()
}

// Backoff doubles the retry interval (capped at max), sets the next deadline and
// returns the number of retries so far
func (c *PendingCall) Backoff(now time.Time, max time.Duration) int {
	b := min(2*time.Duration(c.backoff.Load()), max)
	c.backoff.Store(int64(b))
	c.deadline.Store(now.Add(b).UnixNano())
	return int(c.retries.Add(1))
}

// Extend postpones the next retry by the current interval. Used when the callee
// reports that the call is still running.
func (c *PendingCall) Extend(now time.Time) {
	c.deadline.Store(now.Add(time.Duration(c.backoff.Load())).UnixNano())
}

// Retries returns the number of resends
func (c *PendingCall) Retries() int {
	return int(c.retries.Load())
}

// Complete stores the outcome of the call. Only the first completion counts; it
// returns false for every later one.
func (c *PendingCall) Complete(result codec.Freezable, err error) bool {
	completed := false
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
		completed = true
	})
	return completed
}

// Done is closed once the call completed
func (c *PendingCall) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (c *PendingCall) Result() (codec.Freezable, error) {
	return c.result, c.err
}

// --------------------------------------------------------------------------
// Incoming Calls
// --------------------------------------------------------------------------

// CallStatus is the state of an incoming call
type CallStatus int32

const (
	// StatusRunning means the call is executing
	StatusRunning CallStatus = iota
	// StatusComputed means the result exists but was not sent yet
	StatusComputed
	// StatusReplied means the reply was sent and awaits its AckAck
	StatusReplied
	// StatusDone means the caller acknowledged the reply. The entry stays as a
	// tombstone until the watermark passes it.
	StatusDone
)

func (s CallStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusComputed:
		return "computed"
	case StatusReplied:
		return "replied"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// InProgressCall is the ledger entry of a call executed for a remote peer
type InProgressCall struct {
	Task uint32

	status    atomic.Int32
	reply     atomic.Pointer[[]byte]
	onAckAck  func()
	lastSent  atomic.Int64
	abandoned atomic.Bool
}

// Status returns the state of the call
func (c *InProgressCall) Status() CallStatus {
	return CallStatus(c.status.Load())
}

// Computed records the encoded reply and a hook that runs once the caller
// acknowledged it. The reply must be sent afterwards and reported via MarkSent.
func (c *InProgressCall) Computed(reply []byte, onAckAck func()) {
	c.onAckAck = onAckAck
	c.reply.Store(&reply)
	c.status.CompareAndSwap(int32(StatusRunning), int32(StatusComputed))
	if c.abandoned.Load() {
		c.AckAcked()
	}
}

// MarkSent records a transmission of the reply
func (c *InProgressCall) MarkSent(now time.Time) {
	c.lastSent.Store(now.UnixNano())
	c.status.CompareAndSwap(int32(StatusComputed), int32(StatusReplied))
}

// Reply returns the encoded reply, nil while the call is running or after it was
// acknowledged
func (c *InProgressCall) Reply() []byte {
	if r := c.reply.Load(); r != nil {
		return *r
	}
	return nil
}

// ReofferDue returns true if the reply was sent and not acknowledged for longer
// than interval
func (c *InProgressCall) ReofferDue(now time.Time, interval time.Duration) bool {
	return c.Status() == StatusReplied && now.UnixNano()-c.lastSent.Load() >= int64(interval)
}

// AckAcked marks the call as acknowledged, releases the reply and runs the hook
// registered with Computed. It returns false if the call is still running or was
// acknowledged before.
func (c *InProgressCall) AckAcked() bool {
	for {
		s := c.status.Load()
		if s == int32(StatusRunning) || s == int32(StatusDone) {
			return false
		}
		if c.status.CompareAndSwap(s, int32(StatusDone)) {
			break
		}
	}
	c.reply.Store(nil)
	if c.onAckAck != nil {
		c.onAckAck()
	}
	return true
}

// abandon acknowledges the call once it is computed. Used for calls dropped from
// the ledger of a restarted peer.
func (c *InProgressCall) abandon() {
	c.abandoned.Store(true)
	c.AckAcked()
}
