package messenger

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
)

// --------------------------------------------------------------------------
// Task Interfaces
// --------------------------------------------------------------------------

// Task is a unit of work executed on a remote node. The task is encoded, sent,
// computed by the callee and sent back, so Compute stores its result in the
// task's own fields.
type Task interface {
	codec.Freezable
	// Compute executes the task on the callee. A returned error is shipped back
	// and returned by Call as a RemoteError.
	Compute(ctx context.Context) error
}

// Prioritized is implemented by tasks that run at a fixed priority instead of
// one above the caller's
type Prioritized interface {
	Priority() int
}

// AckAckHook is implemented by tasks that need to know when the caller received
// the result. OnAckAck runs on the callee.
type AckAckHook interface {
	OnAckAck()
}

// compute runs task.Compute. A panic of the task is returned as error, so it
// reaches the caller instead of stopping the node.
func compute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Task %T panicked: %v", task, r)
			err = fmt.Errorf("panic in %T: %v", task, r)
		}
	}()
	return task.Compute(ctx)
}

// callerKey is the context key of the calling peer
type callerKey struct{}

func withCaller(ctx context.Context, p *peer.Peer) context.Context {
	return context.WithValue(ctx, callerKey{}, p)
}

// CallerFrom returns the peer a running task was called from. Local calls report
// the local node.
func CallerFrom(ctx context.Context) (*peer.Peer, bool) {
	p, ok := ctx.Value(callerKey{}).(*peer.Peer)
	return p, ok
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrClosed is returned for calls pending when the messenger is closed
var ErrClosed = errors.New("messenger closed")

// RemoteError is an error raised by Compute on the callee
type RemoteError struct {
	Peer string
	Msg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error on %s: %s", e.Peer, e.Msg)
}

// --------------------------------------------------------------------------
// Ping
// --------------------------------------------------------------------------

// Ping is a diagnostics task that echoes its payload
type Ping struct {
	Payload []byte
	// Served is set by the callee
	Served bool
}

func (p *Ping) TypeID() uint16 { return common.TypeIDPing }

func (p *Ping) Write(ab *codec.AutoBuffer) {
	ab.PutA1(p.Payload).PutBool(p.Served)
}

func (p *Ping) Read(ab *codec.AutoBuffer) {
	p.Payload = ab.GetA1()
	p.Served = ab.GetBool()
}

func (p *Ping) Compute(ctx context.Context) error {
	p.Served = true
	return nil
}
