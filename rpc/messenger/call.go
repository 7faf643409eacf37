package messenger

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is the handle of an asynchronous call
type Future struct {
	m    *messengerImpl
	peer *peer.Peer // nil for local calls
	call *peer.PendingCall
	prio int // priority of the caller
}

// Done is closed once the call completed
func (f *Future) Done() <-chan struct{} {
	return f.call.Done()
}

// Await blocks until the call completed or ctx is done. Waiting is a managed
// block at the caller's priority. If ctx ends first the call is canceled.
func (f *Future) Await(ctx context.Context) (Task, error) {
	select {
	case <-f.call.Done():
	default:
		f.m.sched.ManagedBlock(f.prio, func() {
			select {
			case <-f.call.Done():
			case <-ctx.Done():
			}
		})
	}

	if ctx.Err() != nil {
		f.Cancel()
	}
	result, err := f.call.Result()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return result.(Task), nil
}

// Cancel abandons the call. The callee is not interrupted; its reply is dropped.
func (f *Future) Cancel() {
	if f.call.Complete(nil, context.Canceled) && f.peer != nil {
		f.peer.RemovePending(f.call.Task)
	}
}

// --------------------------------------------------------------------------
// Calls (docu see IMessenger)
// --------------------------------------------------------------------------

func (m *messengerImpl) Call(ctx context.Context, p *peer.Peer, task Task) (Task, error) {
	return m.CallAsync(ctx, p, task).Await(ctx)
}

func (m *messengerImpl) CallAsync(ctx context.Context, p *peer.Peer, task Task) *Future {
	caller := sched.PriorityFrom(ctx)
	prio := m.remotePriority(caller, task)
	m.metrics.calls.Inc()

	if p == m.self {
		return m.callLocal(caller, prio, task)
	}

	call, err := p.StartCall(func(taskNo uint32) ([]byte, error) {
		return m.encodeExec(taskNo, prio, task)
	}, m.config.RetryInitial)
	if err != nil {
		return failedFuture(m, caller, err)
	}
	m.transmit(p, call.Payload)
	return &Future{m: m, peer: p, call: call, prio: caller}
}

// callLocal executes task on the local scheduler
func (m *messengerImpl) callLocal(caller, prio int, task Task) *Future {
	m.metrics.localCalls.Inc()
	call := peer.NewPendingCall(0, nil, m.config.RetryInitial)

	m.sched.Submit(prio, func(ctx context.Context) {
		if err := compute(withCaller(ctx, m.self), task); err != nil {
			call.Complete(nil, err)
		} else {
			call.Complete(task, nil)
		}
		if h, ok := task.(AckAckHook); ok {
			h.OnAckAck()
		}
	})
	return &Future{m: m, call: call, prio: caller}
}

// remotePriority returns the priority task runs at when called from priority
// caller. It must be strictly above the caller's.
func (m *messengerImpl) remotePriority(caller int, task Task) int {
	prio := caller + 1
	if pt, ok := task.(Prioritized); ok {
		prio = pt.Priority()
	}
	if prio <= caller || prio > m.sched.MaxPriority() {
		panic(fmt.Sprintf("messenger: %T would run at priority %d, called from priority %d (max %d)",
			task, prio, caller, m.sched.MaxPriority()))
	}
	return prio
}

// encodeExec serializes the request message of a call
func (m *messengerImpl) encodeExec(taskNo uint32, prio int, task Task) ([]byte, error) {
	if _, err := m.types.IDOf(task); err != nil {
		return nil, err
	}
	ab := codec.NewWriteBuffer(64)
	ab.Put4(m.epoch).Put1(byte(prio)).PutObj(task)
	if ab.Err() != nil {
		return nil, ab.Err()
	}
	return m.serializer.Serialize(*common.NewExecMessage(m.port, taskNo, ab.Bytes()))
}

// failedFuture returns a completed future carrying err
func failedFuture(m *messengerImpl, caller int, err error) *Future {
	call := peer.NewPendingCall(0, nil, 0)
	call.Complete(nil, err)
	return &Future{m: m, call: call, prio: caller}
}
