package messenger

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/ValentinKolb/dCloud/rpc/serializer"
	"github.com/ValentinKolb/dCloud/rpc/transport/base"
	"net"
	"time"
)

// status byte of an Ack body
const (
	ackOK    byte = 0
	ackError byte = 1
)

// --------------------------------------------------------------------------
// Transport Handlers
// --------------------------------------------------------------------------

// handlePacket decodes a datagram and dispatches it
func (m *messengerImpl) handlePacket(from net.Addr, data []byte) {
	var msg common.Message
	if err := m.serializer.Deserialize(data, &msg); err != nil {
		Logger.Warningf("Dropping malformed datagram from %s: %v", from, err)
		return
	}
	m.dispatch(senderAddr(from, msg.Port), &msg)
}

// handleStream serves the frames of an accepted stream connection
func (m *messengerImpl) handleStream(conn net.Conn) {
	bufSize := m.bufSize
	if bufSize <= 0 {
		bufSize = defaultStreamBufferSize
	}
	base.ServeFrames(conn, bufSize, func(data []byte) {
		var msg common.Message
		if err := m.serializer.Deserialize(data, &msg); err != nil {
			Logger.Warningf("Dropping malformed frame from %s: %v", conn.RemoteAddr(), err)
			return
		}
		m.dispatch(senderAddr(conn.RemoteAddr(), msg.Port), &msg)
	})
}

// dispatch routes a message to the handler of its kind
func (m *messengerImpl) dispatch(from string, msg *common.Message) {
	if m.ctx.Err() != nil {
		return
	}
	p := m.peers.Intern(from)

	switch msg.Kind {
	case common.KindExec:
		m.handleExec(p, msg)
	case common.KindAck:
		m.handleAck(p, msg)
	case common.KindAckAck:
		m.handleAckAck(p, msg)
	case common.KindNack:
		m.handleNack(p, msg)
	case common.KindRebooted:
		m.handleRebooted(p, msg)
	default:
		Logger.Warningf("Dropping message of kind %s from %s", msg.Kind, p)
	}
}

// --------------------------------------------------------------------------
// Callee Side
// --------------------------------------------------------------------------

// handleExec executes a task the first time its task number is seen and answers
// duplicates with busy or the cached reply
func (m *messengerImpl) handleExec(p *peer.Peer, msg *common.Message) {
	ab := codec.NewReadBuffer(msg.Body)
	epoch := ab.Get4()
	prio := int(ab.Get1())
	if ab.Err() != nil {
		Logger.Warningf("Dropping task #%d from %s: %v", msg.Task, p, ab.Err())
		return
	}

	if p.ObserveEpoch(epoch) {
		Logger.Infof("Peer %s restarted with epoch %d", p, epoch)
		m.peerRestarted(p)
	}

	if p.BelowWatermark(msg.Task) {
		m.metrics.duplicates.Inc()
		return
	}

	call, isNew := p.Begin(msg.Task)
	if !isNew {
		m.metrics.duplicates.Inc()
		switch call.Status() {
		case peer.StatusRunning, peer.StatusComputed:
			m.metrics.nacks.Inc()
			m.send(p, common.NewNackMessage(m.port, msg.Task))
		case peer.StatusReplied:
			if reply := call.Reply(); reply != nil {
				m.transmit(p, serializer.WithFlags(reply, common.FlagRetry))
				call.MarkSent(time.Now())
			}
		}
		return
	}

	if msg.Flags.Has(common.FlagRetry) {
		Logger.Debugf("Task #%d from %s first seen on a retry", msg.Task, p)
	}

	var task Task
	obj := ab.GetObj(m.types)
	err := ab.Err()
	if err == nil {
		var ok bool
		if obj == nil {
			err = fmt.Errorf("request carries no task")
		} else if task, ok = obj.(Task); !ok {
			err = fmt.Errorf("type-id %d is not a task", obj.TypeID())
		}
	}

	if max := m.sched.MaxPriority(); prio > max {
		Logger.Warningf("Task #%d from %s requested priority %d, running at %d", msg.Task, p, prio, max)
		prio = max
	}

	m.sched.Submit(prio, func(ctx context.Context) {
		m.execute(ctx, p, call, task, err)
	})
}

// execute computes task, records the reply in the ledger and sends it
func (m *messengerImpl) execute(ctx context.Context, p *peer.Peer, call *peer.InProgressCall, task Task, err error) {
	if err == nil {
		err = compute(withCaller(ctx, p), task)
		m.metrics.executed.Inc()
	}

	body := codec.NewWriteBuffer(64)
	if err != nil {
		m.metrics.remoteErrors.Inc()
		Logger.Debugf("Task #%d from %s failed: %v", call.Task, p, err)
		body.Put1(ackError).PutStr(err.Error())
	} else {
		body.Put1(ackOK).PutObj(task)
	}

	data, serr := m.serializer.Serialize(*common.NewAckMessage(m.port, call.Task, body.Bytes()))
	if serr != nil {
		Logger.Panicf("Failed to encode reply to task #%d: %v", call.Task, serr)
		return
	}

	var hook func()
	if h, ok := task.(AckAckHook); ok {
		hook = h.OnAckAck
	}
	call.Computed(data, hook)
	m.transmit(p, data)
	call.MarkSent(time.Now())
}

// handleAckAck releases a cached reply and rolls the watermark up to the
// caller's low-water mark
func (m *messengerImpl) handleAckAck(p *peer.Peer, msg *common.Message) {
	if call, ok := p.Call(msg.Task); ok {
		call.AckAcked()
	}
	if low, ok := lowWaterOf(msg.Body); ok {
		p.RollUp(low)
	}
}

// ackAckBody encodes the caller's low-water task number as fixed 4 bytes.
// Task numbers use the full uint32 range, which the compressed int format
// does not cover.
func ackAckBody(low uint32) []byte {
	return codec.NewWriteBuffer(4).Put4(low).Bytes()
}

// lowWaterOf decodes the body of an AckAck
func lowWaterOf(body []byte) (uint32, bool) {
	ab := codec.NewReadBuffer(body)
	low := ab.Get4()
	return low, ab.Err() == nil
}

// --------------------------------------------------------------------------
// Caller Side
// --------------------------------------------------------------------------

// handleAck completes a pending call and always answers with an AckAck
func (m *messengerImpl) handleAck(p *peer.Peer, msg *common.Message) {
	if call, ok := p.Pending(msg.Task); ok {
		result, err := m.decodeAck(p, msg.Body)
		if call.Complete(result, err) {
			p.RemovePending(msg.Task)
			m.metrics.roundTrip.UpdateSince(call.Sent)
		}
	}

	m.send(p, common.NewAckAckMessage(m.port, msg.Task, ackAckBody(p.LowWater())))
}

// decodeAck decodes the result or the remote error of an Ack body
func (m *messengerImpl) decodeAck(p *peer.Peer, body []byte) (codec.Freezable, error) {
	ab := codec.NewReadBuffer(body)
	switch status := ab.Get1(); status {
	case ackOK:
		obj := ab.GetObj(m.types)
		if ab.Err() != nil {
			return nil, fmt.Errorf("decoding reply from %s: %w", p, ab.Err())
		}
		if _, ok := obj.(Task); !ok {
			return nil, fmt.Errorf("reply from %s is not a task", p)
		}
		return obj, nil
	case ackError:
		text := ab.GetStr()
		if ab.Err() != nil {
			return nil, fmt.Errorf("decoding error reply from %s: %w", p, ab.Err())
		}
		return nil, &RemoteError{Peer: p.Addr(), Msg: text}
	default:
		return nil, fmt.Errorf("reply from %s has unknown status %d", p, status)
	}
}

// handleNack postpones the retry of a call the callee is still running
func (m *messengerImpl) handleNack(p *peer.Peer, msg *common.Message) {
	if call, ok := p.Pending(msg.Task); ok {
		m.metrics.busy.Inc()
		call.Extend(time.Now())
	}
}

// --------------------------------------------------------------------------
// Restarts
// --------------------------------------------------------------------------

// handleRebooted resets the state of a peer that announced a restart
func (m *messengerImpl) handleRebooted(p *peer.Peer, msg *common.Message) {
	if p.Epoch() == msg.Task {
		return
	}
	p.ObserveEpoch(msg.Task)
	Logger.Infof("Peer %s announced a restart (epoch %d)", p, msg.Task)
	m.peerRestarted(p)
}

// peerRestarted forgets the calls received from p and resends every call to p,
// which the new incarnation has never seen
func (m *messengerImpl) peerRestarted(p *peer.Peer) {
	m.metrics.restarts.Inc()
	p.Reset()
	m.resendAll(p)
}
