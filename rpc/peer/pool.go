package peer

import (
	"context"
	"net"
)

// DialFunc opens a new stream connection to the peer
type DialFunc func() (net.Conn, error)

// --------------------------------------------------------------------------
// Connection Pool
// --------------------------------------------------------------------------

// Acquire returns an idle pooled connection or dials a new one while fewer than
// the pool size are open. Otherwise it blocks until a connection is released or
// ctx is done.
func (p *Peer) Acquire(ctx context.Context, dial DialFunc) (net.Conn, error) {
	for {
		select {
		case conn := <-p.idle:
			return conn, nil
		default:
		}

		if n := p.live.Load(); n < int32(p.poolSize) {
			if !p.live.CompareAndSwap(n, n+1) {
				continue
			}
			conn, err := dial()
			if err != nil {
				p.freeSlot()
				return nil, err
			}
			return conn, nil
		}

		select {
		case conn := <-p.idle:
			return conn, nil
		case <-p.freed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release hands conn back to the pool. Broken connections are closed and only
// decrement the live connection counter.
func (p *Peer) Release(conn net.Conn, broken bool) {
	if broken {
		conn.Close()
		p.freeSlot()
		return
	}
	select {
	case p.idle <- conn:
	default:
		// pool was reset while the connection was in use
		conn.Close()
		p.freeSlot()
	}
}

// LiveConnections returns the number of open stream connections
func (p *Peer) LiveConnections() int {
	return int(p.live.Load())
}

// CloseConnections closes every idle pooled connection
func (p *Peer) CloseConnections() {
	for {
		select {
		case conn := <-p.idle:
			conn.Close()
			p.freeSlot()
		default:
			return
		}
	}
}

// freeSlot decrements the live counter and wakes a blocked Acquire
func (p *Peer) freeSlot() {
	p.live.Add(-1)
	select {
	case p.freed <- struct{}{}:
	default:
	}
}
