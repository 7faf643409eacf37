package peer

import (
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"math"
	"sync/atomic"
)

var Logger = logger.GetLogger("peer")

// Registry interns one Peer per remote address. Every lookup of the same
// address returns the same instance, so peers compare by pointer.
type Registry struct {
	byAddr     *xsync.MapOf[string, *Peer]
	byHandle   *xsync.MapOf[uint16, *Peer]
	nextHandle atomic.Uint32
	poolSize   int
}

// NewRegistry creates an empty registry. Every peer pools at most poolSize
// stream connections (common.DefaultConnectionsPerPeer if poolSize <= 0).
func NewRegistry(poolSize int) *Registry {
	if poolSize <= 0 {
		poolSize = common.DefaultConnectionsPerPeer
	}
	return &Registry{
		byAddr:   xsync.NewMapOf[string, *Peer](),
		byHandle: xsync.NewMapOf[uint16, *Peer](),
		poolSize: poolSize,
	}
}

// Intern returns the peer for addr (host:port), creating it on first use
func (r *Registry) Intern(addr string) *Peer {
	if p, ok := r.byAddr.Load(addr); ok {
		return p
	}
	p, _ := r.byAddr.LoadOrCompute(addr, func() *Peer {
		h := r.nextHandle.Add(1)
		if h > math.MaxUint16 {
			panic(fmt.Sprintf("peer: more than %d peers interned", math.MaxUint16))
		}
		p := newPeer(addr, uint16(h), r.poolSize)
		r.byHandle.Store(p.handle, p)
		Logger.Debugf("Interned peer %s as #%d", addr, h)
		return p
	})
	return p
}

// Lookup returns the peer for addr if it was interned before
func (r *Registry) Lookup(addr string) (*Peer, bool) {
	return r.byAddr.Load(addr)
}

// ByHandle returns the peer with the given handle
func (r *Registry) ByHandle(handle uint16) (*Peer, bool) {
	return r.byHandle.Load(handle)
}

// Range calls f for every interned peer until f returns false
func (r *Registry) Range(f func(p *Peer) bool) {
	r.byAddr.Range(func(_ string, p *Peer) bool {
		return f(p)
	})
}

// Len returns the number of interned peers
func (r *Registry) Len() int {
	return r.byAddr.Size()
}

// Close closes the pooled connections of every peer
func (r *Registry) Close() {
	r.Range(func(p *Peer) bool {
		p.CloseConnections()
		return true
	})
}
