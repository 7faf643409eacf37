package server

import (
	"github.com/ValentinKolb/dCloud/lib/lockmgr"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"time"
)

// INode is the part of a cloud node the admin server exposes
type INode interface {
	// Addr returns the endpoint of the node
	Addr() string
	// Epoch returns the boot epoch of the node
	Epoch() uint32
	// Uptime returns the time since the node started
	Uptime() time.Duration
	// ClientMode returns true if the node never becomes home of a key
	ClientMode() bool

	Store() store.IStore
	Locks() lockmgr.ILockManager
	Members() membership.IProvider
	Peers() *peer.Registry

	// Metrics returns the set holding the node's Prometheus metrics
	Metrics() *metrics.Set
	// Registry returns the registry holding the node's timers
	Registry() gometrics.Registry
}
