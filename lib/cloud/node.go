package cloud

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/lockmgr"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/lib/mr"
	"github.com/ValentinKolb/dCloud/lib/persist"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/messenger"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/ValentinKolb/dCloud/rpc/server"
	"github.com/ValentinKolb/dCloud/rpc/transport"
	"github.com/ValentinKolb/dCloud/rpc/transport/inet"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"sync"
	"time"
)

var Logger = logger.GetLogger("cloud")

// Node is a single member (or client) of a cloud. It owns the whole stack of a
// node: type registry, peers, scheduler, messenger, store, map/reduce engine and
// lock manager. All components of one node share one metrics set.
type Node struct {
	config  common.NodeConfig
	members membership.IProvider

	types    *codec.Registry
	peers    *peer.Registry
	sched    sched.IScheduler
	m        messenger.IMessenger
	backend  persist.IBackend
	store    store.IStore
	engine   mr.IEngine
	locks    lockmgr.ILockManager
	set      *metrics.Set
	registry gometrics.Registry
	admin    *server.AdminServer

	started   time.Time
	closeOnce sync.Once
}

// NewNode creates a node communicating over tr (nil selects the UDP/TCP
// transport). The node does not receive anything before Start.
//
// Usage:
//
//	members := membership.NewStatic(config.Members)
//	n, err := cloud.NewNode(config, nil, members)
//	if err != nil {
//		return err
//	}
//	if err := n.Start(); err != nil {
//		return err
//	}
//	defer n.Close()
func NewNode(config common.NodeConfig, tr transport.ITransport, members membership.IProvider) (*Node, error) {
	if tr == nil {
		tr = inet.NewInetTransport()
	}
	if members == nil {
		members = membership.NewStatic(config.Members)
	}

	backend, err := persist.NewBackend(config.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence backend: %w", err)
	}

	n := &Node{
		config:   config,
		members:  members,
		types:    codec.NewRegistry(),
		peers:    peer.NewRegistry(config.Messenger.ConnectionsPerPeer),
		backend:  backend,
		set:      metrics.NewSet(),
		registry: gometrics.NewRegistry(),
	}
	n.sched = sched.NewScheduler(config.Scheduler, n.set, n.registry)
	n.m = messenger.NewMessenger(config.Messenger, tr, n.types, n.peers, n.sched, n.set, n.registry)
	n.store = store.NewStore(config.Store, n.m, members, backend, config.ClientMode, n.set, n.registry)
	n.engine = mr.NewEngine(n.m, n.store, members, config.ClientMode, n.set, n.registry)
	n.locks = lockmgr.NewLockManager(n.store, n.types)

	n.set.NewGauge("dcloud_members", func() float64 { return float64(len(members.Members())) })
	n.set.NewGauge("dcloud_membership_generation", func() float64 { return float64(members.Generation()) })
	n.set.NewGauge("dcloud_peers", func() float64 { return float64(n.peers.Len()) })
	return n, nil
}

// Start binds the transport, announces the node to every member and starts the
// admin server if an admin endpoint is configured
func (n *Node) Start() error {
	if err := n.m.Start(n.config.Transport); err != nil {
		return fmt.Errorf("failed to start messenger: %w", err)
	}
	n.started = time.Now()
	n.m.Announce(n.members.Members())

	if n.config.AdminEndpoint != "" {
		n.admin = server.NewAdminServer(n.config.AdminEndpoint, n)
		if err := n.admin.Start(); err != nil {
			_ = n.m.Close()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	Logger.Infof("Node %s started (epoch %d, client mode %t, %d members)",
		n.Addr(), n.m.Epoch(), n.config.ClientMode, len(n.members.Members()))
	return nil
}

// Close stops the node. Pending calls fail with messenger.ErrClosed.
func (n *Node) Close() error {
	var errs []error
	n.closeOnce.Do(func() {
		if n.admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			errs = append(errs, n.admin.Shutdown(ctx))
			cancel()
		}
		n.store.Close()
		errs = append(errs, n.m.Close())
		n.sched.Close()
		Logger.Infof("Node %s stopped", n.Addr())
	})
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (n *Node) Config() common.NodeConfig { return n.config }

func (n *Node) Types() *codec.Registry { return n.types }

func (n *Node) Messenger() messenger.IMessenger { return n.m }

func (n *Node) Peers() *peer.Registry { return n.peers }

func (n *Node) Members() membership.IProvider { return n.members }

func (n *Node) Store() store.IStore { return n.store }

func (n *Node) Engine() mr.IEngine { return n.engine }

func (n *Node) Locks() lockmgr.ILockManager { return n.locks }

func (n *Node) Metrics() *metrics.Set { return n.set }

func (n *Node) Registry() gometrics.Registry { return n.registry }

// Addr returns the endpoint of the node, empty before Start
func (n *Node) Addr() string {
	if self := n.m.Self(); self != nil {
		return self.Addr()
	}
	return ""
}

// Uptime returns the time since Start
func (n *Node) Uptime() time.Duration {
	if n.started.IsZero() {
		return 0
	}
	return time.Since(n.started)
}

// Epoch returns the boot epoch of the node
func (n *Node) Epoch() uint32 { return n.m.Epoch() }

// ClientMode returns true if the node never becomes home of a key
func (n *Node) ClientMode() bool { return n.config.ClientMode }
