// Package cloudtest starts clouds of nodes on an in-process network for tests.
package cloudtest

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/cloud"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/transport/mem"
	"testing"
	"time"
)

// Cluster is a cloud of nodes sharing one in-process network and one membership
type Cluster struct {
	Network *mem.Network
	Members *membership.Static
	// Nodes are the members in member order
	Nodes []*cloud.Node
	// Clients are client mode nodes, not part of the membership
	Clients []*cloud.Node
}

type options struct {
	clients int
	seed    int64
	config  func(*common.NodeConfig)
}

// Option configures a cluster
type Option func(*options)

// WithClients adds n client mode nodes
func WithClients(n int) Option {
	return func(o *options) { o.clients = n }
}

// WithSeed sets the seed of the network's random loss
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithConfig modifies the configuration of every node before it is created
func WithConfig(f func(*common.NodeConfig)) Option {
	return func(o *options) { o.config = f }
}

// NodeConfig returns the configuration used for the node at addr: fast retries
// and a small scheduler
func NodeConfig(addr string) common.NodeConfig {
	config := common.DefaultNodeConfig(addr)
	config.Messenger.RetryInitial = 5 * time.Millisecond
	config.Messenger.RetryMax = 100 * time.Millisecond
	config.Messenger.ReofferInterval = 50 * time.Millisecond
	config.Messenger.TickInterval = time.Millisecond
	config.Scheduler.WorkersPerLevel = 4
	config.Store.CleanerInterval = 10 * time.Millisecond
	config.LogLevel = "warn"
	return config
}

// NewCluster starts a cloud of n members. Every node is closed when the test ends.
func NewCluster(t testing.TB, n int, opts ...Option) *Cluster {
	t.Helper()
	o := options{seed: 1}
	for _, opt := range opts {
		opt(&o)
	}

	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("10.0.0.%d:7000", i+1)
	}
	c := &Cluster{
		Network: mem.NewNetwork(o.seed),
		Members: membership.NewStatic(addrs),
	}

	start := func(addr string, client bool) *cloud.Node {
		config := NodeConfig(addr)
		config.Members = addrs
		config.ClientMode = client
		if o.config != nil {
			o.config(&config)
		}
		node, err := cloud.NewNode(config, c.Network.Transport(addr), c.Members)
		if err != nil {
			t.Fatalf("creating node %s: %v", addr, err)
		}
		if err := node.Start(); err != nil {
			t.Fatalf("starting node %s: %v", addr, err)
		}
		t.Cleanup(func() { _ = node.Close() })
		return node
	}

	for _, addr := range addrs {
		c.Nodes = append(c.Nodes, start(addr, false))
	}
	for i := 0; i < o.clients; i++ {
		c.Clients = append(c.Clients, start(fmt.Sprintf("10.0.1.%d:7000", i+1), true))
	}
	return c
}

// Addrs returns the member addresses in member order
func (c *Cluster) Addrs() []string {
	return c.Members.Members()
}

// Node returns the member with address addr
func (c *Cluster) Node(addr string) *cloud.Node {
	for _, n := range c.Nodes {
		if n.Addr() == addr {
			return n
		}
	}
	return nil
}

// Context returns a context that ends with the test or after timeout
func Context(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
