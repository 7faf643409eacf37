package cloud_test

import (
	"bytes"
	"github.com/ValentinKolb/dCloud/lib/cloud"
	"github.com/ValentinKolb/dCloud/lib/cloud/cloudtest"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/transport/mem"
	"strings"
	"testing"
	"time"
)

func TestNodeAccessors(t *testing.T) {
	c := cloudtest.NewCluster(t, 2, cloudtest.WithClients(1))

	for i, n := range c.Nodes {
		if n.Addr() != c.Addrs()[i] {
			t.Errorf("node %d: expected address %s, got %s", i, c.Addrs()[i], n.Addr())
		}
		if n.ClientMode() {
			t.Errorf("node %d: member reports client mode", i)
		}
		if n.Uptime() <= 0 {
			t.Errorf("node %d: expected positive uptime, got %s", i, n.Uptime())
		}
	}
	if !c.Clients[0].ClientMode() {
		t.Error("client node does not report client mode")
	}
	if got := len(c.Clients[0].Members().Members()); got != 2 {
		t.Errorf("client sees %d members, expected 2", got)
	}
}

func TestNodeComponentsShareStore(t *testing.T) {
	c := cloudtest.NewCluster(t, 3)
	ctx := cloudtest.Context(t, 10*time.Second)

	a, b := c.Nodes[0], c.Nodes[2]
	if _, err := a.Store().Put(ctx, a.Store().Key("shared"), store.NewValue([]byte("v1"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := b.Store().Get(ctx, b.Store().Key("shared"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v == nil || !bytes.Equal(v.Bytes(), []byte("v1")) {
		t.Fatalf("expected v1, got %v", v)
	}

	// the lock manager of a node runs on the same store
	ok, owner, err := b.Locks().AcquireLock(ctx, "shared-lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%t err=%v", ok, err)
	}
	if ok, _, _ := a.Locks().AcquireLock(ctx, "shared-lock", time.Minute); ok {
		t.Error("lock acquired twice")
	}
	if ok, err := a.Locks().ReleaseLock(ctx, "shared-lock", owner); err != nil || !ok {
		t.Errorf("release: ok=%t err=%v", ok, err)
	}
}

func TestNodeMetrics(t *testing.T) {
	c := cloudtest.NewCluster(t, 2)

	var sb strings.Builder
	c.Nodes[0].Metrics().WritePrometheus(&sb)
	out := sb.String()
	for _, want := range []string{"dcloud_members 2", "dcloud_membership_generation", "dcloud_peers"} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output does not contain %q:\n%s", want, out)
		}
	}

	c.Members.Update(append(c.Addrs(), "10.0.0.99:7000"))
	sb.Reset()
	c.Nodes[0].Metrics().WritePrometheus(&sb)
	if !strings.Contains(sb.String(), "dcloud_members 3") {
		t.Errorf("member gauge did not follow the membership:\n%s", sb.String())
	}
}

func TestNodeCloseTwice(t *testing.T) {
	network := mem.NewNetwork(1)
	config := cloudtest.NodeConfig("10.0.0.1:7000")
	config.Members = []string{"10.0.0.1:7000"}

	n, err := cloud.NewNode(config, network.Transport("10.0.0.1:7000"), nil)
	if err != nil {
		t.Fatalf("creating node: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("starting node: %v", err)
	}
	if n.Addr() != "10.0.0.1:7000" {
		t.Errorf("expected address 10.0.0.1:7000, got %s", n.Addr())
	}
	if err := n.Close(); err != nil {
		t.Errorf("first close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
