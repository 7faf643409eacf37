package client_test

import (
	"github.com/ValentinKolb/dCloud/lib/cloud/cloudtest"
	"github.com/ValentinKolb/dCloud/rpc/client"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/server"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newClient(t *testing.T) (*cloudtest.Cluster, *client.Client) {
	c := cloudtest.NewCluster(t, 2)
	ts := httptest.NewServer(server.NewAdminServer("", c.Nodes[1]).Handler())
	t.Cleanup(ts.Close)

	cl, err := client.NewClient(common.ClientConfig{Endpoint: ts.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c, cl
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
		wantErr  bool
	}{
		{"full url", "http://localhost:8080", "http://localhost:8080", false},
		{"host and port", "localhost:8080", "http://localhost:8080", false},
		{"trailing slash", "http://localhost:8080/", "http://localhost:8080", false},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := client.NewClient(common.ClientConfig{Endpoint: tt.endpoint})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClient() error = %v, wantErr %t", err, tt.wantErr)
			}
			if err == nil && c.Endpoint() != tt.want {
				t.Errorf("Endpoint() = %q, want %q", c.Endpoint(), tt.want)
			}
		})
	}
}

func TestKeyValue(t *testing.T) {
	c, cl := newClient(t)
	ctx := cloudtest.Context(t, 10*time.Second)
	key := "path/with spaces"

	if _, found, err := cl.Get(ctx, key); err != nil || found {
		t.Fatalf("Get of a missing key: found=%t err=%v", found, err)
	}
	if _, existed, err := cl.Put(ctx, key, []byte("one")); err != nil || existed {
		t.Fatalf("first Put: existed=%t err=%v", existed, err)
	}
	prev, existed, err := cl.Put(ctx, key, []byte("two"))
	if err != nil || !existed || string(prev) != "one" {
		t.Fatalf("second Put: prev=%q existed=%t err=%v", prev, existed, err)
	}

	ok, cur, err := cl.PutIfAbsent(ctx, key, []byte("three"))
	if err != nil || ok || string(cur) != "two" {
		t.Fatalf("PutIfAbsent of a present key: ok=%t cur=%q err=%v", ok, cur, err)
	}

	// the value is stored in the cloud under the unescaped key
	v, err := c.Nodes[0].Store().Get(ctx, c.Nodes[0].Store().Key(key))
	if err != nil || v == nil || string(v.Bytes()) != "two" {
		t.Fatalf("value in the cloud: %v err=%v", v, err)
	}

	home, err := cl.Home(ctx, key)
	if err != nil || !strings.HasPrefix(home, "10.0.0.") {
		t.Errorf("Home() = %q, %v", home, err)
	}

	keys, err := cl.Keys(ctx, false)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{key}) {
		t.Errorf("Keys() = %v, want [%s]", keys, key)
	}

	prev, existed, err = cl.Delete(ctx, key)
	if err != nil || !existed || string(prev) != "two" {
		t.Fatalf("Delete: prev=%q existed=%t err=%v", prev, existed, err)
	}
	if ok, _, err := cl.PutIfAbsent(ctx, key, []byte("four")); err != nil || !ok {
		t.Fatalf("PutIfAbsent of a removed key: ok=%t err=%v", ok, err)
	}
}

func TestLocks(t *testing.T) {
	_, cl := newClient(t)
	ctx := cloudtest.Context(t, 10*time.Second)

	ok, owner, err := cl.AcquireLock(ctx, "nightly", time.Minute)
	if err != nil || !ok || len(owner) == 0 {
		t.Fatalf("AcquireLock: ok=%t owner=%x err=%v", ok, owner, err)
	}
	if ok, _, err := cl.AcquireLock(ctx, "nightly", time.Minute); err != nil || ok {
		t.Fatalf("second AcquireLock: ok=%t err=%v", ok, err)
	}
	if ok, err := cl.ReleaseLock(ctx, "nightly", []byte{1, 2, 3}); err != nil || ok {
		t.Fatalf("ReleaseLock by a stranger: ok=%t err=%v", ok, err)
	}
	if ok, err := cl.ReleaseLock(ctx, "nightly", owner); err != nil || !ok {
		t.Fatalf("ReleaseLock: ok=%t err=%v", ok, err)
	}
}

func TestNodeInformation(t *testing.T) {
	c, cl := newClient(t)
	ctx := cloudtest.Context(t, 10*time.Second)

	if err := cl.Health(ctx); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	info, err := cl.Cloud(ctx)
	if err != nil {
		t.Fatalf("Cloud failed: %v", err)
	}
	if info.Self != c.Nodes[1].Addr() || len(info.Members) != 2 {
		t.Errorf("unexpected cloud info %+v", info)
	}
	stats, err := cl.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats["node"] != c.Nodes[1].Addr() {
		t.Errorf("stats of %v, expected %s", stats["node"], c.Nodes[1].Addr())
	}
}
