package messenger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"github.com/ValentinKolb/dCloud/rpc/serializer"
	"github.com/ValentinKolb/dCloud/rpc/transport/mem"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test Tasks
// --------------------------------------------------------------------------

const (
	typeAdd = common.TypeIDUser + iota
	typeFail
	typeSleep
	typeBig
	typeHook
	typePrio
	typeFixedPrio
	typeWho
	typePanic
)

// counters counts executions per token across all nodes of a test
var counters sync.Map

func counter(token string) *atomic.Int32 {
	c, _ := counters.LoadOrStore(token, &atomic.Int32{})
	return c.(*atomic.Int32)
}

type addTask struct {
	Token   string
	A, B    int64
	Sum     int64
	Delay   int64 // milliseconds
	Retried bool
}

func (t *addTask) TypeID() uint16 { return typeAdd }
func (t *addTask) Write(ab *codec.AutoBuffer) {
	ab.PutStr(t.Token).Put8(uint64(t.A)).Put8(uint64(t.B)).Put8(uint64(t.Sum)).PutInt(int(t.Delay))
}
func (t *addTask) Read(ab *codec.AutoBuffer) {
	t.Token = ab.GetStr()
	t.A = int64(ab.Get8())
	t.B = int64(ab.Get8())
	t.Sum = int64(ab.Get8())
	t.Delay = int64(ab.GetInt())
}
func (t *addTask) Compute(ctx context.Context) error {
	counter(t.Token).Add(1)
	if t.Delay > 0 {
		time.Sleep(time.Duration(t.Delay) * time.Millisecond)
	}
	t.Sum = t.A + t.B
	return nil
}

type failTask struct{ Msg string }

func (t *failTask) TypeID() uint16                 { return typeFail }
func (t *failTask) Write(ab *codec.AutoBuffer)     { ab.PutStr(t.Msg) }
func (t *failTask) Read(ab *codec.AutoBuffer)      { t.Msg = ab.GetStr() }
func (t *failTask) Compute(ctx context.Context) error { return errors.New(t.Msg) }

type bigTask struct{ Data []byte }

func (t *bigTask) TypeID() uint16             { return typeBig }
func (t *bigTask) Write(ab *codec.AutoBuffer) { ab.PutA1(t.Data) }
func (t *bigTask) Read(ab *codec.AutoBuffer)  { t.Data = ab.GetA1() }
func (t *bigTask) Compute(ctx context.Context) error {
	for i := range t.Data {
		t.Data[i]++
	}
	return nil
}

type hookTask struct{ Token string }

func (t *hookTask) TypeID() uint16                    { return typeHook }
func (t *hookTask) Write(ab *codec.AutoBuffer)        { ab.PutStr(t.Token) }
func (t *hookTask) Read(ab *codec.AutoBuffer)         { t.Token = ab.GetStr() }
func (t *hookTask) Compute(ctx context.Context) error { return nil }
func (t *hookTask) OnAckAck()                         { counter(t.Token).Add(1) }

type prioTask struct{ Observed int }

func (t *prioTask) TypeID() uint16             { return typePrio }
func (t *prioTask) Write(ab *codec.AutoBuffer) { ab.PutInt(t.Observed) }
func (t *prioTask) Read(ab *codec.AutoBuffer)  { t.Observed = ab.GetInt() }
func (t *prioTask) Compute(ctx context.Context) error {
	t.Observed = sched.PriorityFrom(ctx)
	return nil
}

type fixedPrioTask struct{ prioTask }

func (t *fixedPrioTask) TypeID() uint16 { return typeFixedPrio }
func (t *fixedPrioTask) Priority() int  { return 6 }

type whoTask struct{ Caller string }

func (t *whoTask) TypeID() uint16             { return typeWho }
func (t *whoTask) Write(ab *codec.AutoBuffer) { ab.PutStr(t.Caller) }
func (t *whoTask) Read(ab *codec.AutoBuffer)  { t.Caller = ab.GetStr() }
func (t *whoTask) Compute(ctx context.Context) error {
	if p, ok := CallerFrom(ctx); ok {
		t.Caller = p.Addr()
	}
	return nil
}

// panicTask writes to a nil map
type panicTask struct{ Key string }

func (t *panicTask) TypeID() uint16             { return typePanic }
func (t *panicTask) Write(ab *codec.AutoBuffer) { ab.PutStr(t.Key) }
func (t *panicTask) Read(ab *codec.AutoBuffer)  { t.Key = ab.GetStr() }
func (t *panicTask) Compute(ctx context.Context) error {
	var m map[string]int
	m[t.Key] = 1
	return nil
}

func newTypes() *codec.Registry {
	types := codec.NewRegistry()
	types.Register(typeAdd, func() codec.Freezable { return &addTask{} })
	types.Register(typeFail, func() codec.Freezable { return &failTask{} })
	types.Register(typeBig, func() codec.Freezable { return &bigTask{} })
	types.Register(typeHook, func() codec.Freezable { return &hookTask{} })
	types.Register(typePrio, func() codec.Freezable { return &prioTask{} })
	types.Register(typeFixedPrio, func() codec.Freezable { return &fixedPrioTask{} })
	types.Register(typeWho, func() codec.Freezable { return &whoTask{} })
	types.Register(typePanic, func() codec.Freezable { return &panicTask{} })
	return types
}

// --------------------------------------------------------------------------
// Test Nodes
// --------------------------------------------------------------------------

type testNode struct {
	m     *messengerImpl
	sched sched.IScheduler
	addr  string
}

func fastConfig() common.MessengerConfig {
	return common.MessengerConfig{
		RetryInitial:       5 * time.Millisecond,
		RetryMax:           40 * time.Millisecond,
		ReofferInterval:    20 * time.Millisecond,
		TickInterval:       2 * time.Millisecond,
		ConnectionsPerPeer: 2,
	}
}

func startNode(t *testing.T, network *mem.Network, addr string) *testNode {
	t.Helper()
	s := sched.NewScheduler(common.SchedulerConfig{Levels: 8, WorkersPerLevel: 4}, nil, nil)
	m := NewMessenger(fastConfig(), network.Transport(addr), newTypes(), peer.NewRegistry(2), s, nil, nil).(*messengerImpl)
	if err := m.Start(common.TransportConfig{MaxPacketSize: 1400, StreamBufferSize: 4096}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	n := &testNode{m: m, sched: s, addr: addr}
	t.Cleanup(n.stop)
	return n
}

func (n *testNode) stop() {
	n.m.Close()
	n.sched.Close()
}

func (n *testNode) peer(other *testNode) *peer.Peer {
	return n.m.Peers().Intern(other.addr)
}

func startPair(t *testing.T) (*mem.Network, *testNode, *testNode) {
	network := mem.NewNetwork(42)
	return network, startNode(t, network, "a:1"), startNode(t, network, "b:1")
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventually polls cond until it holds or a second passed
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestCallRoundTrip(t *testing.T) {
	_, a, b := startPair(t)

	res, err := a.m.Call(testContext(t), a.peer(b), &addTask{Token: t.Name(), A: 40, B: 2})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if sum := res.(*addTask).Sum; sum != 42 {
		t.Errorf("Sum = %d, want 42", sum)
	}
	if n := counter(t.Name()).Load(); n != 1 {
		t.Errorf("computed %d times, want 1", n)
	}

	// the callee forgets the call once the AckAck arrived
	eventually(t, "ledger cleanup", func() bool {
		return b.peer(a).LedgerSize() == 0
	})
}

func TestCallSelf(t *testing.T) {
	_, a, _ := startPair(t)

	res, err := a.m.Call(testContext(t), a.m.Self(), &addTask{Token: t.Name(), A: 1, B: 2})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.(*addTask).Sum != 3 {
		t.Errorf("Sum = %d, want 3", res.(*addTask).Sum)
	}
	if a.m.metrics.localCalls.Get() != 1 {
		t.Errorf("local calls = %d, want 1", a.m.metrics.localCalls.Get())
	}
}

func TestCallerFrom(t *testing.T) {
	_, a, b := startPair(t)
	ctx := testContext(t)

	for _, target := range []*testNode{a, b} {
		res, err := a.m.Call(ctx, a.m.Peers().Intern(target.addr), &whoTask{})
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if got := res.(*whoTask).Caller; got != a.addr {
			t.Errorf("caller on %s = %q, want %q", target.addr, got, a.addr)
		}
	}
}

func TestPing(t *testing.T) {
	_, a, b := startPair(t)

	res, err := a.m.Call(testContext(t), a.peer(b), &Ping{Payload: []byte("hi")})
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	ping := res.(*Ping)
	if !ping.Served || string(ping.Payload) != "hi" {
		t.Errorf("unexpected ping reply %+v", ping)
	}
}

func TestRemoteError(t *testing.T) {
	_, a, b := startPair(t)

	_, err := a.m.Call(testContext(t), a.peer(b), &failTask{Msg: "boom"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.Peer != b.addr || remote.Msg != "boom" {
		t.Errorf("RemoteError = %+v", remote)
	}
}

func TestPanickingTask(t *testing.T) {
	_, a, b := startPair(t)
	ctx := testContext(t)

	// remote: the panic returns as RemoteError and the callee keeps serving
	_, err := a.m.Call(ctx, a.peer(b), &panicTask{Key: "x"})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.Peer != b.addr || !strings.Contains(remote.Msg, "panic") {
		t.Errorf("RemoteError = %+v", remote)
	}

	// local
	_, err = a.m.Call(ctx, a.m.Self(), &panicTask{Key: "x"})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("local err = %v, want panic error", err)
	}

	for _, target := range []*testNode{a, b} {
		res, err := a.m.Call(ctx, a.m.Peers().Intern(target.addr), &addTask{Token: t.Name(), A: 1, B: 1})
		if err != nil {
			t.Fatalf("Call to %s after panic failed: %v", target.addr, err)
		}
		if res.(*addTask).Sum != 2 {
			t.Errorf("Sum = %d, want 2", res.(*addTask).Sum)
		}
	}
}

func TestUnregisteredTask(t *testing.T) {
	_, a, b := startPair(t)

	_, err := a.m.Call(testContext(t), a.peer(b), &unregisteredTask{})
	if err == nil {
		t.Fatal("expected error for an unregistered task type")
	}
}

type unregisteredTask struct{ prioTask }

func (t *unregisteredTask) TypeID() uint16 { return common.TypeIDUser + 999 }

func TestLossyNetworkExactlyOnce(t *testing.T) {
	network, a, b := startPair(t)
	network.SetLoss(0.3, 0.3)

	ctx := testContext(t)
	const calls = 50
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("%s/%d", t.Name(), i)
			res, err := a.m.Call(ctx, a.peer(b), &addTask{Token: token, A: int64(i), B: 1})
			if err != nil {
				errs <- err
				return
			}
			if res.(*addTask).Sum != int64(i+1) {
				errs <- fmt.Errorf("call %d: Sum = %d", i, res.(*addTask).Sum)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for i := 0; i < calls; i++ {
		if n := counter(fmt.Sprintf("%s/%d", t.Name(), i)).Load(); n != 1 {
			t.Errorf("call %d computed %d times, want 1", i, n)
		}
	}
	if a.m.metrics.retries.Get() == 0 {
		t.Error("expected retries on a lossy network")
	}
}

func TestBusyWhileRunning(t *testing.T) {
	_, a, b := startPair(t)

	// retries arrive while the task is still running
	res, err := a.m.Call(testContext(t), a.peer(b), &addTask{Token: t.Name(), A: 1, B: 1, Delay: 100})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if res.(*addTask).Sum != 2 {
		t.Errorf("Sum = %d, want 2", res.(*addTask).Sum)
	}
	if n := counter(t.Name()).Load(); n != 1 {
		t.Errorf("computed %d times, want 1", n)
	}
	if b.m.metrics.nacks.Get() == 0 || a.m.metrics.busy.Get() == 0 {
		t.Error("expected busy replies for duplicates of a running task")
	}
}

func TestLostAckIsResent(t *testing.T) {
	network, a, b := startPair(t)

	var dropped atomic.Bool
	network.SetFilter(func(from, to string, data []byte) bool {
		if from == b.addr && serializer.PeekKind(data) == common.KindAck {
			return !dropped.CompareAndSwap(false, true)
		}
		return true
	})

	res, err := a.m.Call(testContext(t), a.peer(b), &addTask{Token: t.Name(), A: 2, B: 3})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !dropped.Load() || res.(*addTask).Sum != 5 {
		t.Errorf("dropped = %v, Sum = %d", dropped.Load(), res.(*addTask).Sum)
	}
	if n := counter(t.Name()).Load(); n != 1 {
		t.Errorf("computed %d times, want 1", n)
	}
}

func TestAckAckCarriesLowWater(t *testing.T) {
	network, a, b := startPair(t)

	var mu sync.Mutex
	var bodies [][]byte
	network.SetFilter(func(from, to string, data []byte) bool {
		if from == a.addr && serializer.PeekKind(data) == common.KindAckAck {
			var msg common.Message
			if err := serializer.NewBinarySerializer().Deserialize(data, &msg); err == nil {
				mu.Lock()
				bodies = append(bodies, slices.Clone(msg.Body))
				mu.Unlock()
			}
		}
		return true
	})

	for i := 0; i < 3; i++ {
		if _, err := a.m.Call(testContext(t), a.peer(b), &addTask{Token: t.Name(), A: 1, B: 1}); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
	}

	eventually(t, "AckAck", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0
	})
	mu.Lock()
	defer mu.Unlock()
	for _, body := range bodies {
		if len(body) != 4 {
			t.Fatalf("AckAck body %v, want 4 bytes", body)
		}
		low, ok := lowWaterOf(body)
		if !ok || low > a.peer(b).LowWater() {
			t.Errorf("low water %d (ok=%v) above the caller's %d", low, ok, a.peer(b).LowWater())
		}
	}

	// the fixed width covers task numbers beyond the int32 range
	for _, low := range []uint32{0, 253, math.MaxInt32 + 1, math.MaxUint32} {
		if got, ok := lowWaterOf(ackAckBody(low)); !ok || got != low {
			t.Errorf("lowWaterOf(ackAckBody(%d)) = %d, %v", low, got, ok)
		}
	}
	if _, ok := lowWaterOf([]byte{1, 2}); ok {
		t.Error("expected a truncated body to be rejected")
	}
}

func TestLostAckAckIsRecovered(t *testing.T) {
	network, a, b := startPair(t)

	var dropped atomic.Bool
	network.SetFilter(func(from, to string, data []byte) bool {
		if from == a.addr && serializer.PeekKind(data) == common.KindAckAck {
			return !dropped.CompareAndSwap(false, true)
		}
		return true
	})

	if _, err := a.m.Call(testContext(t), a.peer(b), &hookTask{Token: t.Name()}); err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	// the reply is re-offered until an AckAck arrives, the hook runs once
	eventually(t, "AckAck hook", func() bool {
		return counter(t.Name()).Load() == 1 && b.peer(a).LedgerSize() == 0
	})
	time.Sleep(50 * time.Millisecond)
	if n := counter(t.Name()).Load(); n != 1 {
		t.Errorf("hook ran %d times, want 1", n)
	}
	if b.m.metrics.reoffers.Get() == 0 {
		t.Error("expected the reply to be re-offered")
	}
}

func TestLargePayloadUsesStream(t *testing.T) {
	_, a, b := startPair(t)

	data := bytes.Repeat([]byte{1, 2, 3, 4}, 5000)
	res, err := a.m.Call(testContext(t), a.peer(b), &bigTask{Data: data})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	want := bytes.Repeat([]byte{2, 3, 4, 5}, 5000)
	if !bytes.Equal(res.(*bigTask).Data, want) {
		t.Error("large payload was not computed correctly")
	}
	if a.m.metrics.streamSends.Get() == 0 || b.m.metrics.streamSends.Get() == 0 {
		t.Error("expected request and reply to use streams")
	}
}

// TestCalleeResetDuringCall: B loses its ledger before A got the reply. A's retry
// of the unknown task is executed as new work instead of hanging.
func TestCalleeResetDuringCall(t *testing.T) {
	network, a, b := startPair(t)

	// drop every reply until B was reset
	var blocking atomic.Bool
	blocking.Store(true)
	network.SetFilter(func(from, to string, data []byte) bool {
		return !(blocking.Load() && from == b.addr && serializer.PeekKind(data) == common.KindAck)
	})

	future := a.m.CallAsync(testContext(t), a.peer(b), &addTask{Token: t.Name(), A: 7, B: 7})
	eventually(t, "first execution", func() bool {
		return counter(t.Name()).Load() == 1
	})

	b.peer(a).Reset()
	eventually(t, "re-execution", func() bool {
		return counter(t.Name()).Load() == 2
	})
	blocking.Store(false)

	res, err := future.Await(testContext(t))
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if res.(*addTask).Sum != 14 {
		t.Errorf("Sum = %d, want 14", res.(*addTask).Sum)
	}
}

// TestRestartedPeer: B restarts on the same address with fresh task numbers. A
// must forget its watermark for B instead of dropping B's new calls.
func TestRestartedPeer(t *testing.T) {
	network, a, b := startPair(t)
	ctx := testContext(t)

	for i := 0; i < 3; i++ {
		if _, err := b.m.Call(ctx, b.peer(a), &addTask{Token: t.Name(), A: 1, B: 1}); err != nil {
			t.Fatalf("Call before restart failed: %v", err)
		}
	}
	eventually(t, "watermark", func() bool {
		return a.peer(b).Watermark() > 0
	})

	b.stop()
	b2 := startNode(t, network, b.addr)
	b2.m.Announce([]string{a.addr})

	res, err := b2.m.Call(ctx, b2.peer(a), &addTask{Token: t.Name(), A: 2, B: 2})
	if err != nil {
		t.Fatalf("Call after restart failed: %v", err)
	}
	if res.(*addTask).Sum != 4 {
		t.Errorf("Sum = %d, want 4", res.(*addTask).Sum)
	}
	if a.m.metrics.restarts.Get() == 0 {
		t.Error("expected the restart to be noticed")
	}
}

func TestCancel(t *testing.T) {
	_, a, b := startPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.m.Call(ctx, a.peer(b), &addTask{Token: t.Name(), Delay: 200})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	found := false
	a.peer(b).RangePending(func(*peer.PendingCall) bool {
		found = true
		return false
	})
	if found {
		t.Error("canceled call is still pending")
	}

	// the callee still completes the work
	eventually(t, "remote completion", func() bool {
		return counter(t.Name()).Load() == 1
	})
}

func TestPriorityEscalation(t *testing.T) {
	_, a, b := startPair(t)
	ctx := sched.WithPriority(testContext(t), 3)

	res, err := a.m.Call(ctx, a.peer(b), &prioTask{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := res.(*prioTask).Observed; got != 4 {
		t.Errorf("remote priority = %d, want 4", got)
	}

	res, err = a.m.Call(ctx, a.peer(b), &fixedPrioTask{})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got := res.(*fixedPrioTask).Observed; got != 6 {
		t.Errorf("fixed priority = %d, want 6", got)
	}

	tests := []struct {
		name string
		prio int
		task Task
	}{
		{"call from max priority", a.sched.MaxPriority(), &prioTask{}},
		{"fixed priority not above caller", 6, &fixedPrioTask{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			a.m.CallAsync(sched.WithPriority(context.Background(), tt.prio), a.peer(b), tt.task)
		})
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	network, a, b := startPair(t)
	network.SetLoss(1, 0)

	future := a.m.CallAsync(context.Background(), a.peer(b), &addTask{Token: t.Name()})
	a.m.Close()

	if _, err := future.Await(testContext(t)); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
