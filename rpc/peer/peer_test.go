package peer

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func TestInternReturnsSameInstance(t *testing.T) {
	r := NewRegistry(2)

	a := r.Intern("10.0.0.1:5000")
	b := r.Intern("10.0.0.2:5000")
	if a != r.Intern("10.0.0.1:5000") {
		t.Error("Intern returned a different instance for the same address")
	}
	if a == b || a.Handle() == b.Handle() {
		t.Error("different addresses must map to different peers and handles")
	}
	if p, ok := r.ByHandle(b.Handle()); !ok || p != b {
		t.Error("ByHandle did not return the interned peer")
	}
	if _, ok := r.Lookup("10.0.0.3:5000"); ok {
		t.Error("Lookup found a peer that was never interned")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}

func TestInternConcurrent(t *testing.T) {
	r := NewRegistry(2)

	var wg sync.WaitGroup
	peers := make([]*Peer, 32)
	for i := range peers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peers[i] = r.Intern("node:1")
		}(i)
	}
	wg.Wait()

	for _, p := range peers {
		if p != peers[0] {
			t.Fatal("concurrent Intern returned different instances")
		}
	}
}

func TestNextTask(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")
	for want := uint32(1); want <= 3; want++ {
		if got := p.NextTask(); got != want {
			t.Errorf("NextTask() = %d, want %d", got, want)
		}
	}

	p.nextTask.Store(^uint32(0))
	defer func() {
		if recover() == nil {
			t.Error("expected panic when task numbers wrap")
		}
	}()
	p.NextTask()
}

// --------------------------------------------------------------------------
// Connection Pool
// --------------------------------------------------------------------------

func pipeDialer(dials *int) DialFunc {
	return func() (net.Conn, error) {
		*dials++
		c, _ := net.Pipe()
		return c, nil
	}
}

func TestPoolBlocksWhenExhausted(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")
	dials := 0
	dial := pipeDialer(&dials)
	ctx := context.Background()

	c1, _ := p.Acquire(ctx, dial)
	c2, _ := p.Acquire(ctx, dial)
	if p.LiveConnections() != 2 || dials != 2 {
		t.Fatalf("live = %d, dials = %d, want 2 and 2", p.LiveConnections(), dials)
	}

	// a third acquire blocks until a release
	got := make(chan net.Conn)
	go func() {
		c, _ := p.Acquire(ctx, dial)
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("Acquire did not block on an exhausted pool")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(c1, false)
	select {
	case c := <-got:
		if c != c1 {
			t.Error("expected the released connection to be reused")
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not wake up after Release")
	}

	// a broken connection frees its slot
	p.Release(c2, true)
	if p.LiveConnections() != 1 {
		t.Errorf("live = %d after broken release, want 1", p.LiveConnections())
	}
	c3, err := p.Acquire(ctx, dial)
	if err != nil || dials != 3 {
		t.Fatalf("Acquire after broken release: err = %v, dials = %d", err, dials)
	}
	p.Release(c3, false)
}

func TestPoolAcquireCanceled(t *testing.T) {
	p := NewRegistry(1).Intern("node:1")
	dials := 0
	c, _ := p.Acquire(context.Background(), pipeDialer(&dials))
	defer p.Release(c, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, pipeDialer(&dials)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire err = %v, want deadline exceeded", err)
	}
}

func TestPoolDialError(t *testing.T) {
	p := NewRegistry(1).Intern("node:1")
	_, err := p.Acquire(context.Background(), func() (net.Conn, error) {
		return nil, errors.New("refused")
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if p.LiveConnections() != 0 {
		t.Errorf("live = %d after failed dial, want 0", p.LiveConnections())
	}
}

// --------------------------------------------------------------------------
// Ledgers
// --------------------------------------------------------------------------

func TestPendingCalls(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")

	calls := make([]*PendingCall, 3)
	for i := range calls {
		calls[i] = NewPendingCall(p.NextTask(), nil, 10*time.Millisecond)
		p.AddPending(calls[i])
	}
	if low := p.LowWater(); low != 1 {
		t.Errorf("LowWater() = %d, want 1", low)
	}

	p.RemovePending(1)
	p.RemovePending(3)
	if low := p.LowWater(); low != 2 {
		t.Errorf("LowWater() = %d, want 2", low)
	}
	p.RemovePending(2)
	if low := p.LowWater(); low != 4 {
		t.Errorf("LowWater() with nothing pending = %d, want 4", low)
	}

	if !calls[0].Complete(nil, errors.New("first")) {
		t.Error("first Complete must succeed")
	}
	if calls[0].Complete(nil, nil) {
		t.Error("second Complete must be ignored")
	}
	<-calls[0].Done()
	if _, err := calls[0].Result(); err == nil || err.Error() != "first" {
		t.Errorf("Result() err = %v, want first", err)
	}
}

func TestPendingCallBackoff(t *testing.T) {
	c := NewPendingCall(1, nil, 10*time.Millisecond)
	now := c.Sent

	if c.Due(now) {
		t.Error("call must not be due immediately")
	}
	if !c.Due(now.Add(10 * time.Millisecond)) {
		t.Error("call must be due after the initial backoff")
	}

	for i := 0; i < 10; i++ {
		c.Backoff(now, 50*time.Millisecond)
	}
	if c.Retries() != 10 {
		t.Errorf("Retries() = %d, want 10", c.Retries())
	}
	if c.Due(now.Add(49*time.Millisecond)) || !c.Due(now.Add(50*time.Millisecond)) {
		t.Error("backoff must be capped at the maximum")
	}
}

func TestLedgerAndWatermark(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")

	call, isNew := p.Begin(5)
	if !isNew || call.Status() != StatusRunning {
		t.Fatal("first Begin must create a running entry")
	}
	if again, isNew := p.Begin(5); isNew || again != call {
		t.Fatal("second Begin must return the existing entry")
	}
	if call.Reply() != nil {
		t.Error("running call must not have a reply")
	}

	hooked := false
	call.Computed([]byte{1, 2, 3}, func() { hooked = true })
	call.MarkSent(time.Now())
	if call.Status() != StatusReplied || len(call.Reply()) != 3 {
		t.Errorf("status = %s, reply = %v", call.Status(), call.Reply())
	}
	if call.ReofferDue(time.Now(), time.Hour) {
		t.Error("reoffer must not be due before the interval")
	}

	acked, _ := p.Begin(4)
	acked.Computed([]byte{4}, nil)
	acked.MarkSent(time.Now())
	if !acked.AckAcked() || acked.AckAcked() {
		t.Error("AckAcked must succeed exactly once")
	}
	if acked.Status() != StatusDone || acked.Reply() != nil {
		t.Error("acknowledged call must be done and release its reply")
	}

	running, _ := p.Begin(6)
	if running.AckAcked() {
		t.Error("a running call cannot be acknowledged")
	}
	p.RollUp(7)
	if p.Watermark() != 6 || !p.BelowWatermark(6) || p.BelowWatermark(7) {
		t.Errorf("Watermark() = %d, want 6", p.Watermark())
	}
	if _, ok := p.Call(5); ok || !hooked {
		t.Error("replied call below the watermark must be dropped and its hook run")
	}
	if _, ok := p.Call(4); ok {
		t.Error("done call below the watermark must be dropped")
	}
	if _, ok := p.Call(6); !ok || running.Status() != StatusRunning {
		t.Error("running call must survive the roll up")
	}

	// the watermark never moves backwards
	p.RollUp(3)
	if p.Watermark() != 6 {
		t.Errorf("Watermark() = %d after lower roll up, want 6", p.Watermark())
	}

	p.Reset()
	if p.Watermark() != 0 || p.LedgerSize() != 0 {
		t.Error("Reset must clear the ledger and the watermark")
	}
}

func TestObserveEpoch(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")
	if p.ObserveEpoch(7) {
		t.Error("first epoch must not count as a change")
	}
	if p.ObserveEpoch(7) {
		t.Error("same epoch must not count as a change")
	}
	if !p.ObserveEpoch(8) || p.Epoch() != 8 {
		t.Error("new epoch must be reported")
	}
}

func TestStartCall(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")

	call, err := p.StartCall(func(task uint32) ([]byte, error) {
		return []byte{byte(task)}, nil
	}, time.Millisecond)
	if err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	if call.Task != 1 || call.Payload[0] != 1 {
		t.Errorf("task = %d, payload = %v", call.Task, call.Payload)
	}
	if got, ok := p.Pending(1); !ok || got != call {
		t.Error("StartCall did not record the call")
	}

	if _, err := p.StartCall(func(uint32) ([]byte, error) {
		return nil, errors.New("encode")
	}, time.Millisecond); err == nil {
		t.Error("expected encode error")
	}
	if p.LowWater() != 1 {
		t.Errorf("LowWater() = %d, want 1", p.LowWater())
	}
}

func TestResetRunsHooks(t *testing.T) {
	p := NewRegistry(2).Intern("node:1")

	hooks := 0
	replied, _ := p.Begin(1)
	replied.Computed([]byte{1}, func() { hooks++ })
	replied.MarkSent(time.Now())
	running, _ := p.Begin(2)

	p.Reset()
	if hooks != 1 {
		t.Fatalf("hooks = %d after Reset, want 1", hooks)
	}

	// a call still running during the reset is acknowledged once computed
	running.Computed([]byte{2}, func() { hooks++ })
	if hooks != 2 || running.Status() != StatusDone {
		t.Errorf("hooks = %d, status = %s", hooks, running.Status())
	}
	running.MarkSent(time.Now())
	if running.Status() != StatusDone {
		t.Errorf("MarkSent revived an abandoned call: %s", running.Status())
	}
}
