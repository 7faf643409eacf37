package sched

import (
	"context"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Queue
// --------------------------------------------------------------------------

func TestQueueBasicOperations(t *testing.T) {
	q := newJobQueue[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	if _, ok := q.TryRecv(); ok {
		t.Error("Queue should be empty")
	}
	if q.Push(nil) {
		t.Error("Pushing nil should fail")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := newJobQueue[int]()
	defer q.Close()

	const numProducers = 10
	const itemsPerProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				v := p*itemsPerProducer + i
				q.Push(&v)
			}
		}(p)
	}

	received := make(map[int]bool)
	for len(received) < numProducers*itemsPerProducer {
		select {
		case v := <-q.Recv():
			if received[*v] {
				t.Fatalf("Duplicate item received: %d", *v)
			}
			received[*v] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout, received %d of %d items", len(received), numProducers*itemsPerProducer)
		}
	}
	wg.Wait()
}

func TestQueueCloseDeliversRemaining(t *testing.T) {
	q := newJobQueue[int]()
	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	v := 42
	if q.Push(&v) {
		t.Error("Push after Close should fail")
	}

	count := 0
	for range q.Recv() {
		count++
	}
	if count != 5 {
		t.Errorf("Expected 5 items after close, got %d", count)
	}
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

func newTestScheduler(t *testing.T, workers int) IScheduler {
	t.Helper()
	s := NewScheduler(common.SchedulerConfig{Levels: 4, WorkersPerLevel: workers}, nil, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSubmitCarriesPriority(t *testing.T) {
	s := newTestScheduler(t, 2)

	got := make(chan int, 4)
	for p := 0; p <= s.MaxPriority(); p++ {
		s.Submit(p, func(ctx context.Context) {
			got <- PriorityFrom(ctx)
		})
	}

	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		select {
		case p := <-got:
			seen[p] = true
		case <-time.After(time.Second):
			t.Fatal("Timeout waiting for jobs")
		}
	}
	if !reflect.DeepEqual(seen, map[int]bool{0: true, 1: true, 2: true, 3: true}) {
		t.Errorf("Unexpected priorities: %v", seen)
	}
}

func TestPriorityMisusePanics(t *testing.T) {
	s := newTestScheduler(t, 1)

	tests := []struct {
		name string
		fn   func()
	}{
		{"submit above max", func() { s.Submit(s.MaxPriority()+1, func(context.Context) {}) }},
		{"submit negative", func() { s.Submit(-1, func(context.Context) {}) }},
		{"block at max", func() { s.ManagedBlock(s.MaxPriority(), func() {}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestManagedBlockAvoidsStarvation(t *testing.T) {
	// a single worker per level: the inner job can only run on a compensating worker
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	s.Submit(0, func(ctx context.Context) {
		inner := make(chan struct{})
		s.Submit(0, func(context.Context) { close(inner) })
		s.ManagedBlock(PriorityFrom(ctx), func() { <-inner })
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("managed block did not start a compensating worker")
	}
}

func TestHigherPriorityRunsFirst(t *testing.T) {
	s := newTestScheduler(t, 1)

	// occupy the only worker of the highest level
	gate := make(chan struct{})
	started := make(chan struct{})
	s.Submit(3, func(context.Context) {
		close(started)
		<-gate
	})
	<-started
	defer close(gate)

	var mu sync.Mutex
	var order []string
	record := func(name string) Job {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// queued behind the gate, only a lower level worker can run it
	s.Submit(3, record("high"))
	time.Sleep(20 * time.Millisecond)

	finished := make(chan struct{})
	s.Submit(0, func(ctx context.Context) {
		record("low")(ctx)
		close(finished)
	})

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for low priority job")
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []string{"high", "low"}) {
		t.Errorf("Execution order = %v, want [high low]", order)
	}
}

func TestManyJobs(t *testing.T) {
	s := newTestScheduler(t, 4)

	var count atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		s.Submit(i%4, func(context.Context) {
			count.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	if count.Load() != 1000 {
		t.Errorf("Executed %d jobs, want 1000", count.Load())
	}
}

func TestContextPriorityDefault(t *testing.T) {
	if p := PriorityFrom(context.Background()); p != PriorityUser {
		t.Errorf("PriorityFrom(Background) = %d, want %d", p, PriorityUser)
	}
	if p := PriorityFrom(WithPriority(context.Background(), 7)); p != 7 {
		t.Errorf("PriorityFrom = %d, want 7", p)
	}
	if PriorityInvalidate(15) != 15 || PriorityGetKey(15) != 14 || PriorityPutKey(15) != 14 {
		t.Error("unexpected well-known priorities")
	}
}
