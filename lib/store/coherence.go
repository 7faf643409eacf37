package store

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/messenger"
	"github.com/ValentinKolb/dCloud/rpc/peer"
	"slices"
	"time"
)

// putOptions select a conditional put
type putOptions struct {
	match    bool
	expected []byte
}

// matches returns true if cur satisfies the expectation of a conditional put.
// A nil expectation matches an absent key only.
func (o putOptions) matches(cur *Value) bool {
	if o.expected == nil {
		return cur == nil
	}
	return cur != nil && cur.Equal(o.expected)
}

// --------------------------------------------------------------------------
// Put
// --------------------------------------------------------------------------

// startPut queues a put behind the pending put of this node to the same key and
// runs it in the background
func (s *storeImpl) startPut(ctx context.Context, k *Key, v *Value, opts putOptions) *PutFuture {
	prio := sched.PriorityFrom(ctx)
	sc := s.m.Scheduler()
	s.metrics.puts.Inc()

	if v != nil {
		if v.size > MaxValueSize {
			return failedPut(k, v, sc, prio, NewError(RetCInvalidOperation,
				fmt.Sprintf("value of %s exceeds %s", byteCount(v.size), byteCount(MaxValueSize))))
		}
		if !v.installed.CompareAndSwap(false, true) {
			v = v.clone()
			v.installed.Store(true)
		}
		if err := s.waitForMemory(ctx, v.size); err != nil {
			return failedPut(k, v, sc, prio, err)
		}
	}

	f := newPutFuture(k, v, opts, sc, prio)
	var prev *PutFuture
	s.pending.Compute(k.raw, func(cur *PutFuture, loaded bool) (*PutFuture, bool) {
		prev = nil
		if loaded {
			prev = cur
		}
		return f, false
	})

	// the writer keeps a copy, the home records it as replica holder
	caches := !opts.match && !s.clientMode && !s.IsHome(k)
	if caches {
		s.setLocal(k.raw, v)
	} else if !s.IsHome(k) {
		s.dropLocal(k.raw, nil)
	}

	started := time.Now()
	bg := context.WithoutCancel(ctx)
	go func() {
		if prev != nil {
			<-prev.done
		}
		res, matched, err := s.putRemote(bg, k, v, opts)
		if !opts.match {
			matched = err == nil
		}
		if err != nil && caches {
			s.dropLocal(k.raw, v)
		}
		s.pending.Compute(k.raw, func(cur *PutFuture, loaded bool) (*PutFuture, bool) {
			if cur == f {
				return nil, true
			}
			return cur, !loaded
		})
		s.metrics.putLatency.UpdateSince(started)
		f.complete(res, matched, err)
	}()
	return f
}

// putRemote sends a put to the home of k. If this node became home it is applied
// locally.
func (s *storeImpl) putRemote(ctx context.Context, k *Key, v *Value, opts putOptions) (*Value, bool, error) {
	for attempt := 1; ; attempt++ {
		if s.IsHome(k) {
			return s.putHome(ctx, k, v, opts, s.m.Self())
		}
		home, err := s.homePeer(k)
		if err != nil {
			return nil, false, err
		}

		task := &putKeyTask{
			s:        s,
			Key:      k.raw,
			Match:    opts.match,
			NoCache:  opts.match || s.clientMode,
			Expected: opts.expected,
			Value:    v,
		}
		res, err := s.m.Call(ctx, home, task)
		if err != nil {
			return nil, false, err
		}
		reply := res.(*putKeyTask)
		switch reply.Code {
		case RetCSuccess:
			return reply.Prev, reply.Matched, nil
		case RetCNotHome:
			if attempt >= maxHomeRetries {
				return nil, false, NewError(reply.Code, reply.Msg)
			}
			Logger.Debugf("Put of %s re-routed (%s)", k, reply.Msg)
			if err := sleepCtx(ctx, time.Duration(attempt)*time.Millisecond); err != nil {
				return nil, false, err
			}
		default:
			return nil, false, NewError(reply.Code, reply.Msg)
		}
	}
}

// putHome applies a put on the home of k. The old value is write locked once
// its pending reads completed, then every replica holder except the writer is
// invalidated before v is published. A nil v removes the mapping.
func (s *storeImpl) putHome(ctx context.Context, k *Key, v *Value, opts putOptions, writer *peer.Peer) (*Value, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}

		old, _ := s.table.Load(k.raw)
		if opts.match && !opts.matches(old) {
			return old, false, nil
		}

		if old != nil {
			locked, err := s.lockForWrite(ctx, k, old)
			if err != nil {
				return nil, false, err
			}
			if !locked {
				continue
			}
			if err := s.invalidateReplicas(ctx, k, old, writer); err != nil {
				old.lock.CompareAndSwap(writeLocked, unlocked)
				return nil, false, err
			}
		}

		if v != nil && writer != nil && writer != s.m.Self() {
			v.addReplica(writer.Handle())
		}

		published := false
		s.table.Compute(k.raw, func(cur *Value, loaded bool) (*Value, bool) {
			published = false
			if cur != old {
				return cur, !loaded
			}
			published = true
			if v == nil {
				return nil, true
			}
			return v, false
		})
		if !published {
			if old != nil {
				old.lock.CompareAndSwap(writeLocked, unlocked)
			}
			continue
		}

		if old != nil {
			s.memory.Add(-int64(old.detach()))
		}
		if v != nil {
			s.memory.Add(int64(v.size))
		}
		return old, true, nil
	}
}

// lockForWrite write locks old. It returns false if old was replaced while
// waiting for its pending reads.
func (s *storeImpl) lockForWrite(ctx context.Context, k *Key, old *Value) (bool, error) {
	locked := false
	err := s.managedWait(ctx, func() bool {
		if old.tryLockWrite() {
			locked = true
			return true
		}
		cur, _ := s.table.Load(k.raw)
		return cur != old
	})
	return locked, err
}

// invalidateReplicas drops every cached copy of old except the writer's and waits
// for all of them
func (s *storeImpl) invalidateReplicas(ctx context.Context, k *Key, old *Value, writer *peer.Peer) error {
	handles := old.replicaHandles()
	if len(handles) == 0 {
		return nil
	}

	members, _ := s.view()
	futures := make([]*messenger.Future, 0, len(handles))
	for _, h := range handles {
		p, ok := s.m.Peers().ByHandle(h)
		if !ok || p == writer || p == s.m.Self() || !slices.Contains(members, p.Addr()) {
			continue
		}
		s.metrics.invalidationsSent.Inc()
		futures = append(futures, s.m.CallAsync(ctx, p, &invalidateTask{s: s, Key: k.raw}))
	}

	var firstErr error
	for _, f := range futures {
		if _, err := f.Await(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalidating %s: %w", k, err)
		}
	}
	return firstErr
}

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

// getRemote fetches k from its home and caches a cacheable answer unless an
// invalidation arrived while the fetch was in flight
func (s *storeImpl) getRemote(ctx context.Context, k *Key) (*Value, error) {
	s.metrics.remoteGets.Inc()
	for attempt := 1; ; attempt++ {
		home, err := s.homePeer(k)
		if err != nil {
			return nil, err
		}
		if home == s.m.Self() {
			v, _ := s.table.Load(k.raw)
			return v, nil
		}

		stamp := s.invalidations.Load()
		res, err := s.m.Call(ctx, home, &getKeyTask{s: s, Key: k.raw, NoCache: s.clientMode})
		if err != nil {
			return nil, err
		}
		reply := res.(*getKeyTask)
		switch reply.Code {
		case RetCSuccess:
		case RetCNotHome:
			if attempt >= maxHomeRetries {
				return nil, NewError(reply.Code, reply.Msg)
			}
			if err := sleepCtx(ctx, time.Duration(attempt)*time.Millisecond); err != nil {
				return nil, err
			}
			continue
		default:
			return nil, NewError(reply.Code, reply.Msg)
		}

		// a put of this node started meanwhile
		if f, ok := s.pending.Load(k.raw); ok && !f.opts.match {
			return f.value, nil
		}

		v := reply.Value
		if v == nil || !reply.Cacheable || s.clientMode {
			return v, nil
		}
		v.installed.Store(true)

		stored := false
		actual, _ := s.table.Compute(k.raw, func(cur *Value, loaded bool) (*Value, bool) {
			stored = false
			if loaded {
				return cur, false
			}
			if s.invalidations.Load() != stamp {
				return nil, true
			}
			stored = true
			return v, false
		})
		if stored {
			s.memory.Add(int64(v.size))
		} else if actual != nil {
			return actual, nil
		}
		return v, nil
	}
}

// --------------------------------------------------------------------------
// Local Copies
// --------------------------------------------------------------------------

// setLocal installs v as the local copy of raw, nil removes it
func (s *storeImpl) setLocal(raw string, v *Value) {
	var old *Value
	s.table.Compute(raw, func(cur *Value, loaded bool) (*Value, bool) {
		old = nil
		if loaded {
			old = cur
		}
		if v == nil {
			return nil, true
		}
		return v, false
	})
	if old == v {
		return
	}
	if old != nil {
		s.memory.Add(-int64(old.detach()))
	}
	if v != nil {
		s.memory.Add(int64(v.size))
	}
}

// dropLocal removes the local copy of raw. With only set it is removed only if
// it still is only.
func (s *storeImpl) dropLocal(raw string, only *Value) {
	var removed *Value
	s.table.Compute(raw, func(cur *Value, loaded bool) (*Value, bool) {
		removed = nil
		if !loaded {
			return cur, true
		}
		if only != nil && cur != only {
			return cur, false
		}
		removed = cur
		return nil, true
	})
	if removed != nil {
		s.memory.Add(-int64(removed.detach()))
	}
}

// --------------------------------------------------------------------------
// Waiting
// --------------------------------------------------------------------------

// waitForMemory blocks while the cached bytes exceed twice the memory limit and
// wakes the cleaner
func (s *storeImpl) waitForMemory(ctx context.Context, size int) error {
	limit := s.config.MemoryLimit
	if limit <= 0 {
		return nil
	}
	return s.managedWait(ctx, func() bool {
		used := s.memory.Load()
		if used <= 0 || used+int64(size) <= 2*limit {
			return true
		}
		s.wakeCleaner()
		return false
	})
}

// pollUntil polls cond with an exponential backoff from 10µs to 1ms
func pollUntil(ctx context.Context, cond func() bool) error {
	wait := 10 * time.Microsecond
	for !cond() {
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		wait = min(2*wait, time.Millisecond)
	}
	return nil
}

// sleepCtx sleeps for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
