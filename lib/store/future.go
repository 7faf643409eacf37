package store

import (
	"context"
	"github.com/ValentinKolb/dCloud/lib/sched"
)

// PutFuture is the handle of an asynchronous put
type PutFuture struct {
	key   *Key
	value *Value
	opts  putOptions

	sched sched.IScheduler
	prio  int

	done    chan struct{}
	prev    *Value
	matched bool
	err     error
}

func newPutFuture(k *Key, v *Value, opts putOptions, s sched.IScheduler, prio int) *PutFuture {
	return &PutFuture{
		key:   k,
		value: v,
		opts:  opts,
		sched: s,
		prio:  prio,
		done:  make(chan struct{}),
	}
}

// Done is closed once the put completed
func (f *PutFuture) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the put completed and returns the previous value. If ctx
// ends first ctx.Err() is returned; the put itself still completes.
func (f *PutFuture) Await(ctx context.Context) (*Value, error) {
	prev, _, err := f.AwaitMatch(ctx)
	return prev, err
}

// AwaitMatch is Await for conditional puts. It also reports whether the value
// was installed.
func (f *PutFuture) AwaitMatch(ctx context.Context) (*Value, bool, error) {
	select {
	case <-f.done:
	default:
		f.sched.ManagedBlock(f.prio, func() {
			select {
			case <-f.done:
			case <-ctx.Done():
			}
		})
	}

	select {
	case <-f.done:
		return f.prev, f.matched, f.err
	default:
		return nil, false, ctx.Err()
	}
}

func (f *PutFuture) complete(prev *Value, matched bool, err error) {
	f.prev, f.matched, f.err = prev, matched, err
	close(f.done)
}

// failedPut returns a completed future carrying err
func failedPut(k *Key, v *Value, s sched.IScheduler, prio int, err error) *PutFuture {
	f := newPutFuture(k, v, putOptions{}, s, prio)
	f.complete(nil, false, err)
	return f
}
