package mr

import (
	"context"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/rpc/codec"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Task is a map/reduce computation. A task is encoded and shipped to every node
// holding chunks of the input, so its parameters and its partial result live in
// its own fields. Task types must be registered on every node (Engine.Register).
type Task interface {
	codec.Freezable
	// Map runs exactly once per chunk of the input and folds it into the task's
	// partial result. in is shared and must not be modified. out is nil unless the
	// job publishes an output dataset; the rows written to out become the chunk of
	// the output with the same index.
	Map(ctx context.Context, in *Chunk, out *Chunk) error
	// Reduce folds the partial result of other into this task. Chunks are not
	// reduced in index order, so Reduce must be associative and commutative.
	Reduce(other Task)
	// Clone returns a task with the same parameters and an empty partial result
	Clone() Task
}

// IEngine runs map/reduce jobs over the datasets of a cloud
type IEngine interface {
	// Register registers a task type under id on this node
	Register(id uint16, factory func() Task)
	// RunAll runs task over every chunk of ds and returns the reduced result
	RunAll(ctx context.Context, ds *Dataset, task Task, opts ...Option) (Task, error)
	// DispatchAsync starts a job and returns a handle to await its result
	DispatchAsync(ctx context.Context, ds *Dataset, task Task, opts ...Option) *Handle
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

type jobOptions struct {
	output  bool
	outName string
}

// Option configures a single job
type Option func(*jobOptions)

// WithOutput publishes the chunks written by Map as a new dataset. An empty name
// generates one.
func WithOutput(name string) Option {
	return func(o *jobOptions) {
		o.output = true
		o.outName = name
	}
}

// --------------------------------------------------------------------------
// Handle
// --------------------------------------------------------------------------

// Handle is the handle of a dispatched job
type Handle struct {
	JobID string

	sched sched.IScheduler
	prio  int

	done   chan struct{}
	result Task
	output *Dataset
	err    error
}

// Done is closed once the job completed
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Await blocks until the job completed and returns its reduced result. If ctx
// ends first ctx.Err() is returned; the job itself still completes.
func (h *Handle) Await(ctx context.Context) (Task, error) {
	select {
	case <-h.done:
	default:
		h.sched.ManagedBlock(h.prio, func() {
			select {
			case <-h.done:
			case <-ctx.Done():
			}
		})
	}

	select {
	case <-h.done:
		return h.result, h.err
	default:
		return nil, ctx.Err()
	}
}

// Output returns the published output dataset of a completed job, nil if the
// job has no output or failed
func (h *Handle) Output() *Dataset {
	select {
	case <-h.done:
		return h.output
	default:
		return nil
	}
}

func (h *Handle) complete(result Task, output *Dataset, err error) {
	h.result, h.output, h.err = result, output, err
	close(h.done)
}
