package mr

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/lib/sched"
	"github.com/ValentinKolb/dCloud/lib/store"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/ValentinKolb/dCloud/rpc/messenger"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"slices"
	"time"
)

var Logger = logger.GetLogger("mr")

type engineImpl struct {
	m          messenger.IMessenger
	store      store.IStore
	members    membership.IProvider
	clientMode bool
	metrics    *engineMetrics
}

// NewEngine creates the map/reduce engine of a node and registers the dataset
// types, the remote split task and the built-in tasks in the messenger's type
// registry. Metrics are registered in set and stats (both may be nil).
func NewEngine(
	m messenger.IMessenger,
	s store.IStore,
	members membership.IProvider,
	clientMode bool,
	set *metrics.Set,
	stats gometrics.Registry,
) IEngine {
	e := &engineImpl{
		m:          m,
		store:      s,
		members:    members,
		clientMode: clientMode,
		metrics:    newEngineMetrics(set, stats),
	}

	types := m.Types()
	types.Register(common.TypeIDDataset, func() codec.Freezable { return &Dataset{} })
	types.Register(common.TypeIDChunk, func() codec.Freezable { return &Chunk{} })
	types.Register(common.TypeIDMRRemote, func() codec.Freezable { return &remoteTask{e: e} })
	e.Register(common.TypeIDMRSum, func() Task { return &SumTask{} })
	e.Register(common.TypeIDMRScale, func() Task { return &ScaleTask{} })
	return e
}

// job is the description of a job shared by all nodes taking part
type job struct {
	id      string
	ds      *Dataset
	task    Task
	members []string
	// self is the index of this node in members, -1 if it is not a member
	self int
	// out names the output dataset, nil without output
	out *Dataset
}

// partial is the result of a subtree of a job
type partial struct {
	task Task
	// rows written to every output chunk, nil without output
	rows []int64
}

func (p *partial) merge(o *partial) {
	p.task.Reduce(o.task)
	if p.rows == nil {
		p.rows = o.rows
		return
	}
	for i, r := range o.rows {
		p.rows[i] += r
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IEngine)
// --------------------------------------------------------------------------

func (e *engineImpl) Register(id uint16, factory func() Task) {
	e.m.Types().Register(id, func() codec.Freezable { return factory() })
}

func (e *engineImpl) RunAll(ctx context.Context, ds *Dataset, task Task, opts ...Option) (Task, error) {
	return e.DispatchAsync(ctx, ds, task, opts...).Await(ctx)
}

func (e *engineImpl) DispatchAsync(ctx context.Context, ds *Dataset, task Task, opts ...Option) *Handle {
	var o jobOptions
	for _, opt := range opts {
		opt(&o)
	}

	h := &Handle{
		JobID: uuid.NewString(),
		sched: e.m.Scheduler(),
		prio:  sched.PriorityFrom(ctx),
		done:  make(chan struct{}),
	}
	members := e.view()
	j := &job{
		id:      h.JobID,
		ds:      ds,
		task:    task,
		members: members,
		self:    slices.Index(members, e.m.Self().Addr()),
	}
	if o.output {
		name := o.outName
		if name == "" {
			name = "mr-" + h.JobID
		}
		j.out = &Dataset{Name: name, Group: ds.Group}
	}

	e.metrics.jobs.Inc()
	go func() {
		start := time.Now()
		p, err := e.run(ctx, j)
		var out *Dataset
		if err == nil && j.out != nil {
			out, err = e.publish(ctx, j, p.rows)
		}
		e.metrics.duration.UpdateSince(start)

		if err != nil {
			e.metrics.failed.Inc()
			Logger.Warningf("Job %s over %s failed: %v", j.id, ds.Name, err)
			h.complete(nil, nil, err)
			return
		}
		Logger.Debugf("Job %s over %s completed in %s", j.id, ds.Name, time.Since(start))
		h.complete(p.task, out, nil)
	}()
	return h
}

// --------------------------------------------------------------------------
// Node Level Split
// --------------------------------------------------------------------------

// run executes j over all members. A node that is not a member ships the whole
// range to the first member.
func (e *engineImpl) run(ctx context.Context, j *job) (*partial, error) {
	if len(j.members) == 0 {
		return nil, fmt.Errorf("job %s: no members", j.id)
	}
	if j.self < 0 {
		return e.awaitRemote(ctx, j, e.callRemote(ctx, j, 0, len(j.members)))
	}
	return e.runRange(ctx, j, 0, len(j.members))
}

// runRange executes j over the members [lo,hi), which include this node. The
// half not holding this node is shipped to its first member, the other half is
// split further until only this node is left.
func (e *engineImpl) runRange(ctx context.Context, j *job, lo, hi int) (*partial, error) {
	if hi-lo == 1 {
		if lo != j.self {
			return nil, fmt.Errorf("job %s: node %d asked to run the chunks of node %d", j.id, j.self, lo)
		}
		return e.runChunks(ctx, j, e.localChunks(j))
	}

	mid := lo + (hi-lo)/2
	localLo, localHi, remoteLo, remoteHi := lo, mid, mid, hi
	if j.self >= mid {
		localLo, localHi, remoteLo, remoteHi = mid, hi, lo, mid
	}

	e.metrics.remoteSplits.Inc()
	f := e.callRemote(ctx, j, remoteLo, remoteHi)
	local, err := e.runRange(ctx, j, localLo, localHi)
	if err != nil {
		f.Cancel()
		return nil, err
	}
	remote, err := e.awaitRemote(ctx, j, f)
	if err != nil {
		return nil, err
	}

	// fold in member order
	if localLo < remoteLo {
		local.merge(remote)
		return local, nil
	}
	remote.merge(local)
	return remote, nil
}

func (e *engineImpl) callRemote(ctx context.Context, j *job, lo, hi int) *messenger.Future {
	t := &remoteTask{
		e:       e,
		JobID:   j.id,
		Dataset: j.ds,
		Task:    j.task,
		Members: j.members,
		Lo:      lo,
		Hi:      hi,
	}
	if j.out != nil {
		t.Output = j.out.Name
	}
	return e.m.CallAsync(ctx, e.m.Peers().Intern(j.members[lo]), t)
}

func (e *engineImpl) awaitRemote(ctx context.Context, j *job, f *messenger.Future) (*partial, error) {
	res, err := f.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", j.id, err)
	}
	reply := res.(*remoteTask)
	if reply.Result == nil {
		return nil, fmt.Errorf("job %s: remote split returned no result", j.id)
	}
	return &partial{task: reply.Result, rows: reply.Rows}, nil
}

// localChunks returns the indices of the chunks of j this node is home of
func (e *engineImpl) localChunks(j *job) []int {
	self := e.m.Self().Addr()
	vec := j.ds.VecKey(e.store)
	var chunks []int
	for i := 0; i < j.ds.Chunks(); i++ {
		if e.store.HomeOf(e.store.ChunkKey(vec, i)) == self {
			chunks = append(chunks, i)
		}
	}
	return chunks
}

// --------------------------------------------------------------------------
// Chunk Level Split
// --------------------------------------------------------------------------

// runChunks executes j over the local chunks. The right half is forked to the
// scheduler, the left half runs inline until a single chunk is left.
func (e *engineImpl) runChunks(ctx context.Context, j *job, chunks []int) (*partial, error) {
	switch len(chunks) {
	case 0:
		return e.empty(j), nil
	case 1:
		return e.runLeaf(ctx, j, chunks[0])
	}

	type result struct {
		p   *partial
		err error
	}
	mid := len(chunks) / 2
	prio := sched.PriorityFrom(ctx)
	s := e.m.Scheduler()

	done := make(chan result, 1)
	s.Submit(prio, func(context.Context) {
		p, err := e.runChunks(ctx, j, chunks[mid:])
		done <- result{p, err}
	})

	left, err := e.runChunks(ctx, j, chunks[:mid])
	if err != nil {
		return nil, err
	}
	var right result
	select {
	case right = <-done:
	default:
		s.ManagedBlock(prio, func() { right = <-done })
	}
	if right.err != nil {
		return nil, right.err
	}
	left.merge(right.p)
	return left, nil
}

// runLeaf maps a single chunk. Output rows are stored as provisional chunk of
// the output dataset, which shares the group of the input and is therefore
// homed on this node.
func (e *engineImpl) runLeaf(ctx context.Context, j *job, cidx int) (*partial, error) {
	in, err := LoadChunk(ctx, e.store, e.m.Types(), j.ds, cidx)
	if err != nil {
		return nil, err
	}

	t := j.task.Clone()
	var out *Chunk
	if j.out != nil {
		out = &Chunk{Index: cidx}
	}
	if err := mapChunk(ctx, t, in, out); err != nil {
		return nil, fmt.Errorf("map of chunk %d of %s: %w", cidx, j.ds.Name, err)
	}
	e.metrics.leaves.Inc()

	p := &partial{task: t}
	if out != nil {
		out.Index = cidx
		k := e.store.ChunkKey(j.out.VecKey(e.store), cidx)
		if _, err := e.store.Put(ctx, k, store.NewObjectValue(out)); err != nil {
			return nil, fmt.Errorf("storing output chunk %d of %s: %w", cidx, j.out.Name, err)
		}
		p.rows = make([]int64, j.ds.Chunks())
		p.rows[cidx] = int64(out.Rows())
	}
	return p, nil
}

func (e *engineImpl) empty(j *job) *partial {
	p := &partial{task: j.task.Clone()}
	if j.out != nil {
		p.rows = make([]int64, j.ds.Chunks())
	}
	return p
}

// publish makes the output of a completed job visible by storing its header
func (e *engineImpl) publish(ctx context.Context, j *job, rows []int64) (*Dataset, error) {
	out := &Dataset{Name: j.out.Name, Group: j.out.Group, Rows: rows}
	if out.Rows == nil {
		out.Rows = make([]int64, j.ds.Chunks())
	}
	if _, err := e.store.Put(ctx, out.VecKey(e.store), store.NewObjectValue(out)); err != nil {
		return nil, fmt.Errorf("publishing %s: %w", out.Name, err)
	}
	Logger.Infof("Job %s published %s", j.id, out)
	return out, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// view returns the members a job is split over
func (e *engineImpl) view() []string {
	members := e.members.Members()
	if len(members) == 0 && !e.clientMode {
		return []string{e.m.Self().Addr()}
	}
	return members
}

// mapChunk runs t.Map and returns a panic of the task as error
func mapChunk(ctx context.Context, t Task, in, out *Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Map of %T panicked: %v", t, r)
			err = fmt.Errorf("panic in %T: %v", t, r)
		}
	}()
	return t.Map(ctx, in, out)
}
