package sched

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("sched")

// Job is a unit of work. The context carries the priority the job runs at.
type Job func(ctx context.Context)

// --------------------------------------------------------------------------
// Interface
// --------------------------------------------------------------------------

// IScheduler runs jobs on priority-partitioned worker pools
type IScheduler interface {
	// Submit queues job at priority prio. Priorities above MaxPriority panic.
	Submit(prio int, job Job)
	// ManagedBlock runs fn, which may block, on behalf of work running at prio.
	// A compensating worker serves prio while fn is blocked. Blocking at
	// MaxPriority panics.
	ManagedBlock(prio int, fn func())
	// MaxPriority returns the highest priority
	MaxPriority() int
	// QueueLen returns the number of queued jobs at prio
	QueueLen(prio int) int
	// Close stops all workers. Queued jobs are still executed.
	Close()
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

type task struct {
	job Job
}

// level is the queue and worker pool of a single priority
type level struct {
	prio    int
	queue   *jobQueue[task]
	workers atomic.Int32
}

type schedulerImpl struct {
	levels []*level
	max    int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	executed *metrics.Counter
	blocked  *metrics.Counter
	blocking gometrics.Gauge
	nBlocked atomic.Int64
}

// NewScheduler creates a scheduler with config.Levels priorities (at least 4) and
// config.WorkersPerLevel workers for each of them. Metrics are registered in set
// and registry (both may be nil).
func NewScheduler(config common.SchedulerConfig, set *metrics.Set, registry gometrics.Registry) IScheduler {
	if config.Levels < 4 {
		config.Levels = common.DefaultSchedulerLevels
	}
	if config.WorkersPerLevel <= 0 {
		config.WorkersPerLevel = common.DefaultWorkersPerLevel
	}
	if set == nil {
		set = metrics.NewSet()
	}
	if registry == nil {
		registry = gometrics.NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &schedulerImpl{
		levels:   make([]*level, config.Levels),
		max:      config.Levels - 1,
		ctx:      ctx,
		cancel:   cancel,
		executed: set.NewCounter("dcloud_sched_jobs_executed_total"),
		blocked:  set.NewCounter("dcloud_sched_managed_blocks_total"),
		blocking: gometrics.GetOrRegisterGauge("sched.blocking", registry),
	}

	for p := range s.levels {
		l := &level{prio: p, queue: newJobQueue[task]()}
		s.levels[p] = l
		set.NewGauge(fmt.Sprintf(`dcloud_sched_queue_length{level="%d"}`, p), func() float64 {
			return float64(l.queue.Len())
		})
		for i := 0; i < config.WorkersPerLevel; i++ {
			s.startWorker(l, nil)
		}
	}

	Logger.Debugf("Scheduler started with %d levels and %d workers per level", config.Levels, config.WorkersPerLevel)
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IScheduler)
// --------------------------------------------------------------------------

func (s *schedulerImpl) Submit(prio int, job Job) {
	s.checkPriority(prio)
	if !s.levels[prio].queue.Push(&task{job: job}) {
		Logger.Warningf("Dropping job at priority %d: scheduler closed", prio)
	}
}

func (s *schedulerImpl) ManagedBlock(prio int, fn func()) {
	s.checkPriority(prio)
	if prio == s.max {
		panic(fmt.Sprintf("sched: blocking at the highest priority %d", s.max))
	}

	s.blocked.Inc()
	s.blocking.Update(s.nBlocked.Add(1))
	stop := make(chan struct{})
	s.startWorker(s.levels[prio], stop)
	defer func() {
		close(stop)
		s.blocking.Update(s.nBlocked.Add(-1))
	}()

	fn()
}

func (s *schedulerImpl) MaxPriority() int {
	return s.max
}

func (s *schedulerImpl) QueueLen(prio int) int {
	s.checkPriority(prio)
	return s.levels[prio].queue.Len()
}

func (s *schedulerImpl) Close() {
	s.cancel()
	for _, l := range s.levels {
		l.queue.Close()
	}
	s.wg.Wait()
}

// --------------------------------------------------------------------------
// Workers
// --------------------------------------------------------------------------

// startWorker starts a worker for l. Compensating workers pass a stop channel
// and exit once it is closed.
func (s *schedulerImpl) startWorker(l *level, stop <-chan struct{}) {
	s.wg.Add(1)
	l.workers.Add(1)
	go func() {
		defer s.wg.Done()
		defer l.workers.Add(-1)
		for {
			select {
			case t, ok := <-l.queue.Recv():
				if !ok {
					return
				}
				s.helpHigher(l.prio)
				s.run(l.prio, t)
			case <-stop:
				return
			}
		}
	}()
}

// helpHigher runs queued jobs of every priority above prio until all of those
// queues are empty
func (s *schedulerImpl) helpHigher(prio int) {
	for {
		ran := false
		for p := s.max; p > prio; p-- {
			if t, ok := s.levels[p].queue.TryRecv(); ok && t != nil {
				s.run(p, t)
				ran = true
				break
			}
		}
		if !ran {
			return
		}
	}
}

// run executes t with its priority stored in the context
func (s *schedulerImpl) run(prio int, t *task) {
	t.job(WithPriority(s.ctx, prio))
	s.executed.Inc()
}

// checkPriority panics on priorities outside [0, max]
func (s *schedulerImpl) checkPriority(prio int) {
	if prio < 0 || prio > s.max {
		panic(fmt.Sprintf("sched: priority %d outside [0, %d]", prio, s.max))
	}
}
