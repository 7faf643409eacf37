// Package sched provides the priority scheduler every node executes its work on.
//
// Blocking calls across the cluster are made deadlock free by priorities: work
// a caller blocks on is executed remotely at a priority strictly above the
// caller's own, and a worker never starts work of priority P while a queue of a
// higher priority still holds jobs. Under saturation the highest pending work
// therefore always makes progress.
//
// Key Components:
//
//   - IScheduler: Submit(prio, job) queues a job. ManagedBlock(prio, fn) marks a
//     blocking wait (awaiting an RPC reply, a write lock drain or a pooled
//     connection) and starts a compensating worker for its duration, so the fixed
//     worker budget of a level never starves.
//
//   - jobQueue: An unbounded lock-free multi-producer queue per level. Workers
//     consume from its channel; TryRecv is used to drain higher levels.
//
//   - WithPriority / PriorityFrom: The priority of the running job travels in its
//     context.Context, so callers never pass it explicitly.
//
// Programmer errors fail fast: submitting above the highest priority or blocking
// at the highest priority panics.
//
// Usage:
//
//	s := sched.NewScheduler(config.Scheduler, set, registry)
//	defer s.Close()
//
//	s.Submit(sched.PriorityUser, func(ctx context.Context) {
//	    prio := sched.PriorityFrom(ctx)
//	    s.ManagedBlock(prio, func() { <-reply })
//	})
package sched
