package sched

import "context"

// Well-known priorities of a scheduler with max as its highest priority.
// Invalidations never block and run on top. Get and put handling may block on
// invalidations, so they run one level below. User work starts at 0.
func PriorityInvalidate(max int) int { return max }
func PriorityGetKey(max int) int     { return max - 1 }
func PriorityPutKey(max int) int     { return max - 1 }

// PriorityUser is the priority of work submitted by applications
const PriorityUser = 0

type priorityKey struct{}

// WithPriority returns a copy of ctx that carries prio
func WithPriority(ctx context.Context, prio int) context.Context {
	return context.WithValue(ctx, priorityKey{}, prio)
}

// PriorityFrom returns the priority carried by ctx, PriorityUser if none is set
func PriorityFrom(ctx context.Context) int {
	if prio, ok := ctx.Value(priorityKey{}).(int); ok {
		return prio
	}
	return PriorityUser
}
