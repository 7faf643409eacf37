package mr

import (
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// engineMetrics are the counters of a single engine
type engineMetrics struct {
	jobs         *metrics.Counter
	failed       *metrics.Counter
	leaves       *metrics.Counter
	remoteSplits *metrics.Counter

	duration gometrics.Timer
}

func newEngineMetrics(set *metrics.Set, stats gometrics.Registry) *engineMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	if stats == nil {
		stats = gometrics.NewRegistry()
	}
	return &engineMetrics{
		jobs:         set.NewCounter("dcloud_mr_jobs_total"),
		failed:       set.NewCounter("dcloud_mr_jobs_failed_total"),
		leaves:       set.NewCounter("dcloud_mr_leaves_total"),
		remoteSplits: set.NewCounter("dcloud_mr_remote_splits_total"),
		duration:     gometrics.GetOrRegisterTimer("mr.job", stats),
	}
}
