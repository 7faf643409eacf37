package store

import (
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// storeMetrics are the counters of a single store
type storeMetrics struct {
	puts                  *metrics.Counter
	gets                  *metrics.Counter
	hits                  *metrics.Counter
	remoteGets            *metrics.Counter
	notHome               *metrics.Counter
	invalidationsSent     *metrics.Counter
	invalidationsReceived *metrics.Counter
	spills                *metrics.Counter
	replicaDrops          *metrics.Counter

	putLatency gometrics.Timer
}

func newStoreMetrics(set *metrics.Set, stats gometrics.Registry, s *storeImpl) *storeMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	if stats == nil {
		stats = gometrics.NewRegistry()
	}
	set.NewGauge("dcloud_store_memory_bytes", func() float64 {
		return float64(s.memory.Load())
	})
	set.NewGauge("dcloud_store_pending_puts", func() float64 {
		return float64(s.pending.Size())
	})
	return &storeMetrics{
		puts:                  set.NewCounter("dcloud_store_puts_total"),
		gets:                  set.NewCounter("dcloud_store_gets_total"),
		hits:                  set.NewCounter("dcloud_store_cache_hits_total"),
		remoteGets:            set.NewCounter("dcloud_store_remote_gets_total"),
		notHome:               set.NewCounter("dcloud_store_not_home_total"),
		invalidationsSent:     set.NewCounter("dcloud_store_invalidations_sent_total"),
		invalidationsReceived: set.NewCounter("dcloud_store_invalidations_received_total"),
		spills:                set.NewCounter("dcloud_store_spills_total"),
		replicaDrops:          set.NewCounter("dcloud_store_replica_drops_total"),
		putLatency:            gometrics.GetOrRegisterTimer("store.put", stats),
	}
}
