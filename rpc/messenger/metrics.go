package messenger

import (
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// messengerMetrics are the counters of a single messenger
type messengerMetrics struct {
	calls        *metrics.Counter
	localCalls   *metrics.Counter
	retries      *metrics.Counter
	reoffers     *metrics.Counter
	duplicates   *metrics.Counter
	nacks        *metrics.Counter
	busy         *metrics.Counter
	executed     *metrics.Counter
	remoteErrors *metrics.Counter
	streamSends  *metrics.Counter
	restarts     *metrics.Counter

	roundTrip gometrics.Timer
}

func newMessengerMetrics(set *metrics.Set, stats gometrics.Registry) *messengerMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	if stats == nil {
		stats = gometrics.NewRegistry()
	}
	return &messengerMetrics{
		calls:        set.NewCounter("dcloud_rpc_calls_total"),
		localCalls:   set.NewCounter("dcloud_rpc_local_calls_total"),
		retries:      set.NewCounter("dcloud_rpc_retries_total"),
		reoffers:     set.NewCounter("dcloud_rpc_reoffers_total"),
		duplicates:   set.NewCounter("dcloud_rpc_duplicates_total"),
		nacks:        set.NewCounter("dcloud_rpc_nacks_sent_total"),
		busy:         set.NewCounter("dcloud_rpc_busy_received_total"),
		executed:     set.NewCounter("dcloud_rpc_tasks_executed_total"),
		remoteErrors: set.NewCounter("dcloud_rpc_remote_errors_total"),
		streamSends:  set.NewCounter("dcloud_rpc_stream_sends_total"),
		restarts:     set.NewCounter("dcloud_rpc_peer_restarts_total"),
		roundTrip:    gometrics.GetOrRegisterTimer("rpc.roundtrip", stats),
	}
}
