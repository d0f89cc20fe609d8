package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/yusufsahin/queuepgskip/internal/store"
)

var (
	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepgskip_jobs_claimed_total",
		Help: "Jobs successfully claimed (pending to processing).",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepgskip_jobs_completed_total",
		Help: "Jobs recorded as done.",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepgskip_jobs_failed_total",
		Help: "Jobs whose handler failed (recorded as failed).",
	})
	claimErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepgskip_claim_errors_total",
		Help: "Claim attempts that failed with a store error (treated as no work).",
	})
	recordErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queuepgskip_record_errors_total",
		Help: "Terminal-state writes that failed, leaving the job in processing.",
	})
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queuepgskip_queue_depth",
		Help: "Current number of jobs per status.",
	}, []string{"status"})
)

// setQueueDepth publishes one gauge sample per status, zeroing statuses with
// no rows so stale values do not linger.
func setQueueDepth(counts map[store.Status]int64) {
	for _, st := range []store.Status{
		store.StatusPending, store.StatusProcessing, store.StatusDone, store.StatusFailed,
	} {
		queueDepth.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
