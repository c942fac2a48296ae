package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_jobs_submitted_total", Help: "Generation jobs submitted to the backend"})
	SubmitFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_jobs_submit_failures_total", Help: "Submissions that failed and were rolled back"})
	PushesApplied     = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_pushes_applied_total", Help: "Realtime pushes merged into the plan cache"})
	PushesDiscarded   = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_pushes_discarded_total", Help: "Pushes dropped after subscription teardown or for unknown plans"})
	MergesRejected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_merges_rejected_total", Help: "Status updates rejected by the merge consistency guards"})
	PollTicks         = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_poll_ticks_total", Help: "Status poll requests issued"})
	PollErrors        = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_poll_errors_total", Help: "Transient poll errors skipped"})
	LocalTimeouts     = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_local_timeouts_total", Help: "Jobs failed locally after the liveness deadline"})
	CadencePrompts    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lesson_cadence_prompts_total", Help: "Cadence prompts shown to the teacher"})
	ActiveSubs        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lesson_active_subscriptions", Help: "Open realtime plan subscriptions"})
	ActivePolls       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lesson_active_polls", Help: "Polling loops currently running"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			SubmitFailures,
			PushesApplied,
			PushesDiscarded,
			MergesRejected,
			PollTicks,
			PollErrors,
			LocalTimeouts,
			CadencePrompts,
			ActiveSubs,
			ActivePolls,
		)
	})
	return promhttp.Handler()
}
