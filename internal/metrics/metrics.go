// Package metrics exposes Prometheus collectors for sync, task pushes, feed
// fetches and month views.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskcal"

// Feed fetch outcomes.
const (
	FeedFetched     = "fetched"
	FeedNotModified = "not_modified"
	FeedCached      = "cached"
	FeedFailed      = "failed"
)

// Metrics owns its registry, so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	pulls        *prometheus.CounterVec
	pullDuration prometheus.Histogram
	taskSync     *prometheus.CounterVec
	feedFetches  *prometheus.CounterVec
	monthViews   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pulls_total",
			Help:      "Remote calendar pulls by mode and result.",
		}, []string{"mode", "result"}),
		pullDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pull_duration_seconds",
			Help:      "Latency of remote calendar pulls.",
			Buckets:   prometheus.DefBuckets,
		}),
		taskSync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "task_changes_total",
			Help:      "Task changes propagated to the remote calendar by operation and result.",
		}, []string{"op", "result"}),
		feedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ics",
			Name:      "fetches_total",
			Help:      "ICS feed fetches by outcome.",
		}, []string{"outcome"}),
		monthViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agenda",
			Name:      "month_views_total",
			Help:      "Month views served, split by whether feeds were missing.",
		}, []string{"partial"}),
	}
	m.reg.MustRegister(
		m.pulls, m.pullDuration, m.taskSync, m.feedFetches, m.monthViews,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) ObservePull(full bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	mode := "incremental"
	if full {
		mode = "full"
	}
	m.pulls.WithLabelValues(mode, result(err)).Inc()
	m.pullDuration.Observe(d.Seconds())
}

// ObserveTaskSync counts one propagated task change; op is "save" or
// "delete".
func (m *Metrics) ObserveTaskSync(op string, err error) {
	if m == nil {
		return
	}
	m.taskSync.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) ObserveFeedFetch(outcome string) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveMonth(partial bool) {
	if m == nil {
		return
	}
	label := "false"
	if partial {
		label = "true"
	}
	m.monthViews.WithLabelValues(label).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
