// Package metrics exposes Prometheus collectors for the venue crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsStartedTotal  prometheus.Counter
	runsFinishedTotal *prometheus.CounterVec
	stepsTotal        *prometheus.CounterVec
	pagesScrapedTotal *prometheus.CounterVec
	extractionsTotal  *prometheus.CounterVec
	queueMessages     *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		runsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_runs_started_total",
			Help: "Total pipeline runs started.",
		})
		runsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_finished_total",
			Help: "Total pipeline runs finished, labeled by terminal status.",
		}, []string{"status"})
		stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_steps_total",
			Help: "Step executions, labeled by step name and outcome (executed, memo_hit, failed).",
		}, []string{"step", "outcome"})
		pagesScrapedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pages_scraped_total",
			Help: "Pages scraped, labeled by fetch outcome.",
		}, []string{"status"})
		extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Structured extraction attempts, labeled by outcome (ok, parse_error).",
		}, []string{"outcome"})
		queueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Queue messages handled, labeled by message type and outcome.",
		}, []string{"type", "outcome"})
		httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency, labeled by method, route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"})
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// RunStarted increments the started-runs counter.
func RunStarted() {
	Init()
	runsStartedTotal.Inc()
}

// RunFinished records a terminal run status.
func RunFinished(status string) {
	Init()
	runsFinishedTotal.WithLabelValues(status).Inc()
}

// StepExecuted records a step that ran its function to completion.
func StepExecuted(step string) {
	Init()
	stepsTotal.WithLabelValues(step, "executed").Inc()
}

// StepMemoHit records a step answered from the run log.
func StepMemoHit(step string) {
	Init()
	stepsTotal.WithLabelValues(step, "memo_hit").Inc()
}

// StepFailed records a step that exhausted its retries.
func StepFailed(step string) {
	Init()
	stepsTotal.WithLabelValues(step, "failed").Inc()
}

// PageScraped records a page fetch outcome.
func PageScraped(status string) {
	Init()
	pagesScrapedTotal.WithLabelValues(status).Inc()
}

// Extraction records a structured extraction outcome.
func Extraction(outcome string) {
	Init()
	extractionsTotal.WithLabelValues(outcome).Inc()
}

// QueueMessage records a dispatched queue message outcome.
func QueueMessage(msgType, outcome string) {
	Init()
	queueMessages.WithLabelValues(msgType, outcome).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
