// Package metrics exposes Prometheus collectors for asks and extraction.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/fabricagent/internal/extract"
)

var (
	asksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricagent_asks_total",
		Help: "Questions sent to the data agent, by source and outcome.",
	}, []string{"source", "status"})
	askDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fabricagent_ask_duration_seconds",
		Help:    "Time from submitting a question to its final answer.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"source"})
	extractedQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabricagent_extracted_queries_total",
		Help: "Distinct SQL statements mined from run steps.",
	})
	extractedPreviews = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabricagent_extracted_previews_total",
		Help: "Non-empty data previews mined from run steps and responses.",
	})
	retrievalMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricagent_retrieval_query_total",
		Help: "Runs by whether a retrieval query was identified.",
	}, []string{"found"})
	scheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabricagent_scheduled_runs_total",
		Help: "Scheduled saved-question runs, by outcome.",
	}, []string{"status"})
)

// ObserveAsk records one finished ask.
func ObserveAsk(source string, err error, d time.Duration) {
	if source == "" {
		source = "unknown"
	}
	asksTotal.WithLabelValues(source, outcome(err)).Inc()
	askDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveReport records what extraction found in one run.
func ObserveReport(r *extract.Report) {
	if r == nil {
		return
	}
	extractedQueries.Add(float64(len(r.Queries)))
	for _, p := range r.DataPreviews {
		if len(p) > 0 {
			extractedPreviews.Inc()
		}
	}
	if r.HasRetrievalQuery() {
		retrievalMatches.WithLabelValues("true").Inc()
	} else {
		retrievalMatches.WithLabelValues("false").Inc()
	}
}

// ObserveScheduled records one scheduled run.
func ObserveScheduled(err error) {
	scheduledRuns.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
