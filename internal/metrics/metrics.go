package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsStarted counts attempts by whether a draft was resumed.
	AttemptsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_attempts_started_total",
			Help: "Attempts started, split by fresh or resumed draft",
		},
		[]string{"mode"},
	)

	// Submissions counts submitted attempts by trigger (manual/timeout).
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Submitted attempts",
		},
		[]string{"trigger"},
	)

	// ResultSaveFailures counts results kept in memory because the store failed.
	ResultSaveFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_result_save_failures_total",
			Help: "Results that could not be persisted on submission",
		},
	)

	// BulkRows counts uploaded question rows by outcome.
	BulkRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_bulk_question_rows_total",
			Help: "Bulk uploaded question rows",
		},
		[]string{"status"},
	)

	// CatalogFailures counts backend failures swallowed by the catalog.
	CatalogFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_catalog_failures_total",
			Help: "Backend calls that failed and returned an empty result",
		},
		[]string{"op"},
	)
)
