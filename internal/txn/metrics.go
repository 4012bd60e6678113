package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("glyph.txn")

var (
	// commitsTotal counts successful commits.
	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "glyph_txn_commits_total",
		Help: "Total committed transactions",
	})

	// abortsTotal counts aborted transactions by error kind.
	abortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyph_txn_aborts_total",
		Help: "Total aborted transactions by error kind",
	}, []string{"kind"})

	// commitDuration tracks the commit pipeline latency.
	commitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "glyph_txn_commit_duration_seconds",
		Help:    "Commit pipeline duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	})

	// ruleFirings counts rule firings by rule.
	ruleFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyph_rule_firings_total",
		Help: "Total rule firings by rule",
	}, []string{"rule"})

	// constraintWarnings counts soft constraint violations by constraint.
	constraintWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "glyph_constraint_warnings_total",
		Help: "Total soft constraint violations by constraint",
	}, []string{"constraint"})
)

func abortKind(err error) string {
	if err == nil {
		return "USER"
	}
	if k := kindOf(err); k != "" {
		return string(k)
	}
	return "OTHER"
}
