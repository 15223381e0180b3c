// Package metrics holds the Prometheus collectors of the asset engine. They
// register on the default registry and are served at /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/asset-engine/asset"
)

// ─── Depreciation ───────────────────────────────────────────────────────────

var DepreciationPostings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "postings_total",
	Help:      "Ledger entries posted, by depreciation method.",
}, []string{"method"})

var DepreciationAmount = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "amount_total",
	Help:      "Sum of posted depreciation amounts (display only).",
})

var DepreciationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "failures_total",
	Help:      "Per-asset failures during scheduler runs, by error kind.",
}, []string{"kind"})

var DepreciationSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "skipped_total",
	Help:      "Assets listed as due that had nothing left to post.",
})

var FullyDepreciated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "fully_depreciated_total",
	Help:      "Assets that reached salvage value.",
})

var BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "asset_engine",
	Subsystem: "depreciation",
	Name:      "batch_duration_seconds",
	Help:      "Wall time of one scheduler run.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
})

// ─── Workflows ──────────────────────────────────────────────────────────────

var Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "workflow",
	Name:      "transitions_total",
	Help:      "Committed lifecycle transitions, by history kind.",
}, []string{"kind"})

var Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "workflow",
	Name:      "rejections_total",
	Help:      "Workflow operations refused, by operation and error kind.",
}, []string{"operation", "kind"})

// ─── Events ─────────────────────────────────────────────────────────────────

var EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "asset_engine",
	Subsystem: "events",
	Name:      "dropped_total",
	Help:      "Lifecycle events dropped because a subscriber was too slow.",
})

var Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "asset_engine",
	Subsystem: "events",
	Name:      "subscribers",
	Help:      "Connected event stream subscribers.",
})

// ErrorKind labels an error for the failure counters.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, asset.ErrValidation):
		return "validation"
	case errors.Is(err, asset.ErrConflict):
		return "conflict"
	case errors.Is(err, asset.ErrPrecondition):
		return "precondition"
	case errors.Is(err, asset.ErrCalculation):
		return "calculation"
	case errors.Is(err, asset.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
