// Package metrics holds prometheus collectors of the tracking pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "budtrack"

// Pipeline groups collectors updated by the pipeline controller.
// Nil *Pipeline is valid and records nothing
type Pipeline struct {
	frames            prometheus.Counter
	frameDuration     prometheus.Histogram
	cells             prometheus.Gauge
	newCells          prometheus.Counter
	warnings          prometheus.Counter
	segmenterFailures prometheus.Counter
	edits             *prometheus.CounterVec
	runs              *prometheus.CounterVec
}

// NewPipeline creates collectors and registers them on reg. Nil reg leaves collectors unregistered
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	m := &Pipeline{
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frames_total",
			Help:      "Number of frames segmented, tracked and analysed.",
		}),
		frameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "frame_duration_seconds",
			Help:      "Time spent on a single frame including persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		cells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cells",
			Help:      "Number of cells in the last analysed frame.",
		}),
		newCells: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracking",
			Name:      "new_cells_total",
			Help:      "Number of fresh CellIDs issued by the frame tracker.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "warnings_total",
			Help:      "Number of recoverable lineage warnings (e.g. buds without mother).",
		}),
		segmenterFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segmenter",
			Name:      "failures_total",
			Help:      "Number of failed segmenter calls including retried ones.",
		}),
		edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lineage",
			Name:      "edits_total",
			Help:      "Number of lineage edits by operation and outcome.",
		}, []string{"operation", "outcome"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Number of finished pipeline runs by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.frameDuration, m.cells, m.newCells, m.warnings, m.segmenterFailures, m.edits, m.runs)
	}
	return m
}

// ObserveFrame records analysed frame
func (m *Pipeline) ObserveFrame(elapsed time.Duration, cells, newCells, warnings int) {
	if m == nil {
		return
	}
	m.frames.Inc()
	m.frameDuration.Observe(elapsed.Seconds())
	m.cells.Set(float64(cells))
	m.newCells.Add(float64(newCells))
	m.warnings.Add(float64(warnings))
}

// SegmenterFailed records failed segmenter call
func (m *Pipeline) SegmenterFailed() {
	if m == nil {
		return
	}
	m.segmenterFailures.Inc()
}

// ObserveEdit records lineage edit
func (m *Pipeline) ObserveEdit(operation string, err error, warnings int) {
	if m == nil {
		return
	}
	m.edits.WithLabelValues(operation, outcome(err)).Inc()
	m.warnings.Add(float64(warnings))
}

// ObserveRun records finished run
func (m *Pipeline) ObserveRun(err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
