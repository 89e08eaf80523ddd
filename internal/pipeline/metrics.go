package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK               = "ok"
	outcomeRecognitionError = "recognition_error"
	outcomeNoReading        = "no_reading"
	outcomeError            = "error"
)

var (
	sampleOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_samples_total",
			Help: "Total number of processed samples",
		},
		[]string{"strategy", "outcome"},
	)

	ocrDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bpvoice_ocr_duration_seconds",
			Help:    "Text recognition duration per sample in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"engine"},
	)

	readingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_readings_total",
			Help: "Total number of readings by severity",
		},
		[]string{"severity"},
	)

	consensusRatio = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpvoice_consensus_ratio",
			Help:    "Fraction of readings that agreed with the reported value",
			Buckets: []float64{.25, .5, .75, .9, 1},
		},
	)
)
