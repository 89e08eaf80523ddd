package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK        = "ok"
	outcomeBusy      = "busy"
	outcomeNoReading = "no_reading"
	outcomeError     = "error"
	outcomeCanceled  = "canceled"
)

var (
	capturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_captures_total",
			Help: "Total number of capture triggers by outcome",
		},
		[]string{"outcome"},
	)

	guidanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_guidance_total",
			Help: "Total number of orientation instructions spoken",
		},
		[]string{"guidance"},
	)
)
