package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bpvoice_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Reading request metrics
	readingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_reading_requests_total",
			Help: "Total number of reading requests",
		},
		[]string{"source", "outcome"}, // source: http, websocket
	)

	framesPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpvoice_frames_per_request",
			Help:    "Number of frames uploaded per reading request",
			Buckets: []float64{1, 2, 3, 5, 8, 10},
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bpvoice_upload_size_bytes",
			Help:    "Size of uploaded frames in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 10 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bpvoice_websocket_active_connections",
			Help: "Number of active WebSocket sessions",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bpvoice_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction", "type"}, // direction: sent, received
	)
)
