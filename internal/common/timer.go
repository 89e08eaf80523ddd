// Package common holds small helpers shared by the reading pipeline.
package common

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer measures one stage of a reading. The first Stop fixes the measurement.
type Timer struct {
	name    string
	start   time.Time
	elapsed time.Duration
	stopped bool
}

// NewTimer starts an unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer starts a timer labeled name in log output.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	if !t.stopped {
		t.elapsed = time.Since(t.start)
		t.stopped = true
	}
	return t.elapsed
}

// StopInto stops the timer and observes the elapsed seconds on o.
func (t *Timer) StopInto(o prometheus.Observer) time.Duration {
	d := t.Stop()
	o.Observe(d.Seconds())
	return d
}

// Duration is the recorded time, or the running time if not yet stopped.
func (t *Timer) Duration() time.Duration {
	if t.stopped {
		return t.elapsed
	}
	return time.Since(t.start)
}

// LogValue implements slog.LogValuer.
func (t *Timer) LogValue() slog.Value {
	if t.name == "" {
		return slog.DurationValue(t.Duration())
	}
	return slog.GroupValue(
		slog.String("stage", t.name),
		slog.Duration("duration", t.Duration()),
	)
}
