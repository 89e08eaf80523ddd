// Package aggregate combines several extracted readings of the same display into one.
package aggregate

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"gonum.org/v1/gonum/stat"
)

// DefaultTolerance is the agreement window in mmHg for both pressure values.
const DefaultTolerance = 5

// Config controls clustering of samples.
type Config struct {
	Tolerance int `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
}

// DefaultConfig returns the default aggregation settings.
func DefaultConfig() Config {
	return Config{Tolerance: DefaultTolerance}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Tolerance < 0 {
		return errors.New("tolerance must not be negative")
	}
	return nil
}

// Consensus is the aggregated reading along with how many samples agreed on it.
type Consensus struct {
	Reading   extract.Reading
	GroupSize int
	Total     int
}

// Agreement is the fraction of samples that fell into the winning group.
func (c Consensus) Agreement() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.GroupSize) / float64(c.Total)
}

// Aggregator clusters readings and averages the largest cluster.
type Aggregator struct {
	cfg Config
}

// New validates cfg and returns an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid aggregation config: %w", err)
	}
	return &Aggregator{cfg: cfg}, nil
}

// Aggregate returns the consensus reading of samples.
// Zero samples is reported as extract.ErrNoPlausibleReading.
func (a *Aggregator) Aggregate(samples []extract.Reading) (extract.Reading, error) {
	c, err := a.Consensus(samples)
	if err != nil {
		return extract.Reading{}, err
	}
	return c.Reading, nil
}

// Consensus groups samples greedily in input order: a sample joins the first group whose
// first member is within tolerance on both pressures, otherwise it starts a new group.
// The largest group wins and ties go to the group formed first.
func (a *Aggregator) Consensus(samples []extract.Reading) (Consensus, error) {
	if len(samples) == 0 {
		return Consensus{}, &extract.NoReadingError{Reason: "no samples to aggregate"}
	}

	var groups [][]extract.Reading
	for _, s := range samples {
		placed := false
		for i, g := range groups {
			if a.agrees(g[0], s) {
				groups[i] = append(g, s)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []extract.Reading{s})
		}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if len(g) > len(best) {
			best = g
		}
	}

	return Consensus{Reading: mean(best), GroupSize: len(best), Total: len(samples)}, nil
}

func (a *Aggregator) agrees(anchor, s extract.Reading) bool {
	return absInt(anchor.Systolic-s.Systolic) <= a.cfg.Tolerance &&
		absInt(anchor.Diastolic-s.Diastolic) <= a.cfg.Tolerance
}

func mean(group []extract.Reading) extract.Reading {
	sys := make([]float64, len(group))
	dia := make([]float64, len(group))
	var pulses []float64
	for i, r := range group {
		sys[i] = float64(r.Systolic)
		dia[i] = float64(r.Diastolic)
		if r.Pulse != nil {
			pulses = append(pulses, float64(*r.Pulse))
		}
	}

	out := extract.Reading{
		Systolic:  round(stat.Mean(sys, nil)),
		Diastolic: round(stat.Mean(dia, nil)),
	}
	if len(pulses) > 0 {
		out.Pulse = extract.IntPtr(round(stat.Mean(pulses, nil)))
	}
	return out
}

// round rounds half to even so 120.5 becomes 120 and 79.5 becomes 80.
func round(v float64) int {
	return int(math.RoundToEven(v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
