package extract

import (
	"errors"
	"fmt"
)

// Band is an inclusive integer range.
type Band struct {
	Min int `mapstructure:"min" yaml:"min" json:"min"`
	Max int `mapstructure:"max" yaml:"max" json:"max"`
}

// Contains reports whether v lies within the band.
func (b Band) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

func (b Band) validate(name string) error {
	if b.Min < 0 || b.Max < b.Min {
		return fmt.Errorf("%s band [%d,%d] is invalid", name, b.Min, b.Max)
	}
	return nil
}

// Config holds the value bands used to turn recognized text into a reading.
type Config struct {
	// Plausible is the domain a token must fall in to be considered at all.
	Plausible Band `mapstructure:"plausible" yaml:"plausible" json:"plausible"`

	// SystolicTypical and SystolicWide are tried in that order when picking the systolic value.
	SystolicTypical  Band `mapstructure:"systolic_typical" yaml:"systolic_typical" json:"systolic_typical"`
	SystolicWide     Band `mapstructure:"systolic_wide" yaml:"systolic_wide" json:"systolic_wide"`
	DiastolicTypical Band `mapstructure:"diastolic_typical" yaml:"diastolic_typical" json:"diastolic_typical"`
	Pulse            Band `mapstructure:"pulse" yaml:"pulse" json:"pulse"`

	// Final validation of the assembled reading.
	SystolicRange  Band `mapstructure:"systolic_range" yaml:"systolic_range" json:"systolic_range"`
	DiastolicRange Band `mapstructure:"diastolic_range" yaml:"diastolic_range" json:"diastolic_range"`
	PulsePressure  Band `mapstructure:"pulse_pressure" yaml:"pulse_pressure" json:"pulse_pressure"`
}

// DefaultConfig returns the bands tuned for common upper-arm and wrist monitors.
func DefaultConfig() Config {
	return Config{
		Plausible:        Band{Min: 30, Max: 250},
		SystolicTypical:  Band{Min: 90, Max: 200},
		SystolicWide:     Band{Min: 60, Max: 250},
		DiastolicTypical: Band{Min: 50, Max: 110},
		Pulse:            Band{Min: 40, Max: 150},
		SystolicRange:    Band{Min: 70, Max: 250},
		DiastolicRange:   Band{Min: 40, Max: 150},
		PulsePressure:    Band{Min: 20, Max: 100},
	}
}

// Validate checks that every band is well formed.
func (c Config) Validate() error {
	bands := []struct {
		name string
		band Band
	}{
		{"plausible", c.Plausible},
		{"systolic typical", c.SystolicTypical},
		{"systolic wide", c.SystolicWide},
		{"diastolic typical", c.DiastolicTypical},
		{"pulse", c.Pulse},
		{"systolic range", c.SystolicRange},
		{"diastolic range", c.DiastolicRange},
		{"pulse pressure", c.PulsePressure},
	}
	for _, b := range bands {
		if err := b.band.validate(b.name); err != nil {
			return err
		}
	}
	if c.PulsePressure.Min < 1 {
		return errors.New("pulse pressure minimum must be positive")
	}
	return nil
}
