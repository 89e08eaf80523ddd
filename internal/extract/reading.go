package extract

import (
	"errors"
	"fmt"
)

// Reading is an interpreted blood-pressure measurement in mmHg, with an optional pulse in bpm.
type Reading struct {
	Systolic  int  `json:"systolic"`
	Diastolic int  `json:"diastolic"`
	Pulse     *int `json:"pulse,omitempty"`
}

// HasPulse reports whether a pulse value was recognized.
func (r Reading) HasPulse() bool {
	return r.Pulse != nil
}

// PulsePressure is the difference between systolic and diastolic pressure.
func (r Reading) PulsePressure() int {
	return r.Systolic - r.Diastolic
}

func (r Reading) String() string {
	if r.Pulse == nil {
		return fmt.Sprintf("%d/%d", r.Systolic, r.Diastolic)
	}
	return fmt.Sprintf("%d/%d pulse %d", r.Systolic, r.Diastolic, *r.Pulse)
}

// IntPtr returns a pointer to v, handy for building readings with a pulse.
func IntPtr(v int) *int {
	return &v
}

// ErrNoPlausibleReading is matched by every extraction failure.
var ErrNoPlausibleReading = errors.New("no plausible reading")

// NoReadingError describes why no reading could be assembled from the recognized text.
type NoReadingError struct {
	Reason string
	Text   string
}

func (e *NoReadingError) Error() string {
	return fmt.Sprintf("no plausible reading: %s", e.Reason)
}

// Is makes errors.Is(err, ErrNoPlausibleReading) succeed.
func (e *NoReadingError) Is(target error) bool {
	return target == ErrNoPlausibleReading
}

func noReading(text, format string, args ...any) error {
	return &NoReadingError{Reason: fmt.Sprintf(format, args...), Text: text}
}
