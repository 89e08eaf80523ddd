// Package classify maps a blood-pressure reading to a clinical category.
package classify

import (
	"fmt"

	"github.com/MeKo-Tech/bpvoice/internal/extract"
)

// Severity orders the categories from lowest pressure to most urgent.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityNormal
	SeverityElevated
	SeverityHypertension1
	SeverityHypertension2
	SeverityCrisis
)

var severityNames = map[Severity]string{
	SeverityLow:           "low",
	SeverityNormal:        "normal",
	SeverityElevated:      "elevated",
	SeverityHypertension1: "hypertension-1",
	SeverityHypertension2: "hypertension-2",
	SeverityCrisis:        "crisis",
}

var severityLabels = map[Severity]string{
	SeverityLow:           "Low blood pressure",
	SeverityNormal:        "Normal blood pressure",
	SeverityElevated:      "Elevated blood pressure",
	SeverityHypertension1: "Hypertension stage 1 - consult a doctor",
	SeverityHypertension2: "Hypertension stage 2 - seek medical care",
	SeverityCrisis:        "HYPERTENSIVE CRISIS - seek emergency care!",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(name string) (Severity, error) {
	for s, n := range severityNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Urgent reports whether the category asks the user to seek care.
func (s Severity) Urgent() bool {
	return s >= SeverityHypertension2
}

// Classification is the category of a reading with an English label.
// Localized labels are provided by the messages package.
type Classification struct {
	Severity Severity `json:"severity"`
	Label    string   `json:"label"`
}

// Classify evaluates the bands top to bottom and returns the first match.
// Higher categories are checked first so raising either value never lowers the result.
func Classify(systolic, diastolic int) Classification {
	var s Severity
	switch {
	case systolic >= 180 || diastolic >= 120:
		s = SeverityCrisis
	case systolic >= 140 || diastolic >= 90:
		s = SeverityHypertension2
	case systolic >= 130 || diastolic >= 80:
		s = SeverityHypertension1
	case systolic >= 120:
		s = SeverityElevated
	case systolic < 90 || diastolic < 60:
		s = SeverityLow
	default:
		s = SeverityNormal
	}
	return Classification{Severity: s, Label: severityLabels[s]}
}

// ClassifyReading classifies the pressures of r.
func ClassifyReading(r extract.Reading) Classification {
	return Classify(r.Systolic, r.Diastolic)
}

// Level is the per-value category shown next to each number.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelElevated Level = "elevated"
	LevelHigh     Level = "high"
)

// SystolicLevel categorizes the systolic value alone.
func SystolicLevel(systolic int) Level {
	switch {
	case systolic >= 140:
		return LevelHigh
	case systolic >= 120:
		return LevelElevated
	default:
		return LevelNormal
	}
}

// DiastolicLevel categorizes the diastolic value alone.
func DiastolicLevel(diastolic int) Level {
	switch {
	case diastolic >= 90:
		return LevelHigh
	case diastolic >= 80:
		return LevelElevated
	default:
		return LevelNormal
	}
}
