package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
)

// SampleResult is the outcome of one frame processed with one strategy.
type SampleResult struct {
	Frame      int                 `json:"frame"`
	Strategy   preprocess.Strategy `json:"strategy"`
	Text       string              `json:"text"`
	Confidence float64             `json:"confidence"`
	Reading    *extract.Reading    `json:"reading,omitempty"`
	Err        error               `json:"-"`
	Error      string              `json:"error,omitempty"`
	Processing struct {
		PreprocessNs  int64 `json:"preprocess_ns"`
		RecognitionNs int64 `json:"recognition_ns"`
		ExtractionNs  int64 `json:"extraction_ns"`
		TotalNs       int64 `json:"total_ns"`
	} `json:"processing"`
}

func (s *SampleResult) setError(err error) {
	s.Err = err
	s.Error = err.Error()
}

// Result is the classified reading assembled from all samples of one capture.
type Result struct {
	Reading        extract.Reading         `json:"reading"`
	Classification classify.Classification `json:"classification"`
	GroupSize      int                     `json:"group_size"`
	ReadingCount   int                     `json:"reading_count"`
	SampleCount    int                     `json:"sample_count"`
	Agreement      float64                 `json:"agreement"`
	Samples        []SampleResult          `json:"samples"`
	Processing     struct {
		TotalNs int64 `json:"total_ns"`
	} `json:"processing"`
}

// ToJSON serializes a result to pretty JSON.
func ToJSON(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainText renders a result as short human-readable lines.
func ToPlainText(res *Result) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	r := res.Reading
	lines := []string{
		fmt.Sprintf("Systolic:  %d mmHg (%s)", r.Systolic, classify.SystolicLevel(r.Systolic)),
		fmt.Sprintf("Diastolic: %d mmHg (%s)", r.Diastolic, classify.DiastolicLevel(r.Diastolic)),
	}
	if r.Pulse != nil {
		lines = append(lines, fmt.Sprintf("Pulse:     %d bpm", *r.Pulse))
	}
	lines = append(lines, "Assessment: "+res.Classification.Label)
	if res.SampleCount > 1 {
		lines = append(lines, fmt.Sprintf("Agreement: %d of %d readings (%d samples)", res.GroupSize, res.ReadingCount, res.SampleCount))
	}
	return strings.Join(lines, "\n"), nil
}
