// Package extract turns raw OCR text from a monitor display into a validated reading.
package extract

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// maxTokenDigits bounds the length of a digit run that is parsed as a single number.
// Longer runs are only considered by the merged-run fallback.
const maxTokenDigits = 6

type candidate struct {
	value int
	order int
	span  span
}

// span locates a loose-digit window as [lo, hi) within digit group g. The zero
// value marks a candidate parsed from its own run.
type span struct {
	g, lo, hi int
}

func (c candidate) overlaps(o candidate) bool {
	a, b := c.span, o.span
	if a.hi == 0 || b.hi == 0 || a.g != b.g {
		return false
	}
	return a.lo < b.hi && b.lo < a.hi
}

// Extractor applies a fixed set of value bands to recognized text.
type Extractor struct {
	cfg Config
}

// New validates cfg and returns an Extractor using it.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction config: %w", err)
	}
	return &Extractor{cfg: cfg}, nil
}

// Config returns the bands in use.
func (e *Extractor) Config() Config {
	return e.cfg
}

var defaultExtractor = &Extractor{cfg: DefaultConfig()}

// Extract interprets text with the default bands.
func Extract(text string) (Reading, error) {
	return defaultExtractor.Extract(text)
}

// Extract interprets text as a systolic/diastolic/pulse triple.
// It never panics and returns an error matching ErrNoPlausibleReading when the text
// does not contain a reading that passes validation.
func (e *Extractor) Extract(text string) (Reading, error) {
	runs := digitRuns(text)
	if len(runs) == 0 {
		return Reading{}, noReading(text, "no digits recognized")
	}

	cands := e.tokens(runs)
	if len(cands) < 2 {
		cands = e.splitMergedRuns(runs)
	}
	if len(cands) < 2 {
		cands = append(cands, e.looseDigits(runs, len(cands))...)
	}
	if len(cands) < 2 {
		return Reading{}, noReading(text, "found %d plausible value(s), need at least 2", len(cands))
	}

	si, di, ok := e.pickPressures(cands)
	if !ok {
		return Reading{}, noReading(text, "no candidate pair passes validation")
	}

	reading := Reading{Systolic: cands[si].value, Diastolic: cands[di].value}
	if reading.Systolic < reading.Diastolic {
		reading.Systolic, reading.Diastolic = reading.Diastolic, reading.Systolic
	}
	reading.Pulse = e.pickPulse(cands, si, di, reading)
	return reading, nil
}

// digitRuns strips everything except digits and whitespace and returns the
// remaining maximal digit runs in reading order.
func digitRuns(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)
	return strings.Fields(cleaned)
}

func (e *Extractor) tokens(runs []string) []candidate {
	var out []candidate
	for _, run := range runs {
		if len(run) > maxTokenDigits {
			continue
		}
		v, err := strconv.Atoi(run)
		if err != nil || !e.cfg.Plausible.Contains(v) {
			continue
		}
		out = append(out, candidate{value: v, order: len(out)})
	}
	return out
}

// splitMergedRuns recovers values from runs where the display separators were lost,
// e.g. "12080" for 120 over 80, while keeping plausible tokens in place.
func (e *Extractor) splitMergedRuns(runs []string) []candidate {
	var out []candidate
	add := func(v int) {
		out = append(out, candidate{value: v, order: len(out)})
	}
	for _, run := range runs {
		if len(run) < 5 {
			if v, ok := e.plausible(run); ok {
				add(v)
			}
			continue
		}
		if len(run) <= maxTokenDigits {
			if v, ok := e.plausible(run); ok {
				add(v)
				continue
			}
		}

		lead := atoi(run[:3])
		if !e.cfg.SystolicWide.Contains(lead) {
			continue
		}
		rest := run[3:]
		for _, n := range []int{2, 3} {
			if len(rest) < n || rest[0] == '0' {
				continue
			}
			dia := atoi(rest[:n])
			if !e.cfg.DiastolicRange.Contains(dia) {
				continue
			}
			add(lead)
			add(dia)
			if tail := rest[n:]; len(tail) >= 2 && len(tail) <= 3 {
				if v, ok := e.plausible(tail); ok {
					add(v)
				}
			}
			break
		}
	}
	return out
}

// looseDigits rebuilds numbers from sequences of single-digit runs ("1 2 0 8 0")
// by taking every 2- and 3-digit window that lands in the plausible domain.
// Windows remember their span so that no two roles share a digit.
func (e *Extractor) looseDigits(runs []string, offset int) []candidate {
	var groups []string
	var current strings.Builder
	for _, run := range runs {
		if len(run) == 1 {
			current.WriteString(run)
			continue
		}
		if current.Len() > 1 {
			groups = append(groups, current.String())
		}
		current.Reset()
	}
	if current.Len() > 1 {
		groups = append(groups, current.String())
	}

	var out []candidate
	seen := make(map[int]bool)
	for gi, g := range groups {
		for i := 0; i < len(g); i++ {
			if g[i] == '0' {
				continue
			}
			for _, n := range []int{2, 3} {
				if i+n > len(g) {
					break
				}
				v := atoi(g[i : i+n])
				if !e.cfg.Plausible.Contains(v) || seen[v] {
					continue
				}
				seen[v] = true
				out = append(out, candidate{value: v, order: offset + len(out), span: span{g: gi, lo: i, hi: i + n}})
			}
		}
	}
	return out
}

// pickPressures returns the indices of the systolic and diastolic candidates.
// Band-based selection in display order is tried first, then the two largest values.
func (e *Extractor) pickPressures(cands []candidate) (int, int, bool) {
	for _, band := range []Band{e.cfg.SystolicTypical, e.cfg.SystolicWide} {
		for i, s := range cands {
			if !band.Contains(s.value) {
				continue
			}
			for j, d := range cands {
				if i == j || d.value >= s.value || s.overlaps(d) || !e.cfg.DiastolicTypical.Contains(d.value) {
					continue
				}
				if e.valid(s.value, d.value) {
					return i, j, true
				}
			}
		}
	}

	idx := make([]int, len(cands))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return cands[idx[a]].value > cands[idx[b]].value
	})
	si, di := idx[0], -1
	for _, j := range idx[1:] {
		if !cands[si].overlaps(cands[j]) {
			di = j
			break
		}
	}
	if di < 0 || cands[si].value == cands[di].value || !e.valid(cands[si].value, cands[di].value) {
		return 0, 0, false
	}
	return si, di, true
}

func (e *Extractor) pickPulse(cands []candidate, si, di int, r Reading) *int {
	for i, c := range cands {
		if i == si || i == di || c.overlaps(cands[si]) || c.overlaps(cands[di]) {
			continue
		}
		if c.value == r.Systolic || c.value == r.Diastolic {
			continue
		}
		if e.cfg.Pulse.Contains(c.value) {
			return IntPtr(c.value)
		}
	}
	return nil
}

func (e *Extractor) valid(systolic, diastolic int) bool {
	return systolic > diastolic &&
		e.cfg.SystolicRange.Contains(systolic) &&
		e.cfg.DiastolicRange.Contains(diastolic) &&
		e.cfg.PulsePressure.Contains(systolic-diastolic)
}

func (e *Extractor) plausible(s string) (int, bool) {
	if s == "" || len(s) > maxTokenDigits {
		return 0, false
	}
	v := atoi(s)
	return v, e.cfg.Plausible.Contains(v)
}

// atoi parses a short string of ASCII digits.
func atoi(s string) int {
	v := 0
	for i := 0; i < len(s); i++ {
		v = v*10 + int(s[i]-'0')
	}
	return v
}
