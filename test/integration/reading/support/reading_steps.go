package support

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/bpvoice/internal/aggregate"
	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/messages"
	"github.com/cucumber/godog"
)

// theLanguageIs selects the announcement language.
func (testCtx *TestContext) theLanguageIs(lang string) error {
	testCtx.Language = lang
	return nil
}

// theDisplayShows runs extraction on recognized display text.
func (testCtx *TestContext) theDisplayShows(text string) error {
	text = strings.ReplaceAll(text, `\n`, "\n")
	testCtx.LastReading, testCtx.LastError = extract.Extract(text)
	if testCtx.LastError == nil {
		testCtx.Classification = classify.ClassifyReading(testCtx.LastReading)
	}
	return nil
}

// aReadingOf sets the reading directly.
func (testCtx *TestContext) aReadingOf(systolic, diastolic int) error {
	testCtx.LastReading = extract.Reading{Systolic: systolic, Diastolic: diastolic}
	testCtx.LastError = nil
	testCtx.Classification = classify.ClassifyReading(testCtx.LastReading)
	return nil
}

// aReadingWithPulse sets the reading including a pulse.
func (testCtx *TestContext) aReadingWithPulse(systolic, diastolic, pulse int) error {
	if err := testCtx.aReadingOf(systolic, diastolic); err != nil {
		return err
	}
	testCtx.LastReading.Pulse = extract.IntPtr(pulse)
	return nil
}

func (testCtx *TestContext) requireReading() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("expected a reading, got error: %w", testCtx.LastError)
	}
	return nil
}

func (testCtx *TestContext) theSystolicPressureShouldBe(want int) error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	if got := testCtx.LastReading.Systolic; got != want {
		return fmt.Errorf("expected systolic %d, got %d", want, got)
	}
	return nil
}

func (testCtx *TestContext) theDiastolicPressureShouldBe(want int) error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	if got := testCtx.LastReading.Diastolic; got != want {
		return fmt.Errorf("expected diastolic %d, got %d", want, got)
	}
	return nil
}

func (testCtx *TestContext) thePulseShouldBe(want int) error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	p := testCtx.LastReading.Pulse
	if p == nil {
		return fmt.Errorf("expected pulse %d, got none", want)
	}
	if *p != want {
		return fmt.Errorf("expected pulse %d, got %d", want, *p)
	}
	return nil
}

func (testCtx *TestContext) noPulseShouldBeReported() error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	if p := testCtx.LastReading.Pulse; p != nil {
		return fmt.Errorf("expected no pulse, got %d", *p)
	}
	return nil
}

func (testCtx *TestContext) noReadingShouldBeFound() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("expected no reading, got %s", testCtx.LastReading)
	}
	if !errors.Is(testCtx.LastError, extract.ErrNoPlausibleReading) {
		return fmt.Errorf("expected no plausible reading, got: %w", testCtx.LastError)
	}
	return nil
}

// theSamples reads a table with systolic, diastolic and an optional pulse column.
func (testCtx *TestContext) theSamples(table *godog.Table) error {
	if len(table.Rows) < 2 {
		return errors.New("sample table needs a header and at least one row")
	}
	header := table.Rows[0].Cells
	testCtx.Samples = nil
	for _, row := range table.Rows[1:] {
		var r extract.Reading
		for i, cell := range row.Cells {
			if cell.Value == "" {
				continue
			}
			v, err := strconv.Atoi(cell.Value)
			if err != nil {
				return fmt.Errorf("invalid value %q: %w", cell.Value, err)
			}
			switch header[i].Value {
			case "systolic":
				r.Systolic = v
			case "diastolic":
				r.Diastolic = v
			case "pulse":
				r.Pulse = extract.IntPtr(v)
			default:
				return fmt.Errorf("unknown column %q", header[i].Value)
			}
		}
		testCtx.Samples = append(testCtx.Samples, r)
	}
	return nil
}

func (testCtx *TestContext) theSamplesAreAggregatedWithTolerance(tolerance int) error {
	agg, err := aggregate.New(aggregate.Config{Tolerance: tolerance})
	if err != nil {
		return err
	}
	c, err := agg.Consensus(testCtx.Samples)
	testCtx.LastError = err
	if err != nil {
		return nil
	}
	testCtx.LastReading = c.Reading
	testCtx.Classification = classify.ClassifyReading(c.Reading)
	testCtx.Consensus = c
	return nil
}

func (testCtx *TestContext) samplesShouldAgree(group, total int) error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	c := testCtx.Consensus
	if c.GroupSize != group || c.Total != total {
		return fmt.Errorf("expected %d of %d samples to agree, got %d of %d", group, total, c.GroupSize, c.Total)
	}
	return nil
}

func (testCtx *TestContext) theCategoryShouldBe(want string) error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	if got := testCtx.Classification.Severity.String(); got != want {
		return fmt.Errorf("expected category %q, got %q", want, got)
	}
	return nil
}

func (testCtx *TestContext) theReadingIsAnnounced() error {
	if err := testCtx.requireReading(); err != nil {
		return err
	}
	testCtx.Spoken = messages.New(testCtx.Language).Reading(testCtx.LastReading, testCtx.Classification)
	return nil
}

func (testCtx *TestContext) theFailureIsAnnounced(attempt int) error {
	testCtx.Spoken = messages.New(testCtx.Language).FailureTip(attempt)
	return nil
}

func (testCtx *TestContext) theAnnouncementShouldContain(want string) error {
	if !strings.Contains(testCtx.Spoken, want) {
		return fmt.Errorf("expected announcement to contain %q, got %q", want, testCtx.Spoken)
	}
	return nil
}

func (testCtx *TestContext) theAnnouncementShouldNotContain(unwanted string) error {
	if strings.Contains(testCtx.Spoken, unwanted) {
		return fmt.Errorf("expected announcement not to contain %q, got %q", unwanted, testCtx.Spoken)
	}
	return nil
}

// RegisterReadingSteps registers extraction, aggregation and announcement steps.
func (testCtx *TestContext) RegisterReadingSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the language is "([^"]*)"$`, testCtx.theLanguageIs)

	// Extraction
	sc.Step(`^the display shows "([^"]*)"$`, testCtx.theDisplayShows)
	sc.Step(`^a reading of (\d+)/(\d+)$`, testCtx.aReadingOf)
	sc.Step(`^a reading of (\d+)/(\d+) with pulse (\d+)$`, testCtx.aReadingWithPulse)
	sc.Step(`^the systolic pressure should be (\d+)$`, testCtx.theSystolicPressureShouldBe)
	sc.Step(`^the diastolic pressure should be (\d+)$`, testCtx.theDiastolicPressureShouldBe)
	sc.Step(`^the pulse should be (\d+)$`, testCtx.thePulseShouldBe)
	sc.Step(`^no pulse should be reported$`, testCtx.noPulseShouldBeReported)
	sc.Step(`^no reading should be found$`, testCtx.noReadingShouldBeFound)

	// Aggregation
	sc.Step(`^the samples:$`, testCtx.theSamples)
	sc.Step(`^the samples are aggregated with tolerance (\d+)$`, testCtx.theSamplesAreAggregatedWithTolerance)
	sc.Step(`^(\d+) of (\d+) samples should agree$`, testCtx.samplesShouldAgree)

	// Classification and speech
	sc.Step(`^the category should be "([^"]*)"$`, testCtx.theCategoryShouldBe)
	sc.Step(`^the reading is announced$`, testCtx.theReadingIsAnnounced)
	sc.Step(`^failed attempt (\d+) is announced$`, testCtx.theFailureIsAnnounced)
	sc.Step(`^the announcement should contain "([^"]*)"$`, testCtx.theAnnouncementShouldContain)
	sc.Step(`^the announcement should not contain "([^"]*)"$`, testCtx.theAnnouncementShouldNotContain)
}
