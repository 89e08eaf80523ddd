package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/MeKo-Tech/bpvoice/internal/common"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/ocr"
	"github.com/MeKo-Tech/bpvoice/internal/preprocess"
)

// ParallelConfig holds configuration for concurrent sample processing.
type ParallelConfig struct {
	MaxWorkers int // Number of samples in flight (0 or 1 = sequential)
}

// DefaultParallelConfig processes one sample at a time.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{MaxWorkers: 1}
}

// sampleJob is one frame paired with one preprocessing strategy.
type sampleJob struct {
	index    int
	frame    int
	image    image.Image
	strategy preprocess.Strategy
}

type sampleOutcome struct {
	index  int
	result SampleResult
}

// runSamples processes jobs and returns their results in job order. Jobs that
// never ran because ctx ended carry ctx.Err().
func (r *Reader) runSamples(ctx context.Context, jobs []sampleJob, progress ProgressCallback) []SampleResult {
	workers := r.cfg.Parallel.MaxWorkers
	if workers <= 1 || len(jobs) == 1 {
		out := make([]SampleResult, len(jobs))
		for i, job := range jobs {
			if err := ctx.Err(); err != nil {
				out[i] = skipped(job, err)
				continue
			}
			out[i] = r.processSample(ctx, job, progress)
			report(progress, i+1, len(jobs), out[i])
		}
		return out
	}
	workers = min(workers, len(jobs))

	jobCh := make(chan sampleJob, len(jobs))
	results := make(chan sampleOutcome, len(jobs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go r.worker(ctx, jobCh, results, &wg, progress)
	}

	go func() {
		defer close(jobCh)
		for _, job := range jobs {
			select {
			case jobCh <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make(map[int]SampleResult, len(jobs))
	for res := range results {
		done[res.index] = res.result
		report(progress, len(done), len(jobs), res.result)
	}

	ordered := make([]SampleResult, len(jobs))
	for i, job := range jobs {
		if res, ok := done[i]; ok {
			ordered[i] = res
		} else {
			ordered[i] = skipped(job, ctx.Err())
		}
	}
	return ordered
}

// worker processes jobs until the channel closes or ctx ends.
func (r *Reader) worker(
	ctx context.Context,
	jobs <-chan sampleJob,
	results chan<- sampleOutcome,
	wg *sync.WaitGroup,
	progress ProgressCallback,
) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			res := r.processSample(ctx, job, progress)
			select {
			case results <- sampleOutcome{index: job.index, result: res}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// processSample runs one frame through one strategy, recognition and extraction.
func (r *Reader) processSample(ctx context.Context, job sampleJob, progress ProgressCallback) (res SampleResult) {
	total := common.NewTimer()
	res = SampleResult{Frame: job.frame, Strategy: job.strategy}
	defer func() {
		res.Processing.TotalNs = total.Stop().Nanoseconds()
	}()

	t := common.NewTimer()
	img, err := r.pre.Process(job.image, job.strategy)
	var data []byte
	if err == nil {
		data, err = img.PNG()
	}
	res.Processing.PreprocessNs = t.Stop().Nanoseconds()
	if err != nil {
		res.setError(err)
		sampleOutcomes.WithLabelValues(string(job.strategy), outcomeError).Inc()
		return res
	}

	in := ocr.Input{
		ID:          fmt.Sprintf("frame-%d-%s", job.frame, job.strategy),
		Image:       data,
		Languages:   r.cfg.Languages,
		Whitelist:   r.cfg.Whitelist,
		PageSegMode: r.cfg.PageSegMode,
	}
	if rp, ok := progress.(RecognitionProgress); ok {
		in.Progress = func(p float64) { rp.OnRecognition(job.index, p) }
	}

	t = common.NewTimer()
	out, err := ocr.Recognize(ctx, r.engine, in)
	res.Processing.RecognitionNs = t.StopInto(ocrDuration.WithLabelValues(r.engine.Name())).Nanoseconds()
	if err != nil {
		res.setError(err)
		sampleOutcomes.WithLabelValues(string(job.strategy), outcomeRecognitionError).Inc()
		r.logger.Debug("Recognition failed", "input", in.ID, "error", err)
		return res
	}
	res.Text = out.Text
	res.Confidence = out.Confidence

	t = common.NewTimer()
	reading, err := r.extractor.Extract(out.Text)
	res.Processing.ExtractionNs = t.Stop().Nanoseconds()
	if err != nil {
		res.setError(err)
		sampleOutcomes.WithLabelValues(string(job.strategy), outcomeNoReading).Inc()
		r.logger.Debug("No reading in sample", "input", in.ID, "text", out.Text, "error", err)
		return res
	}
	res.Reading = &reading
	sampleOutcomes.WithLabelValues(string(job.strategy), outcomeOK).Inc()
	r.logger.Debug("Extracted reading", "input", in.ID, "strategy", job.strategy, "reading", reading.String())
	return res
}

func skipped(job sampleJob, err error) SampleResult {
	res := SampleResult{Frame: job.frame, Strategy: job.strategy}
	if err == nil {
		err = errors.New("sample not processed")
	}
	res.setError(err)
	return res
}

func report(progress ProgressCallback, current, total int, res SampleResult) {
	if res.Err != nil && !errors.Is(res.Err, extract.ErrNoPlausibleReading) {
		progress.OnError(current, res.Err)
	}
	progress.OnProgress(current, total)
}
