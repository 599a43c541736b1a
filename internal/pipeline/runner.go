// Package pipeline runs the comparison: for every sample and model it
// obtains a transcript, normalizes and tokenizes both texts, aligns, scores
// and writes the artifacts of the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/normalize"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/report"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/tokenize"
)

// Observer receives run events. Sample events arrive from concurrent units,
// so implementations must be safe for concurrent use.
type Observer interface {
	RunStarted(ctx context.Context, evt protocol.RunStarted) error
	SampleScored(ctx context.Context, evt protocol.SampleScored) error
	SampleFailed(ctx context.Context, evt protocol.SampleFailed) error
	RunCompleted(ctx context.Context, evt protocol.RunCompleted) error
}

// Result is the outcome of a run.
type Result struct {
	RunID      string          `json:"run_id"`
	Dir        string          `json:"dir"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Units      int             `json:"units"`
	Summaries  []score.Summary `json:"summaries"`
	Failures   []Failure       `json:"failures"`
}

// Failed reports whether any unit failed.
func (r *Result) Failed() bool {
	return r != nil && len(r.Failures) > 0
}

type Runner struct {
	cfg            config.Config
	transcriber    stt.Transcriber
	tokenizer      tokenize.Tokenizer
	normalizer     *normalize.Normalizer
	observers      []Observer
	transcribeOnly bool
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *metrics
	clock          func() time.Time
	newID          func() string
}

type Option func(*Runner)

// WithObservers registers run event observers.
func WithObservers(obs ...Observer) Option {
	return func(r *Runner) {
		for _, o := range obs {
			if o != nil {
				r.observers = append(r.observers, o)
			}
		}
	}
}

// WithTranscribeOnly stops every unit after the transcript is written.
func WithTranscribeOnly() Option {
	return func(r *Runner) { r.transcribeOnly = true }
}

func WithClock(clock func() time.Time) Option {
	return func(r *Runner) { r.clock = clock }
}

// New builds a runner. transcriber may be nil when cfg.ReuseTranscripts is
// set.
func New(cfg config.Config, transcriber stt.Transcriber, tokenizer tokenize.Tokenizer, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:         cfg,
		transcriber: transcriber,
		tokenizer:   tokenizer,
		normalizer: normalize.New(normalize.Rules{
			NFKC:                  cfg.Normalize.NFKC,
			WidthFold:             cfg.Normalize.WidthFold,
			StripControl:          cfg.Normalize.StripControl,
			StripPunctuation:      cfg.Normalize.StripPunctuation,
			FoldCase:              cfg.Normalize.FoldCase,
			StripHypothesisSpaces: cfg.Normalize.StripHypothesisSpaces,
		}),
		logger:  logger.With(slog.String("component", "pipeline")),
		tracer:  otel.Tracer(instrumentation),
		metrics: newMetrics(otel.Meter(instrumentation)),
		clock:   time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunDir is the directory a run writes to. Cached transcripts are read from
// OutputDir itself, so reuse never creates a timestamped directory.
func RunDir(cfg config.Config, now time.Time) string {
	if cfg.ReuseTranscripts || !cfg.TimestampDir {
		return cfg.OutputDir
	}
	return filepath.Join(cfg.OutputDir, now.Format("20060102_150405"))
}

type unit struct {
	sample Sample
	model  string
}

type unitResult struct {
	record     *score.Record
	failure    *Failure
	refTokens  []string
	times      []report.TimeEntry
	confidence float64
	cached     bool
}

// Run processes every (sample, model) unit. Unit failures are collected in
// the result; the returned error is reserved for batch-level problems.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.transcriber == nil && !r.cfg.ReuseTranscripts {
		return nil, errors.New("no transcriber configured")
	}
	if r.tokenizer == nil && !r.transcribeOnly {
		return nil, errors.New("no tokenizer configured")
	}

	samples, err := Discover(r.cfg.SamplesDir, r.cfg.File)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSamples, r.cfg.SamplesDir)
	}

	started := r.clock()
	res := &Result{RunID: r.newID(), Dir: RunDir(r.cfg, started), StartedAt: started}
	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	layout := report.Layout{Dir: res.Dir}

	units := make([]unit, 0, len(samples)*len(r.cfg.Models))
	for _, s := range samples {
		for _, m := range r.cfg.Models {
			units = append(units, unit{sample: s, model: m})
		}
	}
	res.Units = len(units)

	ctx, span := r.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.Int("units", len(units)),
	))
	defer span.End()
	defer r.metrics.trackInflight()()

	r.logger.Info("run started",
		slog.String("run_id", res.RunID),
		slog.String("dir", res.Dir),
		slog.Int("samples", len(samples)),
		slog.Int("units", len(units)))
	r.notify("run started", func(o Observer) error {
		return o.RunStarted(ctx, protocol.RunStarted{
			RunID:      res.RunID,
			StartedAt:  started,
			Provider:   r.providerName(),
			Models:     r.cfg.Models,
			SamplesDir: r.cfg.SamplesDir,
			OutputDir:  res.Dir,
			Units:      len(units),
		})
	})

	results := make([]unitResult, len(units))
	var g errgroup.Group
	g.SetLimit(max(1, r.cfg.Concurrency))
	for i, u := range units {
		g.Go(func() error {
			results[i] = r.runUnit(ctx, res.RunID, layout, u)
			return nil
		})
	}
	_ = g.Wait()

	// Reporting continues after cancellation so completed units are kept.
	final := context.WithoutCancel(ctx)
	if err := r.collect(res, layout, units, results); err != nil {
		return res, err
	}
	res.FinishedAt = r.clock()

	scored := 0
	for _, s := range res.Summaries {
		scored += s.Samples
	}
	r.notify("run completed", func(o Observer) error {
		return o.RunCompleted(final, protocol.RunCompleted{
			RunID:      res.RunID,
			FinishedAt: res.FinishedAt,
			Scored:     scored,
			Failed:     len(res.Failures),
			Summaries:  res.Summaries,
		})
	})

	r.logger.Info("run finished",
		slog.String("run_id", res.RunID),
		slog.Int("scored", scored),
		slog.Int("failed", len(res.Failures)),
		slog.Duration("elapsed", res.FinishedAt.Sub(started)))
	for _, s := range res.Summaries {
		r.logger.Info("model summary",
			slog.String("model", s.Model),
			slog.Int("samples", s.Samples),
			slog.String("wer", s.WER.String()),
			slog.String("cer", s.CER.String()))
	}

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run interrupted: %w", err)
	}
	return res, nil
}

// collect aggregates unit results in a single pass and writes the batch
// files.
func (r *Runner) collect(res *Result, layout report.Layout, units []unit, results []unitResult) error {
	byModel := make(map[string][]score.Record, len(r.cfg.Models))
	var (
		sampleOrder []string
		times       = make(map[string][]report.TimeEntry)
		refTokens   = make(map[string][]string)
	)
	for i, u := range units {
		out := results[i]
		id := u.sample.ID
		if _, ok := times[id]; !ok {
			sampleOrder = append(sampleOrder, id)
			times[id] = nil
		}
		times[id] = append(times[id], out.times...)
		if out.refTokens != nil {
			if _, ok := refTokens[id]; !ok {
				refTokens[id] = out.refTokens
			}
		}
		if out.failure != nil {
			res.Failures = append(res.Failures, *out.failure)
			continue
		}
		if out.record != nil {
			byModel[u.model] = append(byModel[u.model], *out.record)
		}
	}

	var errs []error
	for _, id := range sampleOrder {
		if err := layout.WriteTimes(id, times[id]); err != nil {
			errs = append(errs, err)
		}
		if tokens, ok := refTokens[id]; ok {
			if err := report.WriteTokens(layout.ReferenceTokens(id), tokens); err != nil {
				errs = append(errs, err)
			}
		}
	}

	failures := make([]report.Failure, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, report.Failure{SampleID: f.SampleID, Model: f.Model, Stage: string(f.Stage), Reason: f.Reason})
	}
	if err := layout.WriteErrorsCSV(failures); err != nil {
		errs = append(errs, err)
	}

	if !r.transcribeOnly {
		res.Summaries = make([]score.Summary, 0, len(r.cfg.Models))
		for _, m := range r.cfg.Models {
			records := byModel[m]
			sort.Slice(records, func(i, j int) bool { return records[i].SampleID < records[j].SampleID })
			res.Summaries = append(res.Summaries, score.Aggregate(m, records))
		}
		if err := layout.WriteSummaryCSV(res.Summaries); err != nil {
			errs = append(errs, err)
		}
	}

	if err := layout.WriteSummaryJSON(report.Summary{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: r.clock(),
		Provider:   r.providerName(),
		SamplesDir: r.cfg.SamplesDir,
		OutputDir:  res.Dir,
		Models:     res.Summaries,
		Failures:   failures,
	}); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("write reports: %w", err)
	}
	return nil
}

func (r *Runner) providerName() string {
	if r.cfg.ReuseTranscripts {
		return "cache"
	}
	return r.cfg.Provider.Kind
}

func (r *Runner) notify(what string, fn func(Observer) error) {
	for _, o := range r.observers {
		if err := fn(o); err != nil {
			r.logger.Warn("observer failed", slog.String("event", what), slog.String("error", err.Error()))
		}
	}
}

// stage runs fn as one timed stage of a unit.
func (r *Runner) stage(ctx context.Context, out *unitResult, model string, st Stage, fn func(context.Context) (string, error)) error {
	ctx, span := r.tracer.Start(ctx, string(st))
	defer span.End()

	start := time.Now()
	note, err := fn(ctx)
	elapsed := time.Since(start)
	r.metrics.observeStage(ctx, model, st, elapsed)

	entry := report.TimeEntry{Model: model, Stage: string(st), Status: "OK", Seconds: elapsed.Seconds(), Note: note}
	if err != nil {
		entry.Status = "ERROR"
		entry.Note = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	out.times = append(out.times, entry)
	return err
}

func (r *Runner) fail(ctx context.Context, runID string, out *unitResult, u unit, running Stage, err error) unitResult {
	st := stageFor(err, running)
	out.failure = &Failure{SampleID: u.sample.ID, Model: u.model, Stage: st, Reason: err.Error()}

	attrs := []any{
		slog.String("sample", u.sample.ID),
		slog.String("model", u.model),
		slog.String("stage", string(st)),
		slog.String("error", err.Error()),
	}
	var scoreErr *score.ScoringError
	if errors.As(err, &scoreErr) {
		r.logger.Error("scoring invariant violated, unit aborted", attrs...)
	} else {
		r.logger.Warn("unit failed", attrs...)
	}

	ctx = context.WithoutCancel(ctx)
	r.notify("sample failed", func(o Observer) error {
		return o.SampleFailed(ctx, protocol.SampleFailed{
			RunID:     runID,
			SampleID:  u.sample.ID,
			Model:     u.model,
			Stage:     string(st),
			Reason:    err.Error(),
			Timestamp: r.clock(),
		})
	})
	return *out
}
