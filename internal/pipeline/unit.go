package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/align"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/audio"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/normalize"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/report"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
)

// runUnit processes one (sample, model) pair. It never returns an error:
// failures are recorded on the result so the rest of the batch continues.
func (r *Runner) runUnit(ctx context.Context, runID string, layout report.Layout, u unit) unitResult {
	ctx, span := r.tracer.Start(ctx, "unit", trace.WithAttributes(
		attribute.String("sample", u.sample.ID),
		attribute.String("model", u.model),
	))
	defer span.End()

	r.metrics.inflight.Add(1)
	defer r.metrics.inflight.Add(-1)

	var out unitResult
	fail := func(st Stage, err error) unitResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res := r.fail(ctx, runID, &out, u, st, err)
		r.metrics.unitDone(ctx, u.model, res.failure)
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(StageInput, err)
	}

	var (
		refText   string
		audioInfo audio.Info
	)
	err := r.stage(ctx, &out, u.model, StageInput, func(context.Context) (string, error) {
		if !r.transcribeOnly {
			text, err := readReference(u.sample)
			if err != nil {
				return "", err
			}
			refText = text
		}
		if r.cfg.ReuseTranscripts {
			return "", nil
		}
		if u.sample.AudioPath == "" {
			return "", &InputError{SampleID: u.sample.ID, Err: ErrNoAudio}
		}
		info, err := audio.Probe(u.sample.AudioPath)
		if err != nil {
			return "", &InputError{SampleID: u.sample.ID, Path: u.sample.AudioPath, Err: err}
		}
		audioInfo = info
		return fmt.Sprintf("%s %d bytes", info.Format, info.Size), nil
	})
	if err != nil {
		return fail(StageInput, err)
	}

	var tr stt.Transcript
	err = r.stage(ctx, &out, u.model, StageTranscribe, func(ctx context.Context) (string, error) {
		if r.cfg.ReuseTranscripts {
			cached, err := loadCached(layout, u)
			if err != nil {
				return "", err
			}
			tr = cached
			out.cached = true
			return "cached", nil
		}
		data, err := os.ReadFile(u.sample.AudioPath)
		if err != nil {
			return "", &InputError{SampleID: u.sample.ID, Path: u.sample.AudioPath, Err: err}
		}
		start := r.clock()
		res, err := r.transcriber.Transcribe(ctx, stt.Request{
			Name:        u.sample.ID,
			Path:        u.sample.AudioPath,
			Audio:       data,
			ContentType: stt.ContentTypeFor(u.sample.AudioPath),
			Model:       u.model,
		})
		if err != nil {
			return "", err
		}
		elapsed := r.clock().Sub(start)
		if err := layout.WriteTranscript(u.sample.ID, u.model, res); err != nil {
			return "", err
		}
		tr = res
		if rtf := audioInfo.RealTimeFactor(elapsed); rtf > 0 {
			return fmt.Sprintf("rtf=%.3f", rtf), nil
		}
		return "", nil
	})
	if err != nil {
		return fail(StageTranscribe, err)
	}
	out.confidence = tr.Confidence

	if r.transcribeOnly {
		r.metrics.unitDone(ctx, u.model, nil)
		return out
	}

	var hypNorm, refNorm normalize.Text
	_ = r.stage(ctx, &out, u.model, StageNormalize, func(context.Context) (string, error) {
		hypNorm = r.normalizer.Hypothesis(tr.Text)
		if !u.sample.PreTokenized {
			refNorm = r.normalizer.Reference(refText)
		}
		return "", nil
	})

	var hypTokens, refTokens []string
	err = r.stage(ctx, &out, u.model, StageTokenize, func(ctx context.Context) (string, error) {
		var err error
		if hypTokens, err = r.tokenizer.Tokenize(ctx, hypNorm.String()); err != nil {
			return "", err
		}
		if u.sample.PreTokenized {
			refTokens = strings.Fields(refText)
		} else if refTokens, err = r.tokenizer.Tokenize(ctx, refNorm.String()); err != nil {
			return "", err
		}
		return fmt.Sprintf("hyp=%d ref=%d", len(hypTokens), len(refTokens)), nil
	})
	if err != nil {
		return fail(StageTokenize, err)
	}
	if refTokens == nil {
		refTokens = []string{}
	}

	var alignment align.Alignment
	_ = r.stage(ctx, &out, u.model, StageAlign, func(context.Context) (string, error) {
		alignment = align.Align(hypTokens, refTokens)
		return fmt.Sprintf("ops=%d", len(alignment)), nil
	})

	var rec score.Record
	err = r.stage(ctx, &out, u.model, StageScore, func(context.Context) (string, error) {
		var err error
		rec, err = score.Score(u.sample.ID, u.model, alignment, hypTokens, refTokens)
		if err != nil {
			return "", err
		}
		return "wer=" + rec.WER.String(), nil
	})
	if err != nil {
		return fail(StageScore, err)
	}

	err = r.stage(ctx, &out, u.model, StageWrite, func(context.Context) (string, error) {
		return "", errors.Join(
			report.WriteTokens(layout.HypothesisTokens(u.sample.ID, u.model), hypTokens),
			report.WriteAlignment(layout.Alignment(u.sample.ID, u.model), alignment),
			report.WriteEval(layout.Eval(u.sample.ID, u.model), report.EvalInput{
				Record:           rec,
				ReferencePath:    u.sample.ReferencePath,
				HypothesisPath:   layout.TranscriptText(u.sample.ID, u.model),
				ReferenceTokens:  refTokens,
				HypothesisTokens: hypTokens,
			}),
		)
	})
	if err != nil {
		return fail(StageWrite, err)
	}

	out.record = &rec
	out.refTokens = refTokens
	r.metrics.unitDone(ctx, u.model, nil)
	r.notify("sample scored", func(o Observer) error {
		return o.SampleScored(ctx, protocol.SampleScored{
			RunID:      runID,
			Record:     rec,
			Confidence: out.confidence,
			Cached:     out.cached,
			Stages:     stageSeconds(out.times),
			Timestamp:  r.clock(),
		})
	})
	r.logger.Debug("unit scored",
		slog.String("sample", u.sample.ID),
		slog.String("model", u.model),
		slog.String("wer", rec.WER.String()),
		slog.String("cer", rec.CER.String()))
	return out
}

func readReference(s Sample) (string, error) {
	if s.ReferencePath == "" {
		return "", &InputError{SampleID: s.ID, Err: ErrNoReference}
	}
	data, err := os.ReadFile(s.ReferencePath)
	if err != nil {
		return "", &InputError{SampleID: s.ID, Path: s.ReferencePath, Err: err}
	}
	if !utf8.Valid(data) {
		return "", &InputError{SampleID: s.ID, Path: s.ReferencePath, Err: errors.New("reference is not valid UTF-8")}
	}
	return strings.TrimPrefix(string(data), "\ufeff"), nil
}

// loadCached reads a transcript written by an earlier run, preferring the
// plain text file and falling back to the stored Watson response.
func loadCached(layout report.Layout, u unit) (stt.Transcript, error) {
	text, err := os.ReadFile(layout.TranscriptText(u.sample.ID, u.model))
	if err == nil {
		return stt.Transcript{Text: string(text)}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return stt.Transcript{}, &InputError{SampleID: u.sample.ID, Path: layout.TranscriptText(u.sample.ID, u.model), Err: err}
	}
	raw, err := os.ReadFile(layout.TranscriptJSON(u.sample.ID, u.model))
	if errors.Is(err, fs.ErrNotExist) {
		return stt.Transcript{}, &InputError{SampleID: u.sample.ID, Path: layout.TranscriptText(u.sample.ID, u.model), Err: ErrNoCache}
	}
	if err != nil {
		return stt.Transcript{}, &InputError{SampleID: u.sample.ID, Path: layout.TranscriptJSON(u.sample.ID, u.model), Err: err}
	}
	tr, err := stt.ParseWatson(raw)
	if err != nil {
		return stt.Transcript{}, &InputError{SampleID: u.sample.ID, Path: layout.TranscriptJSON(u.sample.ID, u.model), Err: err}
	}
	return tr, nil
}

func stageSeconds(entries []report.TimeEntry) map[string]float64 {
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.Stage] += e.Seconds
	}
	return out
}
