package eventstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "runs.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.RunStarted(ctx, protocol.RunStarted{RunID: "r"}); err != nil {
		t.Fatalf("ephemeral store should accept events: %v", err)
	}
	runs, err := es.ListRuns(ctx, 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected no runs, got %v (%v)", runs, err)
	}
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})

	started := time.Date(2025, 11, 8, 14, 25, 30, 0, time.UTC)
	if err := es.RunStarted(ctx, protocol.RunStarted{
		RunID: "run-1", StartedAt: started, Provider: "watson",
		Models: []string{"ja-JP_BroadbandModel", "ja-JP"}, Units: 2,
	}); err != nil {
		t.Fatalf("run started: %v", err)
	}
	rec := score.Record{SampleID: "s1", Model: "ja-JP", Correct: 9, Substitutions: 1, ReferenceLength: 10,
		WER: score.Rate{Value: 0.1, Defined: true}}
	if err := es.SampleScored(ctx, protocol.SampleScored{RunID: "run-1", Record: rec, Confidence: 0.8}); err != nil {
		t.Fatalf("sample scored: %v", err)
	}
	empty := score.Record{SampleID: "s3", Model: "ja-JP", Insertions: 1}
	if err := es.SampleScored(ctx, protocol.SampleScored{RunID: "run-1", Record: empty, Cached: true}); err != nil {
		t.Fatalf("sample scored: %v", err)
	}
	if err := es.SampleFailed(ctx, protocol.SampleFailed{RunID: "run-1", SampleID: "s2", Model: "ja-JP", Stage: "tokenize", Reason: "boom"}); err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if err := es.RunCompleted(ctx, protocol.RunCompleted{RunID: "run-1", FinishedAt: started.Add(time.Minute), Scored: 2, Failed: 1}); err != nil {
		t.Fatalf("run completed: %v", err)
	}

	detail, err := es.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if detail.Status != StatusPartial || detail.Scored != 2 || detail.Failed != 1 {
		t.Fatalf("unexpected run %+v", detail.Run)
	}
	if !detail.StartedAt.Equal(started) || detail.FinishedAt == nil {
		t.Fatalf("unexpected timestamps %v %v", detail.StartedAt, detail.FinishedAt)
	}
	if len(detail.Models) != 2 {
		t.Fatalf("models = %v", detail.Models)
	}
	if len(detail.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(detail.Results))
	}
	if r := detail.Results[0]; r.SampleID != "s1" || !r.WER.Defined || r.WER.Value != 0.1 {
		t.Fatalf("unexpected first result %+v", r)
	}
	if r := detail.Results[1]; r.WER.Defined || !r.Cached {
		t.Fatalf("expected undefined WER for empty reference, got %+v", r)
	}
	if len(detail.Failures) != 1 || detail.Failures[0].Reason != "boom" {
		t.Fatalf("unexpected failures %+v", detail.Failures)
	}
}

func TestGetRunNotFound(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	if _, err := es.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	err := es.RunCompleted(context.Background(), protocol.RunCompleted{RunID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound completing unknown run, got %v", err)
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.RunStarted(ctx, protocol.RunStarted{RunID: "old-run"}); err != nil {
		t.Fatalf("run started: %v", err)
	}
	if err := es.SampleFailed(ctx, protocol.SampleFailed{RunID: "old-run", SampleID: "s", Model: "m", Stage: "input", Reason: "x"}); err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.RunStarted(ctx, protocol.RunStarted{RunID: "new-run-a"}); err != nil {
		t.Fatalf("run started: %v", err)
	}
	es.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	if err := es.RunStarted(ctx, protocol.RunStarted{RunID: "new-run-b"}); err != nil {
		t.Fatalf("run started: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	runs, err := es.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "new-run-b" {
		t.Fatalf("expected only newest run kept, got %+v", runs)
	}
	if _, err := es.GetRun(ctx, "old-run"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old run pruned, got %v", err)
	}
}
