package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one row of run history.
type Run struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Provider   string     `json:"provider"`
	Models     []string   `json:"models"`
	SamplesDir string     `json:"samples_dir"`
	OutputDir  string     `json:"output_dir"`
	Units      int        `json:"units"`
	Scored     int        `json:"scored"`
	Failed     int        `json:"failed"`
	Status     string     `json:"status"`
}

// Result is a stored unit score.
type Result struct {
	score.Record
	Confidence float64   `json:"confidence"`
	Cached     bool      `json:"cached"`
	CreatedAt  time.Time `json:"created_at"`
}

// Failure is a stored unit failure.
type Failure struct {
	SampleID  string    `json:"sample_id"`
	Model     string    `json:"model"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// RunDetail is a run with its results and failures.
type RunDetail struct {
	Run
	Results  []Result  `json:"results"`
	Failures []Failure `json:"failures"`
}

const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// Store keeps run history in SQLite.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. Ephemeral mode returns a
// store that records nothing.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    provider TEXT,
    models TEXT,
    samples_dir TEXT,
    output_dir TEXT,
    units INTEGER NOT NULL DEFAULT 0,
    scored INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    sample_id TEXT NOT NULL,
    model TEXT NOT NULL,
    correct INTEGER NOT NULL,
    substitutions INTEGER NOT NULL,
    insertions INTEGER NOT NULL,
    deletions INTEGER NOT NULL,
    reference_length INTEGER NOT NULL,
    wer REAL,
    char_errors INTEGER NOT NULL,
    char_length INTEGER NOT NULL,
    cer REAL,
    confidence REAL,
    cached INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS failures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    sample_id TEXT NOT NULL,
    model TEXT NOT NULL,
    stage TEXT NOT NULL,
    reason TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id, sample_id, model);
CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	ts, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func nullRate(r score.Rate) sql.NullFloat64 {
	return sql.NullFloat64{Float64: r.Value, Valid: r.Defined}
}

func (s *Store) RunStarted(ctx context.Context, evt protocol.RunStarted) error {
	if s.disabled() {
		return nil
	}
	started := evt.StartedAt
	if started.IsZero() {
		started = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started_at, provider, models, samples_dir, output_dir, units, status)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET units=excluded.units, status=excluded.status`,
		evt.RunID, formatTime(started), evt.Provider, strings.Join(evt.Models, ","),
		evt.SamplesDir, evt.OutputDir, evt.Units, StatusRunning)
	return err
}

func (s *Store) SampleScored(ctx context.Context, evt protocol.SampleScored) error {
	if s.disabled() {
		return nil
	}
	r := evt.Record
	cached := 0
	if evt.Cached {
		cached = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results(run_id, sample_id, model, correct, substitutions, insertions, deletions,
		 reference_length, wer, char_errors, char_length, cer, confidence, cached, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.RunID, r.SampleID, r.Model, r.Correct, r.Substitutions, r.Insertions, r.Deletions,
		r.ReferenceLength, nullRate(r.WER), r.CharErrors, r.CharLength, nullRate(r.CER),
		evt.Confidence, cached, formatTime(s.eventTime(evt.Timestamp)))
	return err
}

func (s *Store) SampleFailed(ctx context.Context, evt protocol.SampleFailed) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures(run_id, sample_id, model, stage, reason, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.SampleID, evt.Model, evt.Stage, evt.Reason, formatTime(s.eventTime(evt.Timestamp)))
	return err
}

func (s *Store) RunCompleted(ctx context.Context, evt protocol.RunCompleted) error {
	if s.disabled() {
		return nil
	}
	status := StatusComplete
	if evt.Failed > 0 {
		status = StatusPartial
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, scored = ?, failed = ?, status = ? WHERE run_id = ?`,
		formatTime(s.eventTime(evt.FinishedAt)), evt.Scored, evt.Failed, status, evt.RunID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, evt.RunID)
	}
	return nil
}

func (s *Store) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return s.clock()
	}
	return t
}

const runColumns = `run_id, started_at, finished_at, provider, models, samples_dir, output_dir, units, scored, failed, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
		models   string
	)
	if err := row.Scan(&r.ID, &started, &finished, &r.Provider, &models, &r.SamplesDir, &r.OutputDir,
		&r.Units, &r.Scored, &r.Failed, &r.Status); err != nil {
		return Run{}, err
	}
	r.StartedAt = parseTime(started)
	if finished.Valid {
		ts := parseTime(finished.String)
		r.FinishedAt = &ts
	}
	if models != "" {
		r.Models = strings.Split(models, ",")
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun loads one run with its results and failures.
func (s *Store) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	if s.disabled() {
		return RunDetail{}, ErrNotFound
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return RunDetail{}, ErrNotFound
	}
	if err != nil {
		return RunDetail{}, err
	}
	detail := RunDetail{Run: run, Results: []Result{}, Failures: []Failure{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sample_id, model, correct, substitutions, insertions, deletions, reference_length,
		 wer, char_errors, char_length, cer, confidence, cached, created_at
		 FROM results WHERE run_id = ? ORDER BY sample_id, model`, runID)
	if err != nil {
		return RunDetail{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			res      Result
			wer, cer sql.NullFloat64
			conf     sql.NullFloat64
			cached   int
			created  string
		)
		if err := rows.Scan(&res.SampleID, &res.Model, &res.Correct, &res.Substitutions, &res.Insertions,
			&res.Deletions, &res.ReferenceLength, &wer, &res.CharErrors, &res.CharLength, &cer,
			&conf, &cached, &created); err != nil {
			return RunDetail{}, err
		}
		res.WER = score.Rate{Value: wer.Float64, Defined: wer.Valid}
		res.CER = score.Rate{Value: cer.Float64, Defined: cer.Valid}
		res.Confidence = conf.Float64
		res.Cached = cached != 0
		res.CreatedAt = parseTime(created)
		detail.Results = append(detail.Results, res)
	}
	if err := rows.Err(); err != nil {
		return RunDetail{}, err
	}

	frows, err := s.db.QueryContext(ctx,
		`SELECT sample_id, model, stage, reason, created_at FROM failures WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return RunDetail{}, err
	}
	defer frows.Close()
	for frows.Next() {
		var (
			f       Failure
			created string
		)
		if err := frows.Scan(&f.SampleID, &f.Model, &f.Stage, &f.Reason, &created); err != nil {
			return RunDetail{}, err
		}
		f.CreatedAt = parseTime(created)
		detail.Failures = append(detail.Failures, f)
	}
	return detail, frows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, formatTime(cutoff)); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
