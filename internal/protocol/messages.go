package protocol

import (
	"time"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
)

// RunStarted is emitted once discovery has produced the units of a run.
type RunStarted struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Provider   string    `json:"provider"`
	Models     []string  `json:"models"`
	SamplesDir string    `json:"samples_dir"`
	OutputDir  string    `json:"output_dir"`
	Units      int       `json:"units"`
}

// SampleScored carries the score of one (sample, model) unit.
type SampleScored struct {
	RunID      string             `json:"run_id"`
	Record     score.Record       `json:"record"`
	Confidence float64            `json:"confidence"`
	Cached     bool               `json:"cached"`
	Stages     map[string]float64 `json:"stage_seconds,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// SampleFailed reports a unit excluded from aggregation.
type SampleFailed struct {
	RunID     string    `json:"run_id"`
	SampleID  string    `json:"sample_id"`
	Model     string    `json:"model"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// RunCompleted closes a run with per-model aggregates.
type RunCompleted struct {
	RunID      string          `json:"run_id"`
	FinishedAt time.Time       `json:"finished_at"`
	Scored     int             `json:"scored"`
	Failed     int             `json:"failed"`
	Summaries  []score.Summary `json:"summaries"`
}

const (
	SubjectRunStarted   = "run.started"
	SubjectSampleScored = "sample.scored"
	SubjectSampleFailed = "sample.failed"
	SubjectRunCompleted = "run.completed"
)

// Subject joins a configured prefix and an event subject.
func Subject(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
