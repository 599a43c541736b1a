package pipeline

import (
	"errors"
	"fmt"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/tokenize"
)

// Stage names a step of a unit of work.
type Stage string

const (
	StageInput      Stage = "input"
	StageTranscribe Stage = "transcribe"
	StageNormalize  Stage = "normalize"
	StageTokenize   Stage = "tokenize"
	StageAlign      Stage = "align"
	StageScore      Stage = "score"
	StageWrite      Stage = "write"
)

// InputError reports a missing or malformed sample file. It is raised
// before any transcription request is made.
type InputError struct {
	SampleID string
	Path     string
	Err      error
}

func (e *InputError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("sample %s: %v", e.SampleID, e.Err)
	}
	return fmt.Sprintf("sample %s: %s: %v", e.SampleID, e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

var (
	ErrNoReference = errors.New("reference file missing")
	ErrNoAudio     = errors.New("audio file missing")
	ErrNoCache     = errors.New("no cached transcript")
	ErrNoSamples   = errors.New("no samples found")
)

// Failure records a unit excluded from aggregation.
type Failure struct {
	SampleID string `json:"sample_id"`
	Model    string `json:"model"`
	Stage    Stage  `json:"stage"`
	Reason   string `json:"reason"`
}

// stageFor attributes an error to the stage its type belongs to, falling
// back to the stage that was running.
func stageFor(err error, running Stage) Stage {
	var (
		inputErr *InputError
		sttErr   *stt.TranscriptionError
		tokErr   *tokenize.TokenizationError
		scoreErr *score.ScoringError
	)
	switch {
	case errors.As(err, &inputErr):
		return StageInput
	case errors.As(err, &sttErr):
		return StageTranscribe
	case errors.As(err, &tokErr):
		return StageTokenize
	case errors.As(err, &scoreErr):
		return StageScore
	default:
		return running
	}
}
