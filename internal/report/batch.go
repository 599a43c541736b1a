package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
)

// AllSamples labels the aggregate row of a model in the summary CSV.
const AllSamples = "ALL"

// Failure is one row of the error report.
type Failure struct {
	SampleID string `json:"sample_id"`
	Model    string `json:"model"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// Summary is the whole-run report written to summary.json.
type Summary struct {
	RunID      string          `json:"run_id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Provider   string          `json:"provider"`
	SamplesDir string          `json:"samples_dir"`
	OutputDir  string          `json:"output_dir"`
	Models     []score.Summary `json:"models"`
	Failures   []Failure       `json:"failures"`
}

var summaryHeader = []string{
	"sample_id", "model", "correct", "substitutions", "insertions", "deletions",
	"reference_length", "wer", "cer",
}

func recordRow(sampleID string, r score.Record) []string {
	return []string{
		sampleID,
		r.Model,
		strconv.Itoa(r.Correct),
		strconv.Itoa(r.Substitutions),
		strconv.Itoa(r.Insertions),
		strconv.Itoa(r.Deletions),
		strconv.Itoa(r.ReferenceLength),
		r.WER.String(),
		r.CER.String(),
	}
}

// WriteSummaryCSV writes one row per scored unit followed by one ALL row
// per model.
func (l Layout) WriteSummaryCSV(models []score.Summary) error {
	return writeCSV(l.Summary(), func(w *csv.Writer) {
		_ = w.Write(summaryHeader)
		for _, m := range models {
			for _, r := range m.Records {
				_ = w.Write(recordRow(r.SampleID, r))
			}
		}
		for _, m := range models {
			_ = w.Write(recordRow(AllSamples, score.Record{
				Model:           m.Model,
				Correct:         m.Correct,
				Substitutions:   m.Substitutions,
				Insertions:      m.Insertions,
				Deletions:       m.Deletions,
				ReferenceLength: m.ReferenceLength,
				WER:             m.WER,
				CER:             m.CER,
			}))
		}
	})
}

// WriteErrorsCSV lists failed units with their stage and reason.
func (l Layout) WriteErrorsCSV(failures []Failure) error {
	return writeCSV(l.Errors(), func(w *csv.Writer) {
		_ = w.Write([]string{"sample_id", "model", "stage", "reason"})
		for _, f := range failures {
			_ = w.Write([]string{f.SampleID, f.Model, f.Stage, f.Reason})
		}
	})
}

// WriteSummaryJSON writes the complete report.
func (l Layout) WriteSummaryJSON(s Summary) error {
	if s.Failures == nil {
		s.Failures = []Failure{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return os.WriteFile(l.SummaryJSON(), append(data, '\n'), 0o644)
}

func writeCSV(path string, fill func(*csv.Writer)) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	fill(w)
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
