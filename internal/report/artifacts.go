// Package report writes per-unit artifacts and batch summaries to a run
// directory.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/align"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/tokenize"
)

// SafeModel makes a model id usable in file names.
func SafeModel(model string) string {
	return strings.ReplaceAll(model, "/", "_")
}

// Layout names the files of one run directory.
type Layout struct {
	Dir string
}

func (l Layout) unit(sampleID, model, suffix string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s%s", sampleID, SafeModel(model), suffix))
}

func (l Layout) TranscriptJSON(sampleID, model string) string {
	return l.unit(sampleID, model, ".json")
}

func (l Layout) TranscriptText(sampleID, model string) string {
	return l.unit(sampleID, model, ".txt")
}

func (l Layout) HypothesisTokens(sampleID, model string) string {
	return l.unit(sampleID, model, ".token.txt")
}

func (l Layout) Alignment(sampleID, model string) string {
	return l.unit(sampleID, model, "_alignment.csv")
}

func (l Layout) Eval(sampleID, model string) string {
	return l.unit(sampleID, model, "_eval.txt")
}

func (l Layout) ReferenceTokens(sampleID string) string {
	return filepath.Join(l.Dir, sampleID+"_ref.token.txt")
}

func (l Layout) Times(sampleID string) string {
	return filepath.Join(l.Dir, sampleID+"_times.txt")
}

func (l Layout) Summary() string {
	return filepath.Join(l.Dir, "evaluation_summary.csv")
}

func (l Layout) Errors() string {
	return filepath.Join(l.Dir, "evaluation_errors.csv")
}

func (l Layout) SummaryJSON() string {
	return filepath.Join(l.Dir, "summary.json")
}

// WriteTranscript stores the raw provider response and the transcript text.
func (l Layout) WriteTranscript(sampleID, model string, tr stt.Transcript) error {
	raw := []byte(tr.Raw)
	if len(raw) == 0 {
		var err error
		if raw, err = json.Marshal(tr); err != nil {
			return fmt.Errorf("encode transcript: %w", err)
		}
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(raw)
	}
	pretty.WriteByte('\n')
	if err := os.WriteFile(l.TranscriptJSON(sampleID, model), pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write transcript json: %w", err)
	}
	if err := os.WriteFile(l.TranscriptText(sampleID, model), []byte(tr.Text), 0o644); err != nil {
		return fmt.Errorf("write transcript text: %w", err)
	}
	return nil
}

// WriteTokens stores a space separated token line.
func WriteTokens(path string, tokens []string) error {
	return os.WriteFile(path, []byte(tokenize.Join(tokens)+"\n"), 0o644)
}

// WriteAlignment writes one CSV row per alignment position.
func WriteAlignment(path string, a align.Alignment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"position", "ref_token", "hyp_token", "op"})
	for i, op := range a {
		_ = w.Write([]string{fmt.Sprint(i + 1), op.Ref, op.Hyp, op.Kind.String()})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write alignment: %w", err)
	}
	return f.Close()
}

// EvalInput is what the per-unit evaluation report shows.
type EvalInput struct {
	Record           score.Record
	ReferencePath    string
	HypothesisPath   string
	ReferenceTokens  []string
	HypothesisTokens []string
}

// WriteEval writes the human readable per-unit report.
func WriteEval(path string, in EvalInput) error {
	r := in.Record
	var b strings.Builder
	fmt.Fprintf(&b, "Reference: %s\n", in.ReferencePath)
	fmt.Fprintf(&b, "Hypothesis: %s\n", in.HypothesisPath)
	fmt.Fprintf(&b, "Model: %s\n", r.Model)
	fmt.Fprintf(&b, "WER: %s\n", r.WER)
	fmt.Fprintf(&b, "CER: %s\n", r.CER)
	fmt.Fprintf(&b, "Correct: %d\n", r.Correct)
	fmt.Fprintf(&b, "Substitutions: %d\n", r.Substitutions)
	fmt.Fprintf(&b, "Insertions: %d\n", r.Insertions)
	fmt.Fprintf(&b, "Deletions: %d\n", r.Deletions)
	fmt.Fprintf(&b, "Reference length (tokens): %d\n\n", r.ReferenceLength)
	b.WriteString("=== Reference Tokens ===\n")
	b.WriteString(tokenize.Join(in.ReferenceTokens) + "\n\n")
	b.WriteString("=== Hypothesis Tokens ===\n")
	b.WriteString(tokenize.Join(in.HypothesisTokens) + "\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// TimeEntry is one line of a sample's execution time record.
type TimeEntry struct {
	Model   string  `json:"model"`
	Stage   string  `json:"stage"`
	Status  string  `json:"status"`
	Seconds float64 `json:"seconds"`
	Note    string  `json:"note,omitempty"`
}

// WriteTimes writes the per-sample stage timing record.
func (l Layout) WriteTimes(sampleID string, entries []TimeEntry) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution times for %s\n", sampleID)
	b.WriteString("# model, stage, status, duration_s, note\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s, %s, %s, %.3f, %s\n", e.Model, e.Stage, e.Status, e.Seconds, e.Note)
	}
	return os.WriteFile(l.Times(sampleID), []byte(b.String()), 0o644)
}
