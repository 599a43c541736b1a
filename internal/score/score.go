// Package score turns alignments into error-rate records and aggregates them
// per model.
package score

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/align"
)

// Undefined is how a rate with a zero denominator is rendered.
const Undefined = "N/A"

// Rate is an error rate that is undefined when the reference is empty.
type Rate struct {
	Value   float64
	Defined bool
}

func newRate(errors, length int) Rate {
	if length == 0 {
		return Rate{}
	}
	return Rate{Value: float64(errors) / float64(length), Defined: true}
}

func (r Rate) String() string {
	if !r.Defined {
		return Undefined
	}
	return strconv.FormatFloat(r.Value, 'f', 4, 64)
}

func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Rate{}
		return nil
	}
	if err := json.Unmarshal(data, &r.Value); err != nil {
		return err
	}
	r.Defined = true
	return nil
}

// Record is the score of one (sample, model) unit.
type Record struct {
	SampleID        string `json:"sample_id"`
	Model           string `json:"model"`
	Correct         int    `json:"correct"`
	Substitutions   int    `json:"substitutions"`
	Insertions      int    `json:"insertions"`
	Deletions       int    `json:"deletions"`
	ReferenceLength int    `json:"reference_length"`
	WER             Rate   `json:"wer"`
	CharErrors      int    `json:"char_errors"`
	CharLength      int    `json:"char_length"`
	CER             Rate   `json:"cer"`
}

// Errors is S+I+D.
func (r Record) Errors() int { return r.Substitutions + r.Insertions + r.Deletions }

// ScoringError reports an alignment that contradicts its inputs. It means a
// bug upstream, never a recognition problem.
type ScoringError struct {
	SampleID string
	Model    string
	Reason   string
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring invariant violated for %s/%s: %s", e.SampleID, e.Model, e.Reason)
}

// Score validates a against hyp and ref and computes the record.
func Score(sampleID, model string, a align.Alignment, hyp, ref []string) (Record, error) {
	fail := func(format string, args ...any) (Record, error) {
		return Record{}, &ScoringError{SampleID: sampleID, Model: model, Reason: fmt.Sprintf(format, args...)}
	}

	if !slices.Equal(a.RefProjection(), ref) {
		return fail("reference projection does not match %d reference tokens", len(ref))
	}
	if !slices.Equal(a.HypProjection(), hyp) {
		return fail("hypothesis projection does not match %d hypothesis tokens", len(hyp))
	}
	c := a.Counts()
	if c.Correct+c.Substitutions+c.Deletions != len(ref) {
		return fail("correct+substitutions+deletions = %d, reference length = %d",
			c.Correct+c.Substitutions+c.Deletions, len(ref))
	}
	if d := TokenDistance(hyp, ref); d != c.Errors() {
		return fail("alignment cost %d disagrees with edit distance %d", c.Errors(), d)
	}

	hypChars := []rune(strings.Join(hyp, ""))
	refChars := []rune(strings.Join(ref, ""))
	charErrors := levenshtein.DistanceForStrings(hypChars, refChars, levenshtein.DefaultOptionsWithSub)

	return Record{
		SampleID:        sampleID,
		Model:           model,
		Correct:         c.Correct,
		Substitutions:   c.Substitutions,
		Insertions:      c.Insertions,
		Deletions:       c.Deletions,
		ReferenceLength: len(ref),
		WER:             newRate(c.Errors(), len(ref)),
		CharErrors:      charErrors,
		CharLength:      len(refChars),
		CER:             newRate(charErrors, len(refChars)),
	}, nil
}

// TokenDistance is the unit-cost edit distance between two token sequences.
// Each distinct token is mapped to its own rune so the rune-based
// levenshtein implementation can compare whole tokens.
func TokenDistance(hyp, ref []string) int {
	ids := make(map[string]rune, len(hyp)+len(ref))
	encode := func(tokens []string) []rune {
		out := make([]rune, len(tokens))
		for i, tok := range tokens {
			id, ok := ids[tok]
			if !ok {
				id = rune(len(ids))
				ids[tok] = id
			}
			out[i] = id
		}
		return out
	}
	return levenshtein.DistanceForStrings(encode(hyp), encode(ref), levenshtein.DefaultOptionsWithSub)
}

// Summary aggregates the records of one model.
type Summary struct {
	Model           string   `json:"model"`
	Samples         int      `json:"samples"`
	Correct         int      `json:"correct"`
	Substitutions   int      `json:"substitutions"`
	Insertions      int      `json:"insertions"`
	Deletions       int      `json:"deletions"`
	ReferenceLength int      `json:"reference_length"`
	WER             Rate     `json:"wer"`
	CharErrors      int      `json:"char_errors"`
	CharLength      int      `json:"char_length"`
	CER             Rate     `json:"cer"`
	Records         []Record `json:"records"`
}

// Aggregate sums the counts of records and derives WER and CER from the
// sums, so long samples weigh more than short ones.
func Aggregate(model string, records []Record) Summary {
	s := Summary{Model: model, Records: make([]Record, 0, len(records))}
	for _, r := range records {
		s.Samples++
		s.Correct += r.Correct
		s.Substitutions += r.Substitutions
		s.Insertions += r.Insertions
		s.Deletions += r.Deletions
		s.ReferenceLength += r.ReferenceLength
		s.CharErrors += r.CharErrors
		s.CharLength += r.CharLength
		s.Records = append(s.Records, r)
	}
	s.WER = newRate(s.Substitutions+s.Insertions+s.Deletions, s.ReferenceLength)
	s.CER = newRate(s.CharErrors, s.CharLength)
	return s
}
