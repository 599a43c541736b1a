package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/align"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/stt"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestLayoutNames(t *testing.T) {
	l := Layout{Dir: "/out"}
	if got := l.TranscriptText("s1", "org/model"); got != "/out/s1_org_model.txt" {
		t.Fatalf("transcript text = %s", got)
	}
	if got := l.Alignment("s1", "ja-JP"); got != "/out/s1_ja-JP_alignment.csv" {
		t.Fatalf("alignment = %s", got)
	}
	if got := l.ReferenceTokens("s1"); got != "/out/s1_ref.token.txt" {
		t.Fatalf("reference tokens = %s", got)
	}
}

func TestWriteTranscript(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	tr := stt.Transcript{Text: "今日 は", Raw: []byte(`{"results":[]}`)}
	if err := l.WriteTranscript("s1", "ja-JP", tr); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	text, _ := os.ReadFile(l.TranscriptText("s1", "ja-JP"))
	if string(text) != "今日 は" {
		t.Fatalf("text = %q", text)
	}
	raw, _ := os.ReadFile(l.TranscriptJSON("s1", "ja-JP"))
	if !strings.Contains(string(raw), `"results": []`) {
		t.Fatalf("expected indented raw json, got %s", raw)
	}
}

func TestWriteAlignment(t *testing.T) {
	path := t.TempDir() + "/a.csv"
	a := align.Align([]string{"a", "x", "c"}, []string{"a", "b", "c", "d"})
	if err := WriteAlignment(path, a); err != nil {
		t.Fatalf("write alignment: %v", err)
	}
	rows := readCSV(t, path)
	if len(rows) != len(a)+1 {
		t.Fatalf("expected %d rows, got %d", len(a)+1, len(rows))
	}
	if strings.Join(rows[0], ",") != "position,ref_token,hyp_token,op" {
		t.Fatalf("header = %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "1,a,a,OK" || strings.Join(rows[2], ",") != "2,b,x,S" {
		t.Fatalf("unexpected rows %v", rows[1:3])
	}
	if last := rows[len(rows)-1]; last[3] != "D" || last[2] != "" {
		t.Fatalf("last row = %v", last)
	}
}

func TestWriteSummaryCSV(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	records := []score.Record{
		{SampleID: "a", Model: "m", Correct: 9, Substitutions: 1, ReferenceLength: 10, WER: score.Rate{Value: 0.1, Defined: true}},
		{SampleID: "b", Model: "m", Correct: 4, Insertions: 1, Deletions: 1, ReferenceLength: 5, WER: score.Rate{Value: 0.4, Defined: true}},
		{SampleID: "c", Model: "m", Insertions: 2},
	}
	if err := l.WriteSummaryCSV([]score.Summary{score.Aggregate("m", records)}); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	rows := readCSV(t, l.Summary())
	if len(rows) != 5 {
		t.Fatalf("expected header + 3 records + ALL, got %d rows", len(rows))
	}
	if rows[3][7] != score.Undefined {
		t.Fatalf("empty reference WER = %q", rows[3][7])
	}
	all := rows[4]
	if all[0] != AllSamples || all[6] != "15" {
		t.Fatalf("unexpected aggregate row %v", all)
	}
	// (1 + 2 + 2) / 15
	if all[7] != "0.3333" {
		t.Fatalf("aggregate WER = %q", all[7])
	}
}

func TestWriteErrorsAndSummaryJSON(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	failures := []Failure{{SampleID: "s2", Model: "m", Stage: "tokenize", Reason: "analyzer, unavailable"}}
	if err := l.WriteErrorsCSV(failures); err != nil {
		t.Fatalf("write errors: %v", err)
	}
	rows := readCSV(t, l.Errors())
	if len(rows) != 2 || rows[1][3] != "analyzer, unavailable" {
		t.Fatalf("unexpected error rows %v", rows)
	}

	if err := l.WriteSummaryJSON(Summary{RunID: "r1", Models: []score.Summary{score.Aggregate("m", nil)}}); err != nil {
		t.Fatalf("write summary json: %v", err)
	}
	data, _ := os.ReadFile(l.SummaryJSON())
	var decoded struct {
		RunID    string            `json:"run_id"`
		Failures []Failure         `json:"failures"`
		Models   []json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if decoded.RunID != "r1" || decoded.Failures == nil || len(decoded.Models) != 1 {
		t.Fatalf("unexpected summary %+v", decoded)
	}
}

func TestWriteEvalAndTimes(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	rec := score.Record{Model: "m", ReferenceLength: 0, Insertions: 1}
	path := l.Eval("s1", "m")
	if err := WriteEval(path, EvalInput{Record: rec, HypothesisTokens: []string{"x"}}); err != nil {
		t.Fatalf("write eval: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "WER: N/A") {
		t.Fatalf("expected N/A WER in eval report:\n%s", data)
	}

	entries := []TimeEntry{{Model: "m", Stage: "transcribe", Status: "OK", Seconds: 1.23456}}
	if err := l.WriteTimes("s1", entries); err != nil {
		t.Fatalf("write times: %v", err)
	}
	times, _ := os.ReadFile(l.Times("s1"))
	if !strings.Contains(string(times), "m, transcribe, OK, 1.235, ") {
		t.Fatalf("unexpected times file:\n%s", times)
	}
}
