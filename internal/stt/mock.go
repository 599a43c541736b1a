package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockTranscriber returns canned transcripts keyed by request name and
// model, falling back to a fixed description of the request.
type MockTranscriber struct {
	mu          sync.Mutex
	transcripts map[string]string
	errs        map[string]error
	calls       int
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{
		transcripts: make(map[string]string),
		errs:        make(map[string]error),
	}
}

func mockKey(name, model string) string { return name + "\x00" + model }

// Set registers the transcript returned for name and model.
func (m *MockTranscriber) Set(name, model, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts[mockKey(name, model)] = text
}

// Fail makes requests for name and model return err.
func (m *MockTranscriber) Fail(name, model string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[mockKey(name, model)] = err
}

// Calls reports how many requests were served.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockTranscriber) Transcribe(_ context.Context, req Request) (Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	key := mockKey(req.Name, req.Model)
	if err := m.errs[key]; err != nil {
		return Transcript{}, err
	}
	text, ok := m.transcripts[key]
	if !ok {
		text = fmt.Sprintf("[mock transcript %s model=%s bytes=%d]", req.Name, req.Model, len(req.Audio))
	}
	raw, _ := json.Marshal(map[string]any{
		"results": []any{
			map[string]any{"alternatives": []any{map[string]any{"transcript": text, "confidence": 1.0}}},
		},
	})
	return Transcript{
		Text:       text,
		Confidence: 1,
		Segments:   []Segment{{Text: text, Confidence: 1}},
		Raw:        raw,
	}, nil
}
