package stt

import (
	"context"
	"encoding/json"
	"mime"
	"path/filepath"
	"strings"
)

// Request is one transcription call: an audio payload and the model to run.
type Request struct {
	Name        string
	Path        string
	Audio       []byte
	ContentType string
	Model       string
}

// Word carries per-word timing in seconds and confidence when the provider
// returns them.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Segment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// Transcript is the provider output for one request. Raw holds the provider
// response as received so it can be archived next to the text.
type Transcript struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Segments   []Segment       `json:"segments,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// Transcriber abstracts speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// ContentTypeFor guesses the audio MIME type from the file extension.
func ContentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mp3"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// joinSegments joins the segment texts with single spaces.
func joinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func meanConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range segments {
		sum += seg.Confidence
	}
	return sum / float64(len(segments))
}
