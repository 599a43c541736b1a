package stt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

func TestContentTypeFor(t *testing.T) {
	tests := map[string]string{
		"a.wav":  "audio/wav",
		"a.MP3":  "audio/mp3",
		"a.flac": "audio/flac",
		"a.m4a":  "audio/mp4",
		"a.ogg":  "audio/ogg",
		"a.zzz":  "application/octet-stream",
	}
	for in, want := range tests {
		if got := ContentTypeFor(in); got != want {
			t.Errorf("ContentTypeFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMockTranscriber(t *testing.T) {
	m := NewMockTranscriber()
	m.Set("s1", "ja-JP", "こんにちは")
	tr, err := m.Transcribe(context.Background(), Request{Name: "s1", Model: "ja-JP"})
	if err != nil || tr.Text != "こんにちは" {
		t.Fatalf("unexpected transcript %q (%v)", tr.Text, err)
	}
	parsed, err := ParseWatson(tr.Raw)
	if err != nil || parsed.Text != "こんにちは" {
		t.Fatalf("mock raw response should parse as watson json: %q (%v)", parsed.Text, err)
	}
	fallback, _ := m.Transcribe(context.Background(), Request{Name: "s2", Model: "x", Audio: []byte{1, 2}})
	if fallback.Text != "[mock transcript s2 model=x bytes=2]" {
		t.Fatalf("fallback text = %q", fallback.Text)
	}
	if m.Calls() != 2 {
		t.Fatalf("calls = %d", m.Calls())
	}
}

func TestExecTranscriber(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-stt.sh")
	content := "#!/bin/sh\nprintf '{\"text\": \"%s %s\", \"confidence\": 0.5}' \"$2\" \"$4\"\n"
	if err := os.WriteFile(script, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	e, err := NewExecTranscriber(script, "")
	if err != nil {
		t.Fatalf("new exec transcriber: %v", err)
	}
	tr, err := e.Transcribe(context.Background(), Request{Path: "/tmp/a.wav", Model: "ja-JP"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if tr.Text != "/tmp/a.wav ja-JP" || tr.Confidence != 0.5 {
		t.Fatalf("unexpected transcript %+v", tr)
	}

	if _, err := NewExecTranscriber("", ""); err == nil {
		t.Fatal("expected error for empty command")
	}

	failing, _ := NewExecTranscriber("false", "")
	_, err = failing.Transcribe(context.Background(), Request{Path: "a.wav", Model: "m"})
	var te *TranscriptionError
	if !errors.As(err, &te) || te.Kind != KindFormat {
		t.Fatalf("expected format error from failing command, got %v", err)
	}
}

func TestGoogleTranscriber(t *testing.T) {
	var got *speechpb.RecognizeRequest
	g := newGoogleTranscriber("", func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		got = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{
					Transcript: "こんにちは",
					Confidence: 0.5,
					Words: []*speechpb.WordInfo{{
						Word:      "こんにちは",
						StartTime: durationpb.New(0),
						EndTime:   durationpb.New(500_000_000),
					}},
				}},
			}},
		}, nil
	})
	tr, err := g.Transcribe(context.Background(), Request{Path: "a.flac", Model: "latest_long", Audio: []byte{1}})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.GetConfig().GetModel() != "latest_long" || got.GetConfig().GetLanguageCode() != "ja-JP" {
		t.Fatalf("unexpected config %+v", got.GetConfig())
	}
	if got.GetConfig().GetEncoding() != speechpb.RecognitionConfig_FLAC {
		t.Fatalf("encoding = %v", got.GetConfig().GetEncoding())
	}
	if tr.Text != "こんにちは" || tr.Segments[0].Words[0].End != 0.5 {
		t.Fatalf("unexpected transcript %+v", tr)
	}
	if len(tr.Raw) == 0 {
		t.Fatal("expected raw protojson")
	}
}

func TestGoogleErrorKinds(t *testing.T) {
	tests := []struct {
		code codes.Code
		kind Kind
	}{
		{codes.Unauthenticated, KindAuth},
		{codes.PermissionDenied, KindAuth},
		{codes.ResourceExhausted, KindQuota},
		{codes.InvalidArgument, KindFormat},
		{codes.Unavailable, KindNetwork},
		{codes.DeadlineExceeded, KindNetwork},
	}
	for _, tt := range tests {
		g := newGoogleTranscriber("ja-JP", func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return nil, status.Error(tt.code, "boom")
		})
		_, err := g.Transcribe(context.Background(), Request{Model: "m"})
		var te *TranscriptionError
		if !errors.As(err, &te) || te.Kind != tt.kind {
			t.Errorf("code %s: got %v, want kind %s", tt.code, err, tt.kind)
		}
	}
}
