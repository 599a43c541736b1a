package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, path string, sampleRate, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   make([]int, sampleRate*seconds),
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.wav")
	writeWAV(t, path, 16000, 2)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Fatalf("unexpected info %+v", info)
	}
	// The decoder derives duration from the RIFF size, which includes the header.
	if info.Duration < 1990*time.Millisecond || info.Duration > 2010*time.Millisecond {
		t.Fatalf("duration = %v", info.Duration)
	}
	if rtf := info.RealTimeFactor(time.Second); rtf < 0.49 || rtf > 0.51 {
		t.Fatalf("real time factor = %v", rtf)
	}
}

func TestProbeInvalidWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav file at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Probe(path); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}

func TestProbeOtherFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp3")
	if err := os.WriteFile(path, []byte{0xff, 0xfb, 0x90}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Format != "mp3" || info.Size != 3 || info.Duration != 0 {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.RealTimeFactor(time.Second) != 0 {
		t.Fatal("unknown duration should give zero real time factor")
	}
}

func TestIsAudio(t *testing.T) {
	for _, name := range []string{"a.wav", "b.MP3", "c.flac", "d.m4a", "e.ogg"} {
		if !IsAudio(name) {
			t.Errorf("%s should be audio", name)
		}
	}
	for _, name := range []string{"a_ref.txt", "b.json", "c"} {
		if IsAudio(name) {
			t.Errorf("%s should not be audio", name)
		}
	}
}
