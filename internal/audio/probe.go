// Package audio inspects sample audio files before they are sent for
// transcription.
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Extensions lists the audio formats discovered in a samples directory.
var Extensions = []string{".wav", ".mp3", ".flac", ".m4a", ".ogg"}

// ErrInvalidWAV is returned for .wav files without a valid RIFF/WAVE header.
var ErrInvalidWAV = errors.New("invalid wav file")

// IsAudio reports whether path has a supported audio extension.
func IsAudio(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Info describes an audio file. Duration and format fields are only filled
// for WAV input.
type Info struct {
	Path       string        `json:"path"`
	Size       int64         `json:"size"`
	Format     string        `json:"format"`
	SampleRate int           `json:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	BitDepth   int           `json:"bit_depth,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// RealTimeFactor is processing time divided by audio duration, or 0 when the
// duration is unknown.
func (i Info) RealTimeFactor(elapsed time.Duration) float64 {
	if i.Duration <= 0 {
		return 0
	}
	return elapsed.Seconds() / i.Duration.Seconds()
}

// Probe reads file metadata. WAV headers are decoded and validated so a
// broken file is rejected before it costs an API call.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Path:   path,
		Size:   st.Size(),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	if info.Format != "wav" {
		return info, nil
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return info, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return info, fmt.Errorf("read wav header: %w", err)
	}
	info.SampleRate = int(dec.SampleRate)
	info.Channels = int(dec.NumChans)
	info.BitDepth = int(dec.BitDepth)
	if d, err := dec.Duration(); err == nil {
		info.Duration = d
	}
	return info, nil
}
