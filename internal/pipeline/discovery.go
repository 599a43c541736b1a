package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/audio"
)

// Sample pairs an audio file with its reference text by shared base name.
// Either path may be empty; the runner reports that as an InputError for
// the sample instead of failing the batch.
type Sample struct {
	ID            string `json:"id"`
	AudioPath     string `json:"audio_path,omitempty"`
	ReferencePath string `json:"reference_path,omitempty"`
	// PreTokenized is set for *_ref.token.txt references, which are read as
	// whitespace separated tokens and not normalized again.
	PreTokenized bool `json:"pre_tokenized,omitempty"`
}

// reference suffixes in order of preference.
var referenceSuffixes = []struct {
	suffix    string
	tokenized bool
}{
	{"_ref.token.txt", true},
	{"_reference.token.txt", true},
	{"_ref.txt", false},
	{"_reference.txt", false},
}

func referenceStem(name string) (string, int, bool) {
	for rank, rs := range referenceSuffixes {
		if strings.HasSuffix(name, rs.suffix) {
			return strings.TrimSuffix(name, rs.suffix), rank, true
		}
	}
	return "", 0, false
}

// Discover lists the samples in dir ordered by id. When only is non-empty
// the result is restricted to the sample whose id or audio file name
// matches it.
func Discover(dir, only string) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read samples dir: %w", err)
	}

	byID := make(map[string]*Sample)
	refRank := make(map[string]int)
	get := func(id string) *Sample {
		s, ok := byID[id]
		if !ok {
			s = &Sample{ID: id}
			byID[id] = s
		}
		return s
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(dir, name)
		if stem, rank, ok := referenceStem(name); ok {
			s := get(stem)
			if prev, seen := refRank[stem]; !seen || rank < prev {
				refRank[stem] = rank
				s.ReferencePath = path
				s.PreTokenized = referenceSuffixes[rank].tokenized
			}
			continue
		}
		if audio.IsAudio(name) {
			stem := strings.TrimSuffix(name, filepath.Ext(name))
			s := get(stem)
			if s.AudioPath == "" || preferredAudio(name, filepath.Base(s.AudioPath)) {
				s.AudioPath = path
			}
		}
	}

	samples := make([]Sample, 0, len(byID))
	for _, s := range byID {
		samples = append(samples, *s)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })

	if only == "" {
		return samples, nil
	}
	want := filepath.Base(only)
	wantStem := strings.TrimSuffix(want, filepath.Ext(want))
	for _, s := range samples {
		if s.ID == want || s.ID == wantStem {
			return []Sample{s}, nil
		}
	}
	return nil, fmt.Errorf("sample %q not found in %s", only, dir)
}

// preferredAudio breaks ties between audio files sharing a stem by the
// order of audio.Extensions.
func preferredAudio(candidate, current string) bool {
	rank := func(name string) int {
		ext := strings.ToLower(filepath.Ext(name))
		for i, e := range audio.Extensions {
			if e == ext {
				return i
			}
		}
		return len(audio.Extensions)
	}
	return rank(candidate) < rank(current)
}
