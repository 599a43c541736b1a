package stt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GoogleTranscriber calls Google Cloud Speech-to-Text v1. The configured
// model id is passed as RecognitionConfig.Model.
type GoogleTranscriber struct {
	language  string
	recognize recognizeFunc
	close     func() error
}

// NewGoogleTranscriber dials the Speech API. An empty credentialsFile falls
// back to application default credentials.
func NewGoogleTranscriber(ctx context.Context, credentialsFile, language string) (*GoogleTranscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create google speech client: %w", err)
	}
	g := newGoogleTranscriber(language, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	})
	g.close = client.Close
	return g, nil
}

func newGoogleTranscriber(language string, fn recognizeFunc) *GoogleTranscriber {
	if language == "" {
		language = "ja-JP"
	}
	return &GoogleTranscriber{language: language, recognize: fn, close: func() error { return nil }}
}

func (g *GoogleTranscriber) Close() error {
	return g.close()
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	cfg := &speechpb.RecognitionConfig{
		Encoding:              encodingFor(req.Path),
		LanguageCode:          g.language,
		Model:                 req.Model,
		EnableWordTimeOffsets: true,
		EnableWordConfidence:  true,
	}
	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: req.Audio}},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Transcript{}, err
		}
		return Transcript{}, &TranscriptionError{Kind: kindForCode(status.Code(err)), Model: req.Model, Err: err}
	}

	segments := make([]Segment, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		seg := Segment{
			Text:       strings.TrimSpace(alt.GetTranscript()),
			Confidence: float64(alt.GetConfidence()),
		}
		for _, w := range alt.GetWords() {
			seg.Words = append(seg.Words, Word{
				Text:       w.GetWord(),
				Start:      w.GetStartTime().AsDuration().Seconds(),
				End:        w.GetEndTime().AsDuration().Seconds(),
				Confidence: float64(w.GetConfidence()),
			})
		}
		segments = append(segments, seg)
	}

	raw, err := protojson.Marshal(resp)
	if err != nil {
		return Transcript{}, &TranscriptionError{Kind: KindFormat, Model: req.Model, Err: fmt.Errorf("encode google response: %w", err)}
	}
	return Transcript{
		Text:       joinSegments(segments),
		Confidence: meanConfidence(segments),
		Segments:   segments,
		Raw:        raw,
	}, nil
}

func encodingFor(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func kindForCode(code codes.Code) Kind {
	switch code {
	case codes.Unauthenticated, codes.PermissionDenied:
		return KindAuth
	case codes.ResourceExhausted:
		return KindQuota
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition:
		return KindFormat
	default:
		return KindNetwork
	}
}
