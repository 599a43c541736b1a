package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WatsonTranscriber calls the IBM Watson Speech to Text recognize endpoint.
type WatsonTranscriber struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewWatsonTranscriber(endpoint, apiKey string, client *http.Client) (*WatsonTranscriber, error) {
	if endpoint == "" {
		return nil, errors.New("watson url is empty")
	}
	if apiKey == "" {
		return nil, errors.New("watson api key is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &WatsonTranscriber{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}, nil
}

type watsonResponse struct {
	ResultIndex int            `json:"result_index"`
	Results     []watsonResult `json:"results"`
}

type watsonResult struct {
	Final        bool                `json:"final"`
	Alternatives []watsonAlternative `json:"alternatives"`
}

type watsonAlternative struct {
	Transcript     string  `json:"transcript"`
	Confidence     float64 `json:"confidence"`
	Timestamps     [][]any `json:"timestamps"`
	WordConfidence [][]any `json:"word_confidence"`
}

type watsonError struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func (w *WatsonTranscriber) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	fail := func(kind Kind, err error) (Transcript, error) {
		return Transcript{}, &TranscriptionError{Kind: kind, Model: req.Model, Err: err}
	}

	reqURL, err := url.Parse(w.endpoint + "/v1/recognize")
	if err != nil {
		return fail(KindFormat, fmt.Errorf("parse watson url: %w", err))
	}
	query := reqURL.Query()
	if req.Model != "" {
		query.Set("model", req.Model)
	}
	query.Set("timestamps", "true")
	query.Set("word_confidence", "true")
	reqURL.RawQuery = query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(req.Audio))
	if err != nil {
		return fail(KindFormat, err)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentTypeFor(req.Path)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth("apikey", w.apiKey)

	resp, err := w.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Transcript{}, err
		}
		return fail(KindNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(KindNetwork, fmt.Errorf("read watson response: %w", err))
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var apiErr watsonError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fail(kindForStatus(resp.StatusCode), fmt.Errorf("watson returned status %s: %s", resp.Status, msg))
	}

	transcript, err := ParseWatson(body)
	if err != nil {
		return fail(KindNetwork, err)
	}
	return transcript, nil
}

// ParseWatson decodes a recognize response. The text is the first
// alternative of every result joined by spaces.
func ParseWatson(raw []byte) (Transcript, error) {
	var resp watsonResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Transcript{}, fmt.Errorf("decode watson response: %w", err)
	}

	segments := make([]Segment, 0, len(resp.Results))
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		alt := result.Alternatives[0]
		segments = append(segments, Segment{
			Text:       strings.TrimSpace(alt.Transcript),
			Confidence: alt.Confidence,
			Words:      watsonWords(alt),
		})
	}

	return Transcript{
		Text:       joinSegments(segments),
		Confidence: meanConfidence(segments),
		Segments:   segments,
		Raw:        json.RawMessage(raw),
	}, nil
}

func watsonWords(alt watsonAlternative) []Word {
	words := make([]Word, 0, len(alt.Timestamps))
	for i, ts := range alt.Timestamps {
		if len(ts) != 3 {
			continue
		}
		text, _ := ts[0].(string)
		start, _ := ts[1].(float64)
		end, _ := ts[2].(float64)
		word := Word{Text: text, Start: start, End: end}
		if i < len(alt.WordConfidence) && len(alt.WordConfidence[i]) == 2 {
			word.Confidence, _ = alt.WordConfidence[i][1].(float64)
		}
		words = append(words, word)
	}
	return words
}
