package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// ExecTranscriber runs an external command per request. The command receives
// --audio <path> --model <id> [--language <lang>] and prints
// {"text": ..., "confidence": ...} on stdout.
type ExecTranscriber struct {
	cmd      []string
	language string
}

type execResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Segments   []Segment `json:"segments,omitempty"`
}

func NewExecTranscriber(command, language string) (*ExecTranscriber, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("stt command is empty")
	}
	return &ExecTranscriber{cmd: args, language: language}, nil
}

func (r *ExecTranscriber) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	if req.Path == "" {
		return Transcript{}, &TranscriptionError{Kind: KindFormat, Model: req.Model, Err: errors.New("exec provider needs an audio path")}
	}
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", req.Path)
	if req.Model != "" {
		cmdArgs = append(cmdArgs, "--model", req.Model)
	}
	if r.language != "" {
		cmdArgs = append(cmdArgs, "--language", r.language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return Transcript{}, &TranscriptionError{Kind: KindNetwork, Model: req.Model, Err: ctx.Err()}
		}
		return Transcript{}, &TranscriptionError{Kind: KindFormat, Model: req.Model,
			Err: fmt.Errorf("stt command failed: %w: %s", err, stderr.String())}
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Transcript{}, &TranscriptionError{Kind: KindFormat, Model: req.Model, Err: fmt.Errorf("decode stt response: %w", err)}
	}
	return Transcript{
		Text:       resp.Text,
		Confidence: resp.Confidence,
		Segments:   resp.Segments,
		Raw:        json.RawMessage(bytes.TrimSpace(stdout.Bytes())),
	}, nil
}
