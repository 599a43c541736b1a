package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies transcription failures.
type Kind string

const (
	KindAuth    Kind = "auth"
	KindQuota   Kind = "quota"
	KindFormat  Kind = "format"
	KindNetwork Kind = "network"
)

// TranscriptionError is returned by every provider. Quota and network
// failures are retried; auth and format failures are not.
type TranscriptionError struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe %s: %s error: %v", e.Model, e.Kind, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *TranscriptionError) Retryable() bool {
	return e.Kind == KindQuota || e.Kind == KindNetwork
}

// IsRetryable reports whether err is a retryable TranscriptionError.
// Errors of other types are treated as network failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return true
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case status == http.StatusBadRequest,
		status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnsupportedMediaType,
		status == http.StatusNotAcceptable:
		return KindFormat
	default:
		return KindNetwork
	}
}
