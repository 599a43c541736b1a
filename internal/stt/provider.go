package stt

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
)

// New builds the configured provider wrapped in retry and rate limiting.
// The returned close function releases provider connections.
func New(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (Transcriber, func() error, error) {
	noop := func() error { return nil }
	var (
		base    Transcriber
		closeFn = noop
	)
	switch cfg.Kind {
	case "watson":
		w, err := NewWatsonTranscriber(cfg.URL, cfg.APIKey, &http.Client{})
		if err != nil {
			return nil, noop, err
		}
		base = w
	case "google":
		g, err := NewGoogleTranscriber(ctx, cfg.CredentialsFile, cfg.Language)
		if err != nil {
			return nil, noop, err
		}
		base, closeFn = g, g.Close
	case "exec":
		e, err := NewExecTranscriber(cfg.Command, cfg.Language)
		if err != nil {
			return nil, noop, err
		}
		base = e
	case "mock":
		base = NewMockTranscriber()
	default:
		return nil, noop, fmt.Errorf("unsupported stt provider %q", cfg.Kind)
	}

	policy := RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		Timeout:         time.Duration(cfg.TimeoutMS) * time.Millisecond,
		InitialInterval: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		RatePerMinute:   cfg.RateLimitPerMin,
	}
	return NewRetrying(base, policy, logger), closeFn, nil
}
