package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how a request is retried.
type RetryPolicy struct {
	MaxAttempts     int
	Timeout         time.Duration // per attempt
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RatePerMinute   int // 0 disables rate limiting
}

// Retrying wraps a Transcriber with a per-attempt timeout, exponential
// backoff on retryable failures and a request rate limit shared by all
// callers.
type Retrying struct {
	next    Transcriber
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewRetrying(next Transcriber, policy RetryPolicy, logger *slog.Logger) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retrying{
		next:   next,
		policy: policy,
		logger: logger.With(slog.String("component", "stt")),
	}
	if policy.RatePerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(float64(policy.RatePerMinute)/60.0), 1)
	}
	return r
}

func (r *Retrying) Transcribe(ctx context.Context, req Request) (Transcript, error) {
	attempt := 0
	operation := func() (Transcript, error) {
		attempt++
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Transcript{}, backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
		}
		attemptCtx := ctx
		if r.policy.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
			defer cancel()
		}
		out, err := r.next.Transcribe(attemptCtx, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return Transcript{}, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TranscriptionError{Kind: KindNetwork, Model: req.Model, Err: err}
		}
		if !IsRetryable(err) {
			return Transcript{}, backoff.Permanent(err)
		}
		return Transcript{}, err
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("transcription failed, retrying",
				slog.String("sample", req.Name),
				slog.String("model", req.Model),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()))
		}),
	)
	if err != nil {
		var te *TranscriptionError
		if !errors.As(err, &te) && !errors.Is(err, context.Canceled) {
			err = &TranscriptionError{Kind: KindNetwork, Model: req.Model, Err: err}
		}
		return Transcript{}, fmt.Errorf("after %d attempt(s): %w", attempt, err)
	}
	return out, nil
}
