// Package tokenize splits normalized text into word-like units.
package tokenize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Tokenizer segments normalized text into an ordered token sequence.
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]string, error)
}

// TokenizationError reports an analyzer failure or a token sequence that
// does not reproduce its input.
type TokenizationError struct {
	Tokenizer string
	Err       error
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenize (%s): %v", e.Tokenizer, e.Err)
}

func (e *TokenizationError) Unwrap() error { return e.Err }

// ErrNotLossless is wrapped by TokenizationError when tokens do not
// concatenate back to the non-whitespace input.
var ErrNotLossless = errors.New("tokens do not reproduce input")

// Func adapts a plain function to Tokenizer.
type Func func(ctx context.Context, text string) ([]string, error)

func (f Func) Tokenize(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// Whitespace splits on Unicode whitespace. It serves pre-tokenized input.
type Whitespace struct{}

func (Whitespace) Tokenize(_ context.Context, text string) ([]string, error) {
	return strings.Fields(text), nil
}

// Checked wraps t and rejects empty tokens and output that does not
// reproduce the input's non-whitespace characters.
func Checked(name string, t Tokenizer) Tokenizer {
	return &checked{name: name, next: t}
}

type checked struct {
	name string
	next Tokenizer
}

func (c *checked) Tokenize(ctx context.Context, text string) ([]string, error) {
	tokens, err := c.next.Tokenize(ctx, text)
	if err != nil {
		var tokErr *TokenizationError
		if errors.As(err, &tokErr) {
			return nil, err
		}
		return nil, &TokenizationError{Tokenizer: c.name, Err: err}
	}
	if err := Verify(text, tokens); err != nil {
		return nil, &TokenizationError{Tokenizer: c.name, Err: err}
	}
	return tokens, nil
}

// Verify checks that tokens are non-empty and that their concatenation equals
// text with whitespace removed.
func Verify(text string, tokens []string) error {
	var b strings.Builder
	for i, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("%w: token %d is empty", ErrNotLossless, i)
		}
		b.WriteString(tok)
	}
	want := stripSpace(text)
	if got := stripSpace(b.String()); got != want {
		return fmt.Errorf("%w: got %q, want %q", ErrNotLossless, got, want)
	}
	return nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Join renders tokens the way token files store them.
func Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// New builds the configured tokenizer wrapped in a lossless check.
func New(kind, mode string) (Tokenizer, error) {
	switch kind {
	case "", "kagome":
		k, err := NewKagome(mode)
		if err != nil {
			return nil, err
		}
		return Checked("kagome", k), nil
	case "whitespace":
		return Checked("whitespace", Whitespace{}), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}
