package tokenize

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestWhitespace(t *testing.T) {
	got, err := Whitespace{}.Tokenize(context.Background(), " 今日 は\t晴れ \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"今日", "は", "晴れ"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestVerify(t *testing.T) {
	if err := Verify("今日は 晴れ", []string{"今日", "は", "晴れ"}); err != nil {
		t.Fatalf("expected lossless tokens, got %v", err)
	}
	if err := Verify("今日は晴れ", []string{"今日", "晴れ"}); !errors.Is(err, ErrNotLossless) {
		t.Fatalf("expected ErrNotLossless for dropped token, got %v", err)
	}
	if err := Verify("ab", []string{"a", "", "b"}); !errors.Is(err, ErrNotLossless) {
		t.Fatalf("expected ErrNotLossless for empty token, got %v", err)
	}
	if err := Verify("", nil); err != nil {
		t.Fatalf("empty input should verify, got %v", err)
	}
}

func TestCheckedWrapsErrors(t *testing.T) {
	boom := errors.New("analyzer unavailable")
	tk := Checked("stub", Func(func(context.Context, string) ([]string, error) {
		return nil, boom
	}))
	_, err := tk.Tokenize(context.Background(), "x")
	var tokErr *TokenizationError
	if !errors.As(err, &tokErr) {
		t.Fatalf("expected TokenizationError, got %T", err)
	}
	if tokErr.Tokenizer != "stub" || !errors.Is(err, boom) {
		t.Fatalf("unexpected error: %v", err)
	}

	lossy := Checked("lossy", Func(func(_ context.Context, text string) ([]string, error) {
		return []string{text[:1]}, nil
	}))
	if _, err := lossy.Tokenize(context.Background(), "abc"); !errors.Is(err, ErrNotLossless) {
		t.Fatalf("expected lossless violation, got %v", err)
	}
}

func TestKagomeLossless(t *testing.T) {
	tk, err := New("kagome", "normal")
	if err != nil {
		t.Fatalf("new tokenizer: %v", err)
	}
	inputs := []string{
		"すもももももももものうち",
		"今日は良い天気ですね",
		"東京 大阪 ラーメン",
		"abc123テスト",
	}
	for _, in := range inputs {
		tokens, err := tk.Tokenize(context.Background(), in)
		if err != nil {
			t.Fatalf("tokenize %q: %v", in, err)
		}
		if len(tokens) == 0 {
			t.Fatalf("no tokens for %q", in)
		}
		joined := strings.Join(tokens, "")
		if joined != strings.ReplaceAll(in, " ", "") {
			t.Fatalf("tokens %v do not reproduce %q", tokens, in)
		}
	}
}

func TestKagomeSegments(t *testing.T) {
	k, err := NewKagome("")
	if err != nil {
		t.Fatalf("new kagome: %v", err)
	}
	got, err := k.Tokenize(context.Background(), "すもももももももものうち")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []string{"すもも", "も", "もも", "も", "もも", "の", "うち"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNewUnknown(t *testing.T) {
	if _, err := New("mecab", ""); err == nil {
		t.Fatal("expected error for unknown tokenizer")
	}
	if _, err := NewKagome("fast"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestKagomeCanceledContext(t *testing.T) {
	k, _ := NewKagome("normal")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := k.Tokenize(ctx, "テスト"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
