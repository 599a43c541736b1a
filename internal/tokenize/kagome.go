package tokenize

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ikawaha/kagome-dict/ipa"
	"github.com/ikawaha/kagome/v2/tokenizer"
)

// Kagome segments Japanese text with the kagome morphological analyzer and
// the IPA dictionary. The dictionary loads on first use.
type Kagome struct {
	mode tokenizer.TokenizeMode

	once sync.Once
	tk   *tokenizer.Tokenizer
	err  error
}

// NewKagome returns a Kagome tokenizer. mode is one of normal, search or
// extended; empty means normal.
func NewKagome(mode string) (*Kagome, error) {
	m, err := parseMode(mode)
	if err != nil {
		return nil, err
	}
	return &Kagome{mode: m}, nil
}

func parseMode(mode string) (tokenizer.TokenizeMode, error) {
	switch strings.ToLower(mode) {
	case "", "normal":
		return tokenizer.Normal, nil
	case "search":
		return tokenizer.Search, nil
	case "extended":
		return tokenizer.Extended, nil
	default:
		return tokenizer.Normal, fmt.Errorf("unknown kagome mode %q", mode)
	}
}

func (k *Kagome) load() (*tokenizer.Tokenizer, error) {
	k.once.Do(func() {
		k.tk, k.err = tokenizer.New(ipa.Dict(), tokenizer.OmitBosEos())
	})
	return k.tk, k.err
}

func (k *Kagome) Tokenize(ctx context.Context, text string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tk, err := k.load()
	if err != nil {
		return nil, &TokenizationError{Tokenizer: "kagome", Err: err}
	}
	morphs := tk.Analyze(text, k.mode)
	tokens := make([]string, 0, len(morphs))
	for _, m := range morphs {
		surface := strings.TrimSpace(m.Surface)
		if surface == "" {
			continue
		}
		tokens = append(tokens, surface)
	}
	return tokens, nil
}
