// Package normalize canonicalizes transcript and reference text before
// tokenization so formatting differences are not scored as recognition errors.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Text is the canonical form produced by a Normalizer.
type Text string

func (t Text) String() string { return string(t) }

// Rules toggles the individual normalization steps. Whitespace is always
// collapsed and trimmed.
type Rules struct {
	NFKC                  bool
	WidthFold             bool
	StripControl          bool
	StripPunctuation      bool
	FoldCase              bool
	StripHypothesisSpaces bool
}

// DefaultRules enables every step.
func DefaultRules() Rules {
	return Rules{
		NFKC:                  true,
		WidthFold:             true,
		StripControl:          true,
		StripPunctuation:      true,
		FoldCase:              true,
		StripHypothesisSpaces: true,
	}
}

// symbols outside the Unicode P* categories that transcripts use as punctuation.
const punctSymbols = "<>`^|~"

// longVowel is phonetic and survives punctuation stripping.
const longVowel = 'ー'

type Normalizer struct {
	rules Rules
}

func New(rules Rules) *Normalizer {
	return &Normalizer{rules: rules}
}

var defaultNormalizer = New(DefaultRules())

// Normalize applies DefaultRules to s.
func Normalize(s string) Text {
	return defaultNormalizer.Normalize(s)
}

func (n *Normalizer) Rules() Rules { return n.rules }

func (n *Normalizer) Normalize(s string) Text {
	if s == "" {
		return ""
	}
	if n.rules.NFKC {
		s = norm.NFKC.String(s)
	}
	if n.rules.WidthFold {
		s = width.Fold.String(s)
	}
	s = strings.Map(n.mapRune, s)
	if n.rules.FoldCase {
		// cases.Caser carries state and is not safe for concurrent use.
		// Folding maps some scripts (Cherokee) to upper case and back on a
		// second pass; lowering afterwards gives a fixed point.
		s = strings.ToLower(cases.Fold().String(s))
	}
	s = norm.NFC.String(s)
	return Text(strings.Join(strings.Fields(s), " "))
}

// Hypothesis prepares recognizer output. The recognizer separates Japanese
// words with ASCII spaces, which are removed before normalizing when
// StripHypothesisSpaces is set.
func (n *Normalizer) Hypothesis(s string) Text {
	if n.rules.StripHypothesisSpaces {
		s = strings.ReplaceAll(s, " ", "")
	}
	return n.Normalize(s)
}

// Reference prepares reference text.
func (n *Normalizer) Reference(s string) Text {
	return n.Normalize(s)
}

func (n *Normalizer) mapRune(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	if n.rules.StripControl && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
		return -1
	}
	if n.rules.StripPunctuation && isPunct(r) {
		return -1
	}
	return r
}

func isPunct(r rune) bool {
	if r == longVowel {
		return false
	}
	return unicode.IsPunct(r) || strings.ContainsRune(punctSymbols, r)
}
