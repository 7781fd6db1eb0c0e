package rag

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/WessleyAI/docrag/engine/domain"
)

// Normalizer turns retrieved chunk contents, nearest first, into one answer.
// The set is closed: Plain and PDF.
type Normalizer interface {
	Normalize(contents []string) string
	normalizer()
}

// Plain joins contents with single spaces and changes nothing else.
type Plain struct{}

func (Plain) normalizer() {}

func (Plain) Normalize(contents []string) string {
	return strings.Join(contents, " ")
}

// PDF cleans each chunk: punctuation and newlines are removed, the first
// letter is upper-cased and the rest lower-cased, and ". " is appended.
type PDF struct{}

func (PDF) normalizer() {}

func (PDF) Normalize(contents []string) string {
	var b strings.Builder
	for _, c := range contents {
		b.WriteString(capitalize(stripPunct(c)))
		b.WriteString(". ")
	}
	return b.String()
}

// NormalizerFor returns the policy for a source type.
func NormalizerFor(st domain.SourceType) (Normalizer, error) {
	switch st {
	case domain.SourceText:
		return Plain{}, nil
	case domain.SourcePDF:
		return PDF{}, nil
	default:
		return nil, fmt.Errorf("rag: normalize %q: %w", st, domain.ErrUnsupportedSourceType)
	}
}

// stripPunct drops newlines and every punctuation or symbol rune. That covers
// ASCII punctuation as well as guillemets and typographic quotes and dashes.
func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || unicode.IsPunct(r) || unicode.IsSymbol(r) || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
			return -1
		}
		return r
	}, s)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToTitle(first)) + strings.ToLower(s[size:])
}
