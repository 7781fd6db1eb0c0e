package ingest

import (
	"strings"
	"unicode/utf8"

	"github.com/WessleyAI/docrag/engine/domain"
)

const (
	// DefaultChunkSize is the target number of characters per chunk.
	DefaultChunkSize = 300
	// DefaultOverlap is the number of characters shared by adjacent chunks.
	DefaultOverlap = 100
)

// DefaultSeparators are tried in order, coarsest first. The empty separator
// splits into single characters and always matches.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. Lengths are counted in runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter validates size and overlap and returns a Splitter using
// DefaultSeparators.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if err := domain.ValidateChunkConfig(size, overlap); err != nil {
		return nil, err
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// Split splits every document and numbers chunks from 1 within each document.
// Each chunk's metadata is a copy of its document's plus chunk_index.
func (s *Splitter) Split(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, d := range docs {
		for i, text := range s.SplitText(d.Text) {
			meta := domain.CloneMetadata(d.Metadata, 1)
			meta[domain.MetaChunkIndex] = i + 1
			chunks = append(chunks, domain.Chunk{Content: text, Metadata: meta})
		}
	}
	return chunks
}

// SplitText returns the chunks of a single text.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, separator) {
		if runeLen(piece) < s.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge packs pieces into chunks no longer than size. After each emitted
// chunk, pieces are dropped from the front of the window until at most
// overlap characters remain, and those carry into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out    []string
		window []string
		total  int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(window) > 0 {
			if c := join(window); c != "" {
				out = append(out, c)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}
	if c := join(window); c != "" {
		out = append(out, c)
	}
	return out
}

// splitKeep splits text on sep, keeping the separator at the start of the
// piece that follows it. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func join(window []string) string {
	return strings.TrimSpace(strings.Join(window, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
