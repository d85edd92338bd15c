package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveChunker splits text into overlapping windows of at most size runes,
// cutting on the coarsest separator that keeps pieces under the limit.
type RecursiveChunker struct {
	size       int
	overlap    int
	separators []string
}

func NewRecursiveChunker(size, overlap int) *RecursiveChunker {
	return NewRecursiveChunkerWithSeparators(size, overlap, DefaultSeparators)
}

func NewRecursiveChunkerWithSeparators(size, overlap int, separators []string) *RecursiveChunker {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	seps := make([]string, 0, len(separators)+1)
	for _, s := range separators {
		if s != "" {
			seps = append(seps, s)
		}
	}
	seps = append(seps, "")

	return &RecursiveChunker{
		size:       size,
		overlap:    overlap,
		separators: seps,
	}
}

func (c *RecursiveChunker) Size() int    { return c.size }
func (c *RecursiveChunker) Overlap() int { return c.overlap }

// Split returns the chunks of text in document order. Whitespace-only input yields nil.
func (c *RecursiveChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) <= c.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, c.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, c.merge([]string{piece})...)
			continue
		}
		out = append(out, c.split(piece, rest)...)
	}
	if len(small) > 0 {
		out = append(out, c.merge(small)...)
	}
	return out
}

// merge packs pieces greedily into windows, carrying up to overlap runes
// from the tail of one window into the next.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var (
		chunks []string
		window []string
		total  int
	)

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.size && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for len(window) > 0 && (total > c.overlap || (total+n > c.size && total > 0)) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += n
	}

	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeep splits on sep, leaving sep attached to the end of each piece.
// An empty sep splits into single runes.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, len(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}

	parts := strings.SplitAfter(text, sep)
	pieces := parts[:0]
	for _, p := range parts {
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
