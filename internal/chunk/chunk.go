// Package chunk implements the Chunker component (§4.3): it splits a file's
// UTF-8 text into overlapping windows bounded by a character limit, with
// overlap on a word/line boundary, trimming surrounding whitespace and
// recording byte offsets into the original text. The chunker is a pure
// function of its input: identical input always yields an identical
// sequence of (chunkIndex, byteOffset, text, chunkSha256) tuples.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkChars and DefaultOverlapChars match the teacher's chunking
// defaults (MaxChunkTokens/OverlapTokens), expressed in characters since
// memsearch's Embedding Provider is token-agnostic at this layer.
const (
	DefaultMaxChunkChars = 1500
	DefaultOverlapChars  = 200
)

// Options configures Chunk.
type Options struct {
	MaxChunkChars int // 0 uses DefaultMaxChunkChars
	OverlapChars  int // 0 uses DefaultOverlapChars
}

func (o Options) withDefaults() Options {
	if o.MaxChunkChars <= 0 {
		o.MaxChunkChars = DefaultMaxChunkChars
	}
	if o.OverlapChars <= 0 || o.OverlapChars >= o.MaxChunkChars {
		o.OverlapChars = DefaultOverlapChars
	}
	return o
}

// Chunk is one retrievable text window (§3 Chunk entity).
type Chunk struct {
	Index      int
	ByteOffset int
	ByteLen    int
	Text       string
	SHA256     string
}

// Split produces the chunk sequence for text. Empty (or whitespace-only)
// input produces zero chunks.
func Split(text string, opts Options) []Chunk {
	opts = opts.withDefaults()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	runes := []rune(text)
	n := len(runes)

	start := 0
	index := 0
	for start < n {
		end := start + opts.MaxChunkChars
		if end > n {
			end = n
		} else {
			end = extendToBoundary(runes, start, end)
		}

		rawStart, rawEnd := trimWhitespace(runes, start, end)
		if rawStart < rawEnd {
			windowText := string(runes[rawStart:rawEnd])
			byteOffset := len(string(runes[:rawStart]))
			chunks = append(chunks, Chunk{
				Index:      index,
				ByteOffset: byteOffset,
				ByteLen:    len(windowText),
				Text:       windowText,
				SHA256:     sha256Hex(windowText),
			})
			index++
		}

		if end >= n {
			break
		}

		next := end - opts.OverlapChars
		if next <= start {
			next = end // guarantee forward progress when overlap >= window
		}
		start = next
	}

	return chunks
}

// extendToBoundary nudges end backward to the nearest preceding newline or
// space so chunks break on a word/line boundary rather than mid-word,
// without shrinking the window by more than a quarter of its size.
func extendToBoundary(runes []rune, start, end int) int {
	minEnd := start + (end-start)*3/4
	for i := end - 1; i > minEnd && i > start; i-- {
		if runes[i] == '\n' || runes[i] == ' ' {
			return i + 1
		}
	}
	return end
}

// trimWhitespace shrinks [start,end) to exclude leading/trailing whitespace.
func trimWhitespace(runes []rune, start, end int) (int, int) {
	for start < end && isSpace(runes[start]) {
		start++
	}
	for end > start && isSpace(runes[end-1]) {
		end--
	}
	return start, end
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// ValidUTF8 reports whether text is valid UTF-8; Split assumes this holds.
func ValidUTF8(text string) bool {
	return utf8.ValidString(text)
}
