// Package chunker splits Markdown content into size-bounded,
// line-overlapped chunks with content hashes, per spec.md §4.1. It has
// no analogue in the teacher repo — the teacher stores whole memory
// strings and never chunks them — so this is built directly from the
// spec's line-walking algorithm.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/mparland/mem-cli/internal/models"
)

// Piece is one ordered chunk produced by Chunk. It does not carry an
// id, file path, or ordinal: those are assigned by the sync engine
// once whitespace-only pieces have been dropped (spec.md §4.1, §3).
type Piece struct {
	Content   string
	LineStart int
	LineEnd   int
	Hash      string
}

type segment struct {
	lineNum int
	text    string
}

// Chunk splits content into ordered, line-overlapped pieces according
// to params. Deterministic for fixed params and content.
func Chunk(content string, params models.ChunkParams) []Piece {
	if content == "" {
		return nil
	}

	maxChars := params.MinChars
	if t := params.Tokens * params.CharsPerToken; t > maxChars {
		maxChars = t
	}
	overlapChars := params.Overlap * params.CharsPerToken
	if overlapChars < 0 {
		overlapChars = 0
	}

	lines := strings.Split(content, "\n")
	segs := buildSegments(lines, maxChars)

	var pieces []Piece
	var current []segment
	currentChars := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		var sb strings.Builder
		for i, s := range current {
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(s.text)
		}
		text := sb.String()
		pieces = append(pieces, Piece{
			Content:   text,
			LineStart: current[0].lineNum,
			LineEnd:   current[len(current)-1].lineNum,
			Hash:      hashText(text),
		})

		if overlapChars == 0 {
			current = nil
			currentChars = 0
			return
		}

		carry := make([]segment, 0, len(current))
		carrySize := 0
		for i := len(current) - 1; i >= 0; i-- {
			carry = append([]segment{current[i]}, carry...)
			carrySize += len(current[i].text) + 1
			if carrySize >= overlapChars {
				break
			}
		}
		current = carry
		currentChars = carrySize
	}

	for _, s := range segs {
		add := len(s.text) + 1
		if len(current) > 0 && currentChars+add > maxChars {
			flush()
		}
		current = append(current, s)
		currentChars += add
	}
	flush()

	return pieces
}

// buildSegments walks lines in order, slicing any line longer than
// maxChars into maxChars-sized segments tagged with the same source
// line number, preserving order.
func buildSegments(lines []string, maxChars int) []segment {
	segs := make([]segment, 0, len(lines))
	for i, line := range lines {
		lineNum := i + 1
		if len(line) <= maxChars {
			segs = append(segs, segment{lineNum: lineNum, text: line})
			continue
		}
		for start := 0; start < len(line); start += maxChars {
			end := start + maxChars
			if end > len(line) {
				end = len(line)
			}
			segs = append(segs, segment{lineNum: lineNum, text: line[start:end]})
		}
	}
	return segs
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// ID computes the stable chunk identifier from spec.md §3:
// SHA-256 of "<rel_path>:<line_start>:<line_end>:<content_hash>:<ordinal>".
func ID(relPath string, lineStart, lineEnd int, contentHash string, ordinal int) string {
	key := fmt.Sprintf("%s:%d:%d:%s:%d", relPath, lineStart, lineEnd, contentHash, ordinal)
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}
