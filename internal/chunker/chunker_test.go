package chunker

import (
	"strings"
	"testing"

	"github.com/mparland/mem-cli/internal/models"
)

func TestChunkEmptyFile(t *testing.T) {
	pieces := Chunk("", models.ChunkParams{Tokens: 10, Overlap: 0, MinChars: 32, CharsPerToken: 4})
	if len(pieces) != 0 {
		t.Fatalf("expected zero chunks for empty file, got %d", len(pieces))
	}
}

func TestChunkOverlap(t *testing.T) {
	// tokens=10, overlap=5, charsPerToken=4, minChars=32 => maxChars=40, overlapChars=20
	params := models.ChunkParams{Tokens: 10, Overlap: 5, MinChars: 32, CharsPerToken: 4}
	lines := []string{
		"line-1: apple",
		"line-2: banana",
		"line-3: cherry",
		"line-4: damson",
		"line-5: elderberry",
		"line-6: fig",
		"line-7: grape",
		"line-8: honeydew",
	}
	content := strings.Join(lines, "\n")

	pieces := Chunk(content, params)
	if len(pieces) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(pieces), pieces)
	}
	if pieces[0].LineEnd < pieces[1].LineStart {
		t.Fatalf("expected overlap between chunks, first ends at %d, second starts at %d",
			pieces[0].LineEnd, pieces[1].LineStart)
	}
	lastLineOfFirst := lines[pieces[0].LineEnd-1]
	if !strings.Contains(pieces[1].Content, lastLineOfFirst) {
		t.Fatalf("expected last line of first chunk %q to appear in second chunk %q",
			lastLineOfFirst, pieces[1].Content)
	}
}

func TestChunkLongLineSplitting(t *testing.T) {
	// tokens=5, overlap=0, charsPerToken=4, minChars=32 => maxChars=32
	params := models.ChunkParams{Tokens: 5, Overlap: 0, MinChars: 32, CharsPerToken: 4}
	content := strings.Repeat("a", 65)

	pieces := Chunk(content, params)
	if len(pieces) < 2 {
		t.Fatalf("expected more than one chunk, got %d", len(pieces))
	}
	for i, p := range pieces {
		if len(p.Content) > 32 {
			t.Fatalf("chunk %d exceeds maxChars: len=%d", i, len(p.Content))
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	params := models.ChunkParams{Tokens: 10, Overlap: 2, MinChars: 16, CharsPerToken: 4}
	content := "one\ntwo\nthree\nfour\nfive\nsix\n"

	a := Chunk(content, params)
	b := Chunk(content, params)
	if len(a) != len(b) {
		t.Fatalf("expected deterministic chunk count, got %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestChunkWhitespaceOnlyNotDropped(t *testing.T) {
	// The chunker never drops whitespace-only chunks itself — that is
	// the sync engine's job (spec.md §4.1).
	params := models.ChunkParams{Tokens: 1, Overlap: 0, MinChars: 4, CharsPerToken: 1}
	pieces := Chunk("   \n\n", params)
	if len(pieces) == 0 {
		t.Fatalf("expected the chunker to still emit whitespace-only pieces")
	}
}

func TestID(t *testing.T) {
	id1 := ID("memory/a.md", 1, 3, "abc123", 0)
	id2 := ID("memory/a.md", 1, 3, "abc123", 0)
	if id1 != id2 {
		t.Fatalf("expected stable id across calls")
	}
	id3 := ID("memory/a.md", 1, 3, "abc123", 1)
	if id1 == id3 {
		t.Fatalf("expected different ordinal to change id")
	}
}
