// Package chunking splits a built document's text into overlapping pieces
// sized for downstream embedding, using a recursive separator strategy
// generalized from the teacher's fixed-size and paragraph splitters.
package chunking

import (
	"fmt"
	"strings"

	"lerian-mcp-memory/pkg/ingest"
)

// defaultSeparators are tried in order, each one splitting the text into
// smaller pieces than the last, until pieces fit within the chunk size.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveCharacterSplitter splits document text into chunks of at most
// Size characters, carrying Overlap characters from the tail of one chunk
// into the head of the next so no boundary silently drops context.
type RecursiveCharacterSplitter struct {
	Size    int
	Overlap int
}

// NewRecursiveCharacterSplitter validates chunkSize/chunkOverlap and
// returns a ready-to-use splitter.
func NewRecursiveCharacterSplitter(chunkSize, chunkOverlap int) (*RecursiveCharacterSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk_size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 {
		return nil, fmt.Errorf("chunk_overlap must not be negative, got %d", chunkOverlap)
	}
	if chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", chunkOverlap, chunkSize)
	}
	return &RecursiveCharacterSplitter{Size: chunkSize, Overlap: chunkOverlap}, nil
}

// Passthrough turns one Document into a single unsplit Chunk, used when
// chunking is disabled by configuration. Chunk identity fields are left
// zero, same as Split, for the Identity Stamper to fill in.
func Passthrough(doc ingest.Document) []ingest.Chunk {
	return []ingest.Chunk{{
		Text:       doc.Text,
		Metadata:   cloneMetadata(doc.Metadata),
		ChunkIndex: 0,
		ChunkCount: 1,
	}}
}

// Split turns one Document into an ordered list of Chunks. Chunk identity
// fields (ChunkID, ItemID, Checksum, LastSeenAt) are left zero — the
// Identity Stamper fills them in afterward.
func (s *RecursiveCharacterSplitter) Split(doc ingest.Document) []ingest.Chunk {
	pieces := s.splitText(doc.Text, defaultSeparators)
	chunks := make([]ingest.Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, ingest.Chunk{
			Text:       p,
			Metadata:   cloneMetadata(doc.Metadata),
			ChunkIndex: i,
			ChunkCount: len(pieces),
		})
	}
	return chunks
}

// splitText recursively narrows the separator list until every piece fits
// Size, then re-merges adjacent pieces up to Size with Overlap carried
// from the previous piece's tail.
func (s *RecursiveCharacterSplitter) splitText(text string, separators []string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= s.Size {
		return []string{text}
	}

	sep := separators[0]
	var parts []string
	if sep == "" {
		parts = splitIntoRunes(text, s.Size)
	} else {
		parts = strings.Split(text, sep)
	}

	var pieces []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len([]rune(part)) > s.Size && len(separators) > 1 {
			pieces = append(pieces, s.splitText(part, separators[1:])...)
		} else {
			pieces = append(pieces, part)
		}
	}

	return s.merge(pieces)
}

// merge stitches adjacent small pieces back together up to Size, carrying
// the trailing Overlap runes of one merged chunk into the next.
func (s *RecursiveCharacterSplitter) merge(pieces []string) []string {
	if len(pieces) == 0 {
		return nil
	}

	var result []string
	current := pieces[0]

	for _, p := range pieces[1:] {
		if len([]rune(current))+1+len([]rune(p)) <= s.Size {
			current = current + " " + p
			continue
		}
		result = append(result, current)
		overlap := s.Overlap
		if room := s.Size - len([]rune(p)) - 1; overlap > room {
			overlap = room
		}
		current = carryOverlap(current, overlap) + p
	}
	result = append(result, current)

	return result
}

// carryOverlap returns the trailing n runes of text followed by a space,
// used as the seed for the next chunk so adjacent chunks share context.
func carryOverlap(text string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= n {
		return string(r) + " "
	}
	return string(r[len(r)-n:]) + " "
}

func splitIntoRunes(text string, size int) []string {
	r := []rune(text)
	var out []string
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
