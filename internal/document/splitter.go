package document

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ai-chatdoc/internal/vectorindex"
)

type SplitterConfig struct {
	ChunkSize int
	Overlap   int
	// A trailing window adding fewer new tokens than this is folded into the
	// previous chunk.
	MinChunkSizeToMerge int
	MaxChunks           int
	KeepSeparators      bool
}

func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:           500,
		Overlap:             100,
		MinChunkSizeToMerge: 5,
		MaxChunks:           10000,
		KeepSeparators:      true,
	}
}

func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap must be in [0, %d), got %d", c.ChunkSize, c.Overlap)
	}
	if c.MinChunkSizeToMerge < 0 || c.MaxChunks < 0 {
		return fmt.Errorf("min merge size and max chunks must not be negative")
	}
	return nil
}

type Splitter struct {
	cfg SplitterConfig
	tok Tokenizer
}

func NewSplitter(cfg SplitterConfig, tok Tokenizer) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{cfg: cfg, tok: tok}, nil
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

type window struct{ start, end int }

// windows computes token ranges. Only the token count and config decide the
// boundaries.
func (s *Splitter) windows(n int) []window {
	if n == 0 {
		return nil
	}
	step := s.cfg.ChunkSize - s.cfg.Overlap
	var out []window
	for start := 0; ; start += step {
		end := min(start+s.cfg.ChunkSize, n)
		if k := len(out); k > 0 && end == n && end-out[k-1].end < s.cfg.MinChunkSizeToMerge {
			out[k-1].end = end
			break
		}
		out = append(out, window{start, end})
		if end == n || (s.cfg.MaxChunks > 0 && len(out) == s.cfg.MaxChunks) {
			break
		}
	}
	return out
}

// Split cuts content into token windows. Every chunk gets a fresh random id
// and its own copy of the parent metadata. Chunk text never splits a
// character: a window edge that falls inside one moves forward to the next
// character start.
func (s *Splitter) Split(content, documentID, filename string) []vectorindex.Chunk {
	if !s.cfg.KeepSeparators {
		content = newlines.Replace(content)
	}
	tokens := s.tok.Encode(content)
	offsets, exact := s.tokenOffsets(content, tokens)

	var chunks []vectorindex.Chunk
	for _, w := range s.windows(len(tokens)) {
		var text string
		if exact {
			text = content[runeStartFrom(content, offsets[w.start]):runeStartFrom(content, offsets[w.end])]
		} else {
			text = strings.ToValidUTF8(s.tok.Decode(tokens[w.start:w.end]), "")
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		chunks = append(chunks, vectorindex.Chunk{
			ID:   uuid.NewString(),
			Text: text,
			Metadata: vectorindex.Metadata{
				DocumentID: documentID,
				Filename:   filename,
				Source:     vectorindex.SourceUserUpload,
			},
		})
	}
	return chunks
}

// tokenOffsets maps token i to the byte offset in content where it starts,
// with len(content) appended. exact is false when the tokenizer does not
// reproduce content byte for byte.
func (s *Splitter) tokenOffsets(content string, tokens []int) ([]int, bool) {
	offsets := make([]int, len(tokens)+1)
	pos := 0
	for i := range tokens {
		offsets[i] = pos
		piece := s.tok.Decode(tokens[i : i+1])
		if !strings.HasPrefix(content[pos:], piece) {
			return nil, false
		}
		pos += len(piece)
	}
	offsets[len(tokens)] = pos
	return offsets, pos == len(content)
}

func runeStartFrom(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
