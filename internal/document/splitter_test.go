package document

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordTokenizer treats every whitespace separated word as one token.
type wordTokenizer struct {
	mu    sync.Mutex
	words []string
	ids   map[string]int
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []int
	for _, f := range strings.Fields(text) {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.words = append(w.words, f)
			w.ids[f] = id
		}
		out = append(out, id)
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = w.words[t]
	}
	return strings.Join(parts, " ")
}

func newTestSplitter(t *testing.T, cfg SplitterConfig) *Splitter {
	t.Helper()
	s, err := NewSplitter(cfg, newWordTokenizer())
	require.NoError(t, err)
	return s
}

func TestWindows_OverlapAndMerge(t *testing.T) {
	s := newTestSplitter(t, SplitterConfig{ChunkSize: 5, Overlap: 1})
	assert.Equal(t, []window{{0, 5}, {4, 9}, {8, 12}}, s.windows(12))

	// the last window adds 3 new tokens, below the merge threshold of 5
	s = newTestSplitter(t, SplitterConfig{ChunkSize: 5, Overlap: 1, MinChunkSizeToMerge: 5})
	assert.Equal(t, []window{{0, 5}, {4, 12}}, s.windows(12))

	// the first window is never merged away
	assert.Equal(t, []window{{0, 3}}, s.windows(3))
	assert.Nil(t, s.windows(0))
}

func TestWindows_MaxChunks(t *testing.T) {
	s := newTestSplitter(t, SplitterConfig{ChunkSize: 10, MaxChunks: 3})
	assert.Equal(t, []window{{0, 10}, {10, 20}, {20, 30}}, s.windows(100))
}

func TestSplit_DeterministicBoundariesFreshIDs(t *testing.T) {
	s := newTestSplitter(t, SplitterConfig{ChunkSize: 4, Overlap: 1, MinChunkSizeToMerge: 2})
	content := "one two three four five six seven eight nine ten eleven"

	first := s.Split(content, "doc-1", "a.txt")
	second := s.Split(content, "doc-1", "a.txt")
	require.NotEmpty(t, first)
	require.Len(t, second, len(first))

	seen := map[string]bool{}
	for i := range first {
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.NotEqual(t, first[i].ID, second[i].ID)
		seen[first[i].ID] = true
		seen[second[i].ID] = true
	}
	assert.Len(t, seen, 2*len(first))

	assert.Equal(t, "one two three four", first[0].Text)
	assert.Equal(t, "four five six seven", first[1].Text)
}

func TestSplit_CopiesMetadataToEveryChunk(t *testing.T) {
	s := newTestSplitter(t, SplitterConfig{ChunkSize: 2})
	chunks := s.Split("a b c d e", "doc-9", "notes.md")
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, "doc-9", c.Metadata.DocumentID)
		assert.Equal(t, "notes.md", c.Metadata.Filename)
		assert.Equal(t, "user_upload", c.Metadata.Source)
	}
}

func TestSplit_EmptyContent(t *testing.T) {
	s := newTestSplitter(t, DefaultSplitterConfig())
	assert.Empty(t, s.Split("   \n ", "d", "f"))
}

func TestSplitterConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultSplitterConfig().Validate())
	assert.Error(t, SplitterConfig{ChunkSize: 0}.Validate())
	assert.Error(t, SplitterConfig{ChunkSize: 5, Overlap: 5}.Validate())
	assert.Error(t, SplitterConfig{ChunkSize: 5, Overlap: -1}.Validate())
}

func TestTiktokenSplitter(t *testing.T) {
	tok, err := NewTiktokenTokenizer("cl100k_base")
	require.NoError(t, err)

	text := "Go is an open source programming language.\nIt makes it simple to build software."
	assert.Equal(t, text, tok.Decode(tok.Encode(text)))

	cfg := SplitterConfig{ChunkSize: 8, Overlap: 2, KeepSeparators: false}
	s, err := NewSplitter(cfg, tok)
	require.NoError(t, err)

	chunks := s.Split(text, "d", "f")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "\n")
	}
}

func TestTiktokenSplitter_MultiByteText(t *testing.T) {
	tok, err := NewTiktokenTokenizer("cl100k_base")
	require.NoError(t, err)

	content := "당신은 친절한 AI 어시스턴트입니다. 항상 한국어로 답변하세요. 🙂🙂🙂 日本語のテキストも同じです。"
	for _, cfg := range []SplitterConfig{
		{ChunkSize: 5, Overlap: 1, KeepSeparators: true},
		{ChunkSize: 3, Overlap: 0, KeepSeparators: true},
		{ChunkSize: 7, Overlap: 2, MinChunkSizeToMerge: 3, KeepSeparators: true},
	} {
		s, err := NewSplitter(cfg, tok)
		require.NoError(t, err)

		chunks := s.Split(content, "d", "ko.txt")
		require.NotEmpty(t, chunks)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c.Text), "chunk %q", c.Text)
			assert.True(t, strings.Contains(content, c.Text), "chunk %q", c.Text)
		}
		// nothing lost at window edges
		assert.True(t, strings.HasPrefix(content, chunks[0].Text))
		assert.True(t, strings.HasSuffix(content, chunks[len(chunks)-1].Text))
	}
}
