package vectorindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is
// predictable in tests.
type keywordEmbedder struct {
	vocab []string
	fail  bool
}

func (e keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	v := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	for i, w := range e.vocab {
		v[i] = float32(strings.Count(lower, w))
	}
	return v, nil
}

func (e keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func chunk(id, doc, text string) Chunk {
	return Chunk{ID: id, Text: text, Metadata: Metadata{DocumentID: doc, Filename: doc + ".txt", Source: SourceUserUpload}}
}

func TestMemory_SearchFiltersAndRanks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(keywordEmbedder{vocab: []string{"go", "java", "rust"}})

	require.NoError(t, idx.Add(ctx, []Chunk{
		chunk("c1", "d1", "java java"),
		chunk("c2", "d1", "go go go"),
		chunk("c3", "d1", "rust"),
		chunk("c4", "d2", "go go go go"),
	}))

	res, err := idx.Search(ctx, Query{Text: "go", DocumentID: "d1", TopK: 2})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "c2", res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	for _, r := range res {
		assert.Equal(t, "d1", r.Metadata.DocumentID)
	}
}

func TestMemory_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(keywordEmbedder{vocab: []string{"x"}})
	require.NoError(t, idx.Add(ctx, []Chunk{
		chunk("a", "d", "x"), chunk("b", "d", "x"), chunk("c", "d", "x"),
	}))

	res, err := idx.Search(ctx, Query{Text: "x", DocumentID: "d"})
	require.NoError(t, err)
	ids := []string{res[0].ID, res[1].ID, res[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemory_EmptyQueryListsWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	emb := keywordEmbedder{vocab: []string{"x"}}
	idx := NewMemory(emb)
	require.NoError(t, idx.Add(ctx, []Chunk{chunk("a", "d1", "x"), chunk("b", "d2", "x"), chunk("c", "d1", "x")}))

	// a failing embedder proves the listing path never embeds
	idx.embedder = keywordEmbedder{fail: true}
	res, err := idx.Search(ctx, Query{DocumentID: "d1", TopK: 1000})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.Equal(t, "c", res[1].ID)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(keywordEmbedder{vocab: []string{"x"}})
	require.NoError(t, idx.Add(ctx, []Chunk{chunk("a", "d", "x"), chunk("b", "d", "x")}))

	require.NoError(t, idx.Delete(ctx, []string{"a", "missing"}))
	assert.Equal(t, 1, idx.Len())
}

func TestMemory_AddFailsWhenEmbedderFails(t *testing.T) {
	idx := NewMemory(keywordEmbedder{fail: true})
	err := idx.Add(context.Background(), []Chunk{chunk("a", "d", "x")})
	assert.Error(t, err)
	assert.Equal(t, 0, idx.Len())
}
