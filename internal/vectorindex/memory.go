package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/suPer8Hu/ai-chatdoc/internal/embedding"
)

type entry struct {
	chunk  Chunk
	vector []float32
	seq    uint64
}

// Memory is a brute-force cosine index. Equal scores keep insertion order.
type Memory struct {
	embedder embedding.Embedder

	mu      sync.RWMutex
	entries map[string]entry
	nextSeq uint64
}

func NewMemory(embedder embedding.Embedder) *Memory {
	return &Memory{embedder: embedder, entries: make(map[string]entry)}
}

func (m *Memory) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		m.nextSeq++
		m.entries[c.ID] = entry{chunk: c, vector: vectors[i], seq: m.nextSeq}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, q Query) ([]Result, error) {
	var query []float32
	if q.Text != "" {
		v, err := m.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		query = v
	}

	m.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range m.entries {
		if q.DocumentID != "" && e.chunk.Metadata.DocumentID != q.DocumentID {
			continue
		}
		matched = append(matched, e)
	}
	m.mu.RUnlock()

	type scored struct {
		Result
		seq uint64
	}
	ranked := make([]scored, len(matched))
	for i, e := range matched {
		ranked[i] = scored{Result: Result{Chunk: e.chunk}, seq: e.seq}
		if query != nil {
			ranked[i].Score = cosine(query, e.vector)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].seq < ranked[j].seq
	})
	if q.TopK > 0 && len(ranked) > q.TopK {
		ranked = ranked[:q.TopK]
	}

	results := make([]Result, len(ranked))
	for i, r := range ranked {
		results[i] = r.Result
	}
	return results, nil
}

func (m *Memory) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
