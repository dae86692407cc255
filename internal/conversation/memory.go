package conversation

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	convs map[string][]ai.Message
}

// MemoryStore is a lock-striped in-process Store. Histories never expire.
type MemoryStore struct {
	shards [shardCount]*shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{convs: make(map[string][]ai.Message)}
	}
	return s
}

func (s *MemoryStore) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Append(_ context.Context, id string, msgs ...ai.Message) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	sh.convs[id] = append(sh.convs[id], msgs...)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]ai.Message, error) {
	sh := s.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	out := make([]ai.Message, len(sh.convs[id]))
	copy(out, sh.convs[id])
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.convs, id)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) ClearAll(_ context.Context) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.convs = make(map[string][]ai.Message)
		sh.mu.Unlock()
	}
	return nil
}

// Len reports the number of conversations held.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.convs)
		sh.mu.RUnlock()
	}
	return n
}
