package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
)

const defaultPrefix = "chat:conv:"

// Store keeps each conversation as a Redis list of JSON messages. A single
// RPUSH per Append keeps multi-message appends atomic per key.
type Store struct {
	rdb    *redis.Client
	prefix string
}

func New(addr, password string, db int) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), defaultPrefix)
}

func NewWithClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) Append(ctx context.Context, id string, msgs ...ai.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values = append(values, b)
	}
	if err := s.rdb.RPush(ctx, s.key(id), values...).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) ([]ai.Message, error) {
	raw, err := s.rdb.LRange(ctx, s.key(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", id, err)
	}
	out := make([]ai.Message, 0, len(raw))
	for _, r := range raw {
		var m ai.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message in %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.key(id)).Err()
}

// ClearAll removes every conversation under the store's prefix.
func (s *Store) ClearAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
