// Package conversation holds per-conversation message histories.
package conversation

import (
	"context"

	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
)

// Store maps a conversation id to its ordered history. Append of several
// messages is atomic with respect to other writers of the same id.
type Store interface {
	Append(ctx context.Context, id string, msgs ...ai.Message) error
	// Get returns an empty, non-nil slice for unknown ids.
	Get(ctx context.Context, id string) ([]ai.Message, error)
	// Clear is a no-op for unknown ids.
	Clear(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}
