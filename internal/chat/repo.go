package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"gorm.io/gorm"
)

// Repo is a conversation.Store over gorm for deployments that want
// histories to survive restarts without Redis.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Message{})
}

// Append inserts all messages in one statement inside a transaction.
func (r *Repo) Append(ctx context.Context, conversationID string, msgs ...ai.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]Message, len(msgs))
	for i, m := range msgs {
		rows[i] = Message{ConversationID: conversationID, Role: m.Role, Content: m.Content, CreatedAt: now}
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
}

// Get returns messages in ASC id order (oldest -> newest).
func (r *Repo) Get(ctx context.Context, conversationID string) ([]ai.Message, error) {
	var rows []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ai.Message, len(rows))
	for i, m := range rows {
		out[i] = ai.Message{Role: m.Role, Content: m.Content}
	}
	return out, nil
}

func (r *Repo) Clear(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&Message{}).Error
}

func (r *Repo) ClearAll(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Message{}).Error
}
