package chat

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Message{}))
	return db
}

func TestRepo_ConversationStoreContract(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(openTestDB(t))

	got, err := repo.Get(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, repo.Append(ctx, "c1",
		ai.Message{Role: ai.RoleUser, Content: "q1"},
		ai.Message{Role: ai.RoleAssistant, Content: "a1"},
	))
	require.NoError(t, repo.Append(ctx, "c2", ai.Message{Role: ai.RoleUser, Content: "other"}))
	require.NoError(t, repo.Append(ctx, "c1", ai.Message{Role: ai.RoleUser, Content: "q2"}))

	got, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "q1"},
		{Role: ai.RoleAssistant, Content: "a1"},
		{Role: ai.RoleUser, Content: "q2"},
	}, got)

	require.NoError(t, repo.Clear(ctx, "c1"))
	require.NoError(t, repo.Clear(ctx, "c1"))
	got, _ = repo.Get(ctx, "c1")
	assert.Empty(t, got)

	require.NoError(t, repo.ClearAll(ctx))
	got, _ = repo.Get(ctx, "c2")
	assert.Empty(t, got)
}

func TestService_WithRepoStore(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	svc := newTestService(&recordingProvider{reply: "ok"}, repo, 20)

	r, err := svc.ChatWithHistory(context.Background(), "Hello", "")
	require.NoError(t, err)

	var rows []Message
	require.NoError(t, repo.db.Order("id ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, r.ConversationID, rows[0].ConversationID)
	assert.Equal(t, "user", rows[0].Role)
	assert.Equal(t, "assistant", rows[1].Role)
}
