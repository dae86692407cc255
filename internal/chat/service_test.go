package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"github.com/suPer8Hu/ai-chatdoc/internal/apperr"
	"github.com/suPer8Hu/ai-chatdoc/internal/conversation"
	"github.com/suPer8Hu/ai-chatdoc/internal/tokens"
)

type recordingProvider struct {
	mu    sync.Mutex
	calls [][]ai.Message
	reply string
	usage *ai.Usage
	err   error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (*ai.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// copy to avoid mutations
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Completion{Text: p.reply, Model: "fake", Usage: p.usage}, nil
}

func (p *recordingProvider) last() []ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

type streamingProvider struct {
	recordingProvider
	parts []string
	err   error
}

func (p *streamingProvider) StreamChat(ctx context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, part := range p.parts {
			select {
			case chunks <- part:
			case <-ctx.Done():
				return
			}
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return chunks, errs
}

func newTestService(p ai.Provider, store conversation.Store, window int) *Service {
	acct := tokens.NewAccountant(tokens.Config{PerMessageTokens: 50, MaxHistoryTokens: 200}, nil)
	return NewService(p, store, acct, window, "You are a helpful assistant.")
}

func TestChat_IsStatelessWithFreshIDs(t *testing.T) {
	prov := &recordingProvider{reply: "hello"}
	store := conversation.NewMemoryStore()
	svc := newTestService(prov, store, 20)

	r1, err := svc.Chat(context.Background(), "hi")
	require.NoError(t, err)
	r2, err := svc.Chat(context.Background(), "hi")
	require.NoError(t, err)

	assert.NotEmpty(t, r1.ConversationID)
	assert.NotEqual(t, r1.ConversationID, r2.ConversationID)
	assert.Equal(t, 0, store.Len())
	assert.Len(t, prov.last(), 1)
}

func TestChatWithContext_PrependsSystemPrompt(t *testing.T) {
	prov := &recordingProvider{reply: "ok"}
	svc := newTestService(prov, conversation.NewMemoryStore(), 20)

	_, err := svc.ChatWithContext(context.Background(), "explain goroutines")
	require.NoError(t, err)

	sent := prov.last()
	require.Len(t, sent, 2)
	assert.Equal(t, ai.RoleSystem, sent[0].Role)
	assert.Equal(t, ai.RoleUser, sent[1].Role)
}

func TestChatWithHistory_GeneratesIDAndStoresTurn(t *testing.T) {
	prov := &recordingProvider{reply: "first answer", usage: &ai.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}}
	store := conversation.NewMemoryStore()
	svc := newTestService(prov, store, 20)
	ctx := context.Background()

	r, err := svc.ChatWithHistory(ctx, "Hello", "  ")
	require.NoError(t, err)
	require.NotEmpty(t, r.ConversationID)
	assert.Equal(t, "first answer", r.Text)
	require.NotNil(t, r.Usage)
	assert.Equal(t, 10, r.Usage.TotalTokens)
	require.NotNil(t, r.Report)
	assert.InDelta(t, 30.0, r.Report.OutputRatio, 1e-9)

	msgs, err := svc.History(ctx, r.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleUser, Content: "Hello"},
		{Role: ai.RoleAssistant, Content: "first answer"},
	}, msgs)

	prov.reply = "second answer"
	_, err = svc.ChatWithHistory(ctx, "And then?", r.ConversationID)
	require.NoError(t, err)

	sent := prov.last()
	require.Len(t, sent, 3)
	assert.Equal(t, "Hello", sent[0].Content)
	assert.Equal(t, "And then?", sent[2].Content)

	msgs, _ = svc.History(ctx, r.ConversationID)
	assert.Len(t, msgs, 4)
}

func TestChatWithHistory_ProviderFailureLeavesHistoryUntouched(t *testing.T) {
	prov := &recordingProvider{err: &ai.ProviderError{Provider: "fake", StatusCode: http.StatusTooManyRequests, Retryable: true, RetryAfter: 2 * time.Second, Err: errors.New("slow down")}}
	store := conversation.NewMemoryStore()
	svc := newTestService(prov, store, 20)
	ctx := context.Background()

	_, err := svc.ChatWithHistory(ctx, "hi", "conv-1")
	require.Error(t, err)

	e := apperr.As(err)
	assert.Equal(t, apperr.KindProviderUnavailable, e.Kind)
	assert.True(t, e.Retryable)
	assert.Equal(t, 2*time.Second, e.RetryAfter)

	msgs, _ := store.Get(ctx, "conv-1")
	assert.Empty(t, msgs)
}

func TestChatWithHistory_BlankReplyIsEmptyResponse(t *testing.T) {
	prov := &recordingProvider{reply: " \n "}
	store := conversation.NewMemoryStore()
	svc := newTestService(prov, store, 20)

	_, err := svc.ChatWithHistory(context.Background(), "hi", "conv-2")
	assert.True(t, apperr.IsKind(err, apperr.KindEmptyResponse))

	msgs, _ := store.Get(context.Background(), "conv-2")
	assert.Empty(t, msgs)
}

func TestChatWithHistory_BlankQuestionRejectedBeforeProvider(t *testing.T) {
	prov := &recordingProvider{reply: "x"}
	svc := newTestService(prov, conversation.NewMemoryStore(), 20)

	_, err := svc.ChatWithHistory(context.Background(), "   ", "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Empty(t, prov.calls)
}

func TestChatWithHistory_TrimsOnlyWhenAdvised(t *testing.T) {
	prov := &recordingProvider{reply: "ok"}
	store := conversation.NewMemoryStore()
	window := 3
	svc := newTestService(prov, store, window)
	ctx := context.Background()

	// 4 messages * 50 == 200, not over the limit: everything is sent
	seed := func(n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, store.Append(ctx, "c", ai.Message{Role: ai.RoleUser, Content: "seed"}))
		}
	}
	seed(4)
	_, err := svc.ChatWithHistory(ctx, "new", "c")
	require.NoError(t, err)
	assert.Len(t, prov.last(), 5)

	// now 6 stored messages: trimming kicks in
	_, err = svc.ChatWithHistory(ctx, "newer", "c")
	require.NoError(t, err)
	sent := prov.last()
	require.Len(t, sent, window+1)
	assert.Equal(t, "newer", sent[len(sent)-1].Content)

	// the stored history stays complete
	msgs, _ := store.Get(ctx, "c")
	assert.Len(t, msgs, 8)
}

func TestChatStream_YieldsFragmentsWithoutHistory(t *testing.T) {
	prov := &streamingProvider{parts: []string{"a", "b", "c"}}
	store := conversation.NewMemoryStore()
	svc := newTestService(prov, store, 20)

	stream, err := svc.ChatStream(context.Background(), "hi")
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for c := range stream.Chunks() {
		got = append(got, c)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.NoError(t, stream.Err())
	assert.Equal(t, 0, store.Len())
}

func TestChatStream_ProviderError(t *testing.T) {
	prov := &streamingProvider{parts: []string{"a"}, err: errors.New("connection reset")}
	svc := newTestService(prov, conversation.NewMemoryStore(), 20)

	stream, err := svc.ChatStream(context.Background(), "hi")
	require.NoError(t, err)
	defer stream.Close()

	for range stream.Chunks() {
	}
	assert.True(t, apperr.IsKind(stream.Err(), apperr.KindProviderUnavailable))
}

func TestChatStream_CloseStopsProducer(t *testing.T) {
	parts := make([]string, 1000)
	for i := range parts {
		parts[i] = "x"
	}
	prov := &streamingProvider{parts: parts}
	svc := newTestService(prov, conversation.NewMemoryStore(), 20)

	stream, err := svc.ChatStream(context.Background(), "hi")
	require.NoError(t, err)

	<-stream.Chunks()
	stream.Close()

	assert.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestChatStream_RequiresStreamingProvider(t *testing.T) {
	svc := newTestService(&recordingProvider{reply: "x"}, conversation.NewMemoryStore(), 20)
	assert.False(t, svc.Capabilities().Streaming)

	_, err := svc.ChatStream(context.Background(), "hi")
	assert.True(t, apperr.IsKind(err, apperr.KindProviderUnavailable))
}

func TestClearConversationAndAll(t *testing.T) {
	store := conversation.NewMemoryStore()
	svc := newTestService(&recordingProvider{reply: "ok"}, store, 20)
	ctx := context.Background()

	a, err := svc.ChatWithHistory(ctx, "one", "")
	require.NoError(t, err)
	b, err := svc.ChatWithHistory(ctx, "two", "")
	require.NoError(t, err)

	require.NoError(t, svc.ClearConversation(ctx, a.ConversationID))
	msgs, _ := svc.History(ctx, a.ConversationID)
	assert.Empty(t, msgs)
	msgs, _ = svc.History(ctx, b.ConversationID)
	assert.Len(t, msgs, 2)

	require.NoError(t, svc.ClearAll(ctx))
	assert.Equal(t, 0, store.Len())

	assert.True(t, apperr.IsKind(svc.ClearConversation(ctx, ""), apperr.KindValidation))
}
