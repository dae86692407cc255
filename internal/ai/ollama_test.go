package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaChat_ReturnsTextAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "llama3:latest", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, RoleUser, req.Messages[1].Role)
		}

		_, _ = w.Write([]byte(`{"model":"llama3:latest","message":{"role":"assistant","content":"hi there"},"done":true,"prompt_eval_count":12,"eval_count":8}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "")
	out, err := p.Chat(context.Background(), []Message{
		{Role: RoleAssistant, Content: "earlier"},
		{Role: RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Text)
	require.NotNil(t, out.Usage)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, *out.Usage)
}

func TestOllamaChat_ThrottledIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "m").Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, 3*time.Second, pe.RetryAfter)
	assert.True(t, IsRetryable(err))
}

func TestOllamaChat_ClientErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "missing").Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestOllamaStreamChat_YieldsChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	chunks, errs := NewOllamaProvider(srv.URL, "m").StreamChat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	assert.Equal(t, []string{"Hel", "lo", "!"}, got)
	assert.NoError(t, <-errs)
}

func TestOllamaStreamChat_CancelReleasesStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			default:
			}
			fmt.Fprintln(w, `{"message":{"role":"assistant","content":"tick"},"done":false}`)
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := NewOllamaProvider(srv.URL, "m").StreamChat(ctx, []Message{{Role: RoleUser, Content: "x"}})

	first, ok := <-chunks
	require.True(t, ok)
	assert.Equal(t, "tick", first)
	cancel()

	done := make(chan struct{})
	go func() {
		for range chunks {
		}
		for range errs {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}
