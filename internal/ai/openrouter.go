package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenRouterProvider talks to any OpenAI-compatible chat completions API;
// OpenRouter is the default base URL.
type OpenRouterProvider struct {
	Model   string
	Timeout time.Duration

	apiKey string
	client *openai.Client
}

// headerTransport adds OpenRouter's attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp.StatusCode >= 400 {
		if hint, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
			hint.after = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
	}
	return resp, err
}

// go-openai errors drop response headers, so the transport records
// Retry-After into a holder carried by the request context.
type retryHintKey struct{}

type retryHint struct {
	after time.Duration
}

func withRetryHint(ctx context.Context) (context.Context, *retryHint) {
	hint := &retryHint{}
	return context.WithValue(ctx, retryHintKey{}, hint), hint
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	headers := map[string]string{}
	if siteURL != "" {
		headers["HTTP-Referer"] = siteURL
	}
	if appName != "" {
		headers["X-Title"] = appName
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	// Timeout is applied per call through ctx so streams are not cut off.
	cfg.HTTPClient = &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}

	return &OpenRouterProvider{
		Model:   model,
		Timeout: 90 * time.Second,
		apiKey:  apiKey,
		client:  openai.NewClientWithConfig(cfg),
	}
}

func (p *OpenRouterProvider) request(messages []Message, stream bool) (openai.ChatCompletionRequest, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return openai.ChatCompletionRequest{}, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return openai.ChatCompletionRequest{}, errors.New("openrouter: model is required")
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return req, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (*Completion, error) {
	req, err := p.request(messages, false)
	if err != nil {
		return nil, err
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	ctx, hint := withRetryHint(ctx)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, openRouterError(err, hint.after)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: "openrouter", Err: errors.New("response has no choices")}
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	out := &Completion{Text: resp.Choices[0].Message.Content, Model: model}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := p.request(messages, true)
		if err != nil {
			errs <- err
			return
		}

		sctx, hint := withRetryHint(ctx)
		stream, err := p.client.CreateChatCompletionStream(sctx, req)
		if err != nil {
			errs <- openRouterError(err, hint.after)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					errs <- openRouterError(err, 0)
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !send(ctx, chunks, delta) {
					return
				}
			}
		}
	}()

	return chunks, errs
}

func openRouterError(err error, retryAfter time.Duration) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   "openrouter",
			StatusCode: apiErr.HTTPStatusCode,
			Retryable:  retryableStatus(apiErr.HTTPStatusCode),
			RetryAfter: retryAfter,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider:   "openrouter",
			StatusCode: reqErr.HTTPStatusCode,
			Retryable:  retryableStatus(reqErr.HTTPStatusCode),
			RetryAfter: retryAfter,
			Err:        err,
		}
	}
	return transportError("openrouter", err)
}
