package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
	"golang.org/x/sync/errgroup"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OllamaClient calls Ollama's /api/embeddings endpoint, caching vectors in an
// in-process LRU keyed by model and text.
type OllamaClient struct {
	baseURL     string
	model       string
	httpClient  *http.Client
	cache       *lru.Cache
	concurrency int
}

type Option func(*OllamaClient)

func WithHTTPClient(c *http.Client) Option {
	return func(o *OllamaClient) { o.httpClient = c }
}

func WithConcurrency(n int) Option {
	return func(o *OllamaClient) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithCacheSize sets the LRU capacity; zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *OllamaClient) {
		if n <= 0 {
			o.cache = nil
			return
		}
		c, err := lru.New(n)
		if err == nil {
			o.cache = c
		}
	}
}

func NewOllamaClient(baseURL, model string, opts ...Option) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	c := &OllamaClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		concurrency: 4,
	}
	WithCacheSize(10000)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (c *OllamaClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	var key string
	if c.cache != nil {
		key = c.cacheKey(text)
		if v, ok := c.cache.Get(key); ok {
			metrics.RecordEmbeddingCache(true)
			return v.([]float32), nil
		}
		metrics.RecordEmbeddingCache(false)
	}

	vec, err := c.fetch(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Add(key, vec)
	}
	return vec, nil
}

func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed item %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OllamaClient) fetch(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	defer func() { metrics.EmbeddingDuration.Observe(time.Since(start).Seconds()) }()

	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, fmt.Errorf("ollama embeddings: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama embeddings: decode: %w", err)
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New("ollama embeddings: empty vector")
	}

	vec := make([]float32, len(decoded.Embedding))
	for i, f := range decoded.Embedding {
		vec[i] = float32(f)
	}
	return vec, nil
}
