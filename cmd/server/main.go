package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/ai"
	"github.com/suPer8Hu/ai-chatdoc/internal/chat"
	"github.com/suPer8Hu/ai-chatdoc/internal/config"
	"github.com/suPer8Hu/ai-chatdoc/internal/conversation"
	"github.com/suPer8Hu/ai-chatdoc/internal/db"
	"github.com/suPer8Hu/ai-chatdoc/internal/document"
	"github.com/suPer8Hu/ai-chatdoc/internal/embedding"
	"github.com/suPer8Hu/ai-chatdoc/internal/httpapi"
	"github.com/suPer8Hu/ai-chatdoc/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-chatdoc/internal/logger"
	"github.com/suPer8Hu/ai-chatdoc/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-chatdoc/internal/store/redisstore"
	"github.com/suPer8Hu/ai-chatdoc/internal/tokens"
	"github.com/suPer8Hu/ai-chatdoc/internal/vectorindex"
	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// run wires the server and blocks until a signal or a listener failure.
// Deferred cleanup runs on every return path.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := logger.New(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	docRepo := document.NewRepo(gdb)
	if err := docRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}

	provider, err := newRegistry(cfg).Get(ctx, cfg.AIProvider, cfg.Model())
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}

	store, closeStore, err := newConversationStore(ctx, cfg, gdb)
	if err != nil {
		return fmt.Errorf("init conversation store %s: %w", cfg.ConversationStore, err)
	}
	defer closeStore()

	accountant := tokens.NewAccountant(tokens.Config{
		HighUsageThreshold: cfg.TokenHighUsageThreshold,
		ContextWindow:      cfg.TokenContextWindow,
		ContextWarnRatio:   cfg.TokenContextWarnRatio,
		PerMessageTokens:   cfg.TokenPerMessage,
		MaxHistoryTokens:   cfg.TokenMaxHistory,
	}, tokens.NewStaticRates(cfg.TokenInputPricePerM, cfg.TokenOutputPricePerM))

	chatSvc := chat.NewService(provider, store, accountant, cfg.ChatContextWindowSize, cfg.ChatSystemPrompt)

	embedder := embedding.NewOllamaClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel,
		embedding.WithConcurrency(cfg.EmbeddingConcurrency),
		embedding.WithCacheSize(cfg.EmbeddingCacheSize),
	)
	index, err := newIndex(ctx, cfg, embedder)
	if err != nil {
		return fmt.Errorf("init vector index %s: %w", cfg.VectorIndex, err)
	}

	tok, err := document.NewTiktokenTokenizer(cfg.TokenizerEncoding)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}
	splitter, err := document.NewSplitter(document.SplitterConfig{
		ChunkSize:           cfg.ChunkSize,
		Overlap:             cfg.ChunkOverlap,
		MinChunkSizeToMerge: cfg.ChunkMinMergeTokens,
		MaxChunks:           cfg.ChunkMaxChunks,
		KeepSeparators:      cfg.ChunkKeepSeparators,
	}, tok)
	if err != nil {
		return fmt.Errorf("init splitter: %w", err)
	}

	docSvc := document.NewService(docRepo, splitter, index, cfg.DocumentDeletePageSize)
	if cfg.RabbitEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return fmt.Errorf("rabbit publisher: %w", err)
		}
		defer pub.Close()
		docSvc.SetDeletionQueue(pub)
	}

	h := handlers.NewHandler(chatSvc, docSvc, cfg.MaxUploadBytes)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, httpapi.Options{JWTSecret: cfg.JWTSecret}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("provider", cfg.AIProvider).
			Str("model", cfg.Model()).
			Str("conversation_store", cfg.ConversationStore).
			Str("vector_index", cfg.VectorIndex).
			Bool("streaming", chatSvc.Capabilities().Streaming).
			Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}

func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	// Register Ollama (default)
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, orDefault(model, cfg.OllamaModel)), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.OpenRouterAPIKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required")
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			orDefault(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("anthropic", func(_ context.Context, model string) (ai.Provider, error) {
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required")
		}
		return ai.NewAnthropicProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey,
			orDefault(model, cfg.AnthropicModel), cfg.AnthropicMaxTokens), nil
	})
	return reg
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func newConversationStore(ctx context.Context, cfg config.Config, gdb *gorm.DB) (conversation.Store, func(), error) {
	switch cfg.ConversationStore {
	case "redis":
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	case "sql":
		repo := chat.NewRepo(gdb)
		if err := repo.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil
	default:
		return conversation.NewMemoryStore(), func() {}, nil
	}
}

func newIndex(ctx context.Context, cfg config.Config, embedder embedding.Embedder) (vectorindex.Index, error) {
	if cfg.VectorIndex != "pgvector" {
		return vectorindex.NewMemory(embedder), nil
	}
	vdb, err := db.Connect("postgres", cfg.VectorDSN)
	if err != nil {
		return nil, err
	}
	idx := vectorindex.NewPGVector(vdb, embedder)
	if err := idx.Migrate(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}
