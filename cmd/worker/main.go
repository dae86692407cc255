package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/config"
	"github.com/suPer8Hu/ai-chatdoc/internal/db"
	"github.com/suPer8Hu/ai-chatdoc/internal/document"
	"github.com/suPer8Hu/ai-chatdoc/internal/embedding"
	"github.com/suPer8Hu/ai-chatdoc/internal/logger"
	"github.com/suPer8Hu/ai-chatdoc/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-chatdoc/internal/vectorindex"
	"github.com/suPer8Hu/ai-chatdoc/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("worker exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := logger.New(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	// Orphaned chunks only exist in a shared index; an in-process one dies
	// with the server.
	if cfg.VectorIndex != "pgvector" {
		return fmt.Errorf("worker requires VECTOR_INDEX=pgvector, got %q", cfg.VectorIndex)
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	vdb, err := db.Connect("postgres", cfg.VectorDSN)
	if err != nil {
		return fmt.Errorf("connect vector db: %w", err)
	}

	embedder := embedding.NewOllamaClient(cfg.EmbeddingBaseURL, cfg.EmbeddingModel,
		embedding.WithConcurrency(cfg.EmbeddingConcurrency),
		embedding.WithCacheSize(0),
	)
	index := vectorindex.NewPGVector(vdb, embedder)
	docs := document.NewService(document.NewRepo(gdb), nil, index, cfg.DocumentDeletePageSize)

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return fmt.Errorf("rabbit publisher: %w", err)
	}
	defer pub.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("rabbit dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbit channel: %w", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("queue", cfg.RabbitQueue).
		Int("concurrency", concurrency).
		Int("max_attempts", cfg.DeletionMaxAttempts).
		Msg("worker started")

	h := worker.NewHandler(docs, pub, cfg.DeletionMaxAttempts, cfg.DeletionRetryDelay)
	worker.Run(ctx, msgs, h, concurrency)
	return nil
}
