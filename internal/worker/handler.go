package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/ai-chatdoc/internal/metrics"
	"github.com/suPer8Hu/ai-chatdoc/internal/store/rabbitmq"
)

const maxBackoff = 10 * time.Minute

type Outcome int

const (
	// Done: ack.
	Done Outcome = iota
	// Rescheduled: a later attempt was published, ack this one.
	Rescheduled
	// DeadLetter: nack without requeue so the broker routes it to the DLQ.
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Rescheduled:
		return "rescheduled"
	default:
		return "dead_letter"
	}
}

type ChunkDeleter interface {
	RetryChunkDeletion(ctx context.Context, documentID string, chunkIDs []string) error
}

type Rescheduler interface {
	PublishRetry(ctx context.Context, job rabbitmq.DeletionJob, delay time.Duration) error
}

type Handler struct {
	deleter     ChunkDeleter
	rescheduler Rescheduler
	maxAttempts int
	baseDelay   time.Duration
}

func NewHandler(deleter ChunkDeleter, rescheduler Rescheduler, maxAttempts int, baseDelay time.Duration) *Handler {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Handler{
		deleter:     deleter,
		rescheduler: rescheduler,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Backoff doubles per attempt starting at the base delay, capped at ten
// minutes.
func (h *Handler) Backoff(attempt int) time.Duration {
	d := h.baseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Handle processes one delivery body and reports what should happen to it.
func (h *Handler) Handle(ctx context.Context, body []byte) Outcome {
	logger := log.Ctx(ctx)

	var job rabbitmq.DeletionJob
	if err := json.Unmarshal(body, &job); err != nil || job.DocumentID == "" {
		logger.Error().Err(err).Bytes("body", body).Msg("bad deletion job")
		metrics.RecordDeletionRetry("malformed")
		return DeadLetter
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}

	start := time.Now()
	err := h.deleter.RetryChunkDeletion(ctx, job.DocumentID, job.ChunkIDs)
	if err == nil {
		logger.Info().
			Str("document_id", job.DocumentID).
			Int("attempt", job.Attempt).
			Dur("cost", time.Since(start)).
			Msg("orphan chunks deleted")
		metrics.RecordDeletionRetry("succeeded")
		return Done
	}

	if job.Attempt >= h.maxAttempts {
		logger.Error().Err(err).
			Str("document_id", job.DocumentID).
			Int("attempt", job.Attempt).
			Msg("chunk deletion retries exhausted")
		metrics.RecordDeletionRetry("exhausted")
		return DeadLetter
	}

	delay := h.Backoff(job.Attempt)
	next := job
	next.Attempt++
	if perr := h.rescheduler.PublishRetry(ctx, next, delay); perr != nil {
		logger.Error().Err(perr).
			Str("document_id", job.DocumentID).
			Msg("reschedule chunk deletion failed")
		metrics.RecordDeletionRetry("reschedule_failed")
		return DeadLetter
	}

	logger.Warn().Err(err).
		Str("document_id", job.DocumentID).
		Int("next_attempt", next.Attempt).
		Dur("delay", delay).
		Msg("chunk deletion failed, rescheduled")
	metrics.RecordDeletionRetry("rescheduled")
	return Rescheduled
}
