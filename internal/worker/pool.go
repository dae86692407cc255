package worker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// JobTimeout bounds a single job. Jobs already started run to completion on
// shutdown, up to this limit.
var JobTimeout = 2 * time.Minute

// Run feeds deliveries to a fixed pool of goroutines until ctx is done or
// the delivery channel closes, then waits for in-flight jobs. Deliveries
// not started before ctx is done go back to the queue untouched.
func Run(ctx context.Context, deliveries <-chan amqp.Delivery, h *Handler, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			logger := log.Logger.With().Int("worker", workerID).Logger()
			wctx := logger.WithContext(ctx)

			for d := range jobs {
				if ctx.Err() != nil {
					requeue(wctx, d)
					continue
				}
				settle(wctx, d, handle(wctx, h, d))
			}
		}(i)
	}

	// dispatcher
	defer func() {
		close(jobs)
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			return
		case d, ok := <-deliveries:
			if !ok {
				log.Warn().Msg("delivery channel closed")
				return
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				requeue(ctx, d)
				log.Info().Msg("worker shutting down")
				return
			}
		}
	}
}

// handle detaches the job from shutdown so a retry that already started is
// settled by its real outcome.
func handle(ctx context.Context, h *Handler, d amqp.Delivery) Outcome {
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), JobTimeout)
	defer cancel()
	return h.Handle(jctx, d.Body)
}

func requeue(ctx context.Context, d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Uint64("delivery_tag", d.DeliveryTag).
			Msg("requeue delivery failed")
	}
}

func settle(ctx context.Context, d amqp.Delivery, outcome Outcome) {
	var err error
	if outcome == DeadLetter {
		err = d.Nack(false, false)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Uint64("delivery_tag", d.DeliveryTag).
			Stringer("outcome", outcome).
			Msg("settle delivery failed")
	}
}
