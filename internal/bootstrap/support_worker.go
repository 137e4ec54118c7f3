package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"support_server/adapter/in/worker"
	"support_server/adapter/out/messaging"
	"support_server/config"
	"support_server/pkg/logger"
)

// Worker runs the background side: polling ingestion sources and drafting answers for
// requests that enter operator review.
type Worker struct {
	poller   *worker.IngestPoller
	consumer *messaging.Consumer
	log      *logger.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	w := &Worker{log: logger.WithField("component", "worker")}

	sources := deps.MessageSources()
	switch {
	case !cfg.PollEnabled:
		w.log.Info("Source polling disabled")
	case len(sources) == 0:
		w.log.Warn("No ingestion sources configured, polling disabled")
	default:
		w.poller = worker.NewIngestPoller(deps.Intake, worker.PollerConfig{
			Interval:  cfg.PollInterval,
			BatchSize: cfg.PollBatchSize,
			Timeout:   cfg.PollTimeout,
		}, sources...)
	}

	switch {
	case deps.Redis == nil:
		w.log.Warn("Redis not available, answer drafting disabled")
	case deps.Answers == nil:
		w.log.Warn("OPENAI_API_KEY not set, answer drafting disabled")
	default:
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:      cfg.ConsumerGroup,
			Consumer:   cfg.ConsumerName,
			Streams:    []string{cfg.StreamRequests},
			Handler:    worker.NewAnswerProcessor(deps.Answers),
			Logger:     w.log.Zerolog(),
			BatchSize:  cfg.ConsumerBatchSize,
			Block:      time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			Workers:    cfg.AnswerWorkers,
			MaxRetries: cfg.ConsumerMaxRetries,
		})
		w.log.Info("Answer consumer configured on %s (%d workers)", cfg.StreamRequests, cfg.AnswerWorkers)
	}

	return w
}

// Run launches the loops and blocks until ctx is cancelled and every loop has returned.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup

	if w.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.poller.Run(ctx)
		}()
	}

	if w.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.WithError(err).Error("Answer consumer stopped")
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	w.log.Info("Worker stopped")
}
