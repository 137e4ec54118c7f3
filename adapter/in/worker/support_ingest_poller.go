// Package worker runs the background loops: source polling and answer generation.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"support_server/core/domain"
	"support_server/core/port/out"
	"support_server/core/service/intake"
	"support_server/pkg/logger"
)

const (
	DefaultPollInterval  = time.Minute
	DefaultPollBatchSize = 10
	DefaultPollTimeout   = 2 * time.Minute
)

// Ingester turns one inbound message into a persisted request.
type Ingester interface {
	Ingest(ctx context.Context, msg *domain.InboundMessage) (*domain.Request, error)
}

type PollerConfig struct {
	Interval  time.Duration
	BatchSize int
	// Timeout bounds one poll of one source.
	Timeout time.Duration
}

// PollResult counts what one poll did.
type PollResult struct {
	Fetched int
	Created int
	Skipped int
	Failed  int
}

// IngestPoller pulls batches from every source on a fixed interval. At most one poll runs
// at a time; a tick that arrives while a poll is still running is dropped.
type IngestPoller struct {
	ingester Ingester
	sources  []out.MessageSource
	cfg      PollerConfig
	running  atomic.Bool
	log      *logger.Logger
}

func NewIngestPoller(ingester Ingester, cfg PollerConfig, sources ...out.MessageSource) *IngestPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultPollBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	return &IngestPoller{
		ingester: ingester,
		sources:  sources,
		cfg:      cfg,
		log:      logger.WithField("component", "ingest_poller"),
	}
}

// Run polls immediately and then on every tick until ctx is cancelled. Polls run on
// the calling goroutine, so Run returns only after the poll in flight has finished.
// Ticks that fire during a slow poll are dropped by the ticker.
func (p *IngestPoller) Run(ctx context.Context) {
	p.log.Info("Starting (interval %s, batch %d, %d sources)", p.cfg.Interval, p.cfg.BatchSize, len(p.sources))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("Stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce polls every source once. It returns false when another poll was still running.
func (p *IngestPoller) PollOnce(ctx context.Context) (PollResult, bool) {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("Previous poll still running, skipping tick")
		return PollResult{}, false
	}
	defer p.running.Store(false)

	var total PollResult
	for _, src := range p.sources {
		if ctx.Err() != nil {
			break
		}
		r := p.pollSource(ctx, src)
		total.Fetched += r.Fetched
		total.Created += r.Created
		total.Skipped += r.Skipped
		total.Failed += r.Failed
	}
	if total.Fetched > 0 {
		p.log.WithFields(map[string]any{
			"fetched": total.Fetched,
			"created": total.Created,
			"skipped": total.Skipped,
			"failed":  total.Failed,
		}).Info("Poll finished")
	}
	return total, true
}

func (p *IngestPoller) pollSource(ctx context.Context, src out.MessageSource) PollResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	log := p.log.WithField("source", src.Name())
	var result PollResult

	msgs, err := src.Fetch(ctx, p.cfg.BatchSize)
	if err != nil {
		log.WithError(err).Error("Fetch failed")
		return result
	}
	result.Fetched = len(msgs)

	for _, msg := range msgs {
		if ctx.Err() != nil {
			log.Warn("Poll timed out, %d messages left for the next poll", result.Fetched-result.Created-result.Skipped-result.Failed)
			break
		}
		p.handle(ctx, src, msg, &result, log)
	}
	return result
}

// handle acknowledges a message only after its request is persisted, or when it was
// persisted by an earlier poll.
func (p *IngestPoller) handle(ctx context.Context, src out.MessageSource, msg *domain.InboundMessage, result *PollResult, log *logger.Logger) {
	log = log.WithField("message_id", msg.ID)

	req, err := p.ingester.Ingest(ctx, msg)
	switch {
	case errors.Is(err, intake.ErrAlreadyProcessed):
		result.Skipped++
		log.Info("Message already processed, acknowledging")
	case req == nil:
		result.Failed++
		log.WithError(err).Warn("Message not ingested, left for redelivery")
		return
	default:
		result.Created++
		if err != nil {
			log.WithError(err).WithField("request_id", req.ID.String()).
				Warn("Request stored but post-create step failed")
		}
	}

	if ackErr := src.Ack(ctx, msg); ackErr != nil {
		log.WithError(ackErr).Warn("Ack failed, message may be redelivered")
	}
}
