package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler processes jobs from streams.
type JobHandler interface {
	Handle(ctx context.Context, stream string, data []byte) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, stream string, data []byte) error

func (f JobHandlerFunc) Handle(ctx context.Context, stream string, data []byte) error {
	return f(ctx, stream, data)
}

// Consumer consumes messages from Redis Streams through a consumer group.
type Consumer struct {
	client   *redis.Client
	group    string
	consumer string
	streams  []string
	handler  JobHandler
	log      zerolog.Logger

	batchSize int64
	block     time.Duration
	workers   int

	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Streams  []string
	Handler  JobHandler
	Logger   zerolog.Logger

	BatchSize int
	Block     time.Duration
	// Workers bounds how many messages of one batch are handled concurrently.
	Workers int

	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		streams:              cfg.Streams,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		batchSize:            int64(cfg.BatchSize),
		block:                cfg.Block,
		workers:              cfg.Workers,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.batchSize <= 0 {
		c.batchSize = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("stream consumer: no handler")
	}

	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Strs("streams", c.streams).
		Int("workers", c.workers).
		Msg("starting consumer")

	for _, stream := range c.streams {
		if err := createGroup(ctx, c.client, stream, c.group); err != nil {
			c.log.Warn().Err(err).Str("stream", stream).Msg("error creating consumer group")
		}
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from streams")
			sleep(ctx, time.Second)
			continue
		}

		for _, stream := range result {
			c.handleBatch(ctx, stream.Stream, stream.Messages)
		}
	}
}

// streamMessage pairs an entry with the stream it was read from.
type streamMessage struct {
	stream string
	msg    redis.XMessage
}

// messageWorker implements pool.Worker for stream entries.
type messageWorker struct {
	c *Consumer
}

func (w *messageWorker) Do(ctx context.Context, m streamMessage) error {
	return w.c.handleAndAck(ctx, m.stream, m.msg)
}

// handleBatch processes one XREADGROUP batch, concurrently when more than one worker is configured.
// Failed messages stay pending and are retried by the pending processor.
func (c *Consumer) handleBatch(ctx context.Context, stream string, msgs []redis.XMessage) {
	if c.workers == 1 || len(msgs) == 1 {
		for _, msg := range msgs {
			_ = c.handleAndAck(ctx, stream, msg)
		}
		return
	}

	wg := pool.New[streamMessage](c.workers, &messageWorker{c: c}).
		WithWorkerChanSize(len(msgs)).
		WithContinueOnError()
	if err := wg.Go(ctx); err != nil {
		c.log.Error().Err(err).Msg("failed to start batch pool")
		return
	}
	for _, msg := range msgs {
		wg.Submit(streamMessage{stream: stream, msg: msg})
	}
	if err := wg.Close(ctx); err != nil {
		c.log.Debug().Err(err).Str("stream", stream).Msg("batch finished with errors")
	}
}

func (c *Consumer) handleAndAck(ctx context.Context, stream string, msg redis.XMessage) error {
	if err := c.processMessage(ctx, stream, msg); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error processing message")
		return err
	}

	if err := c.client.XAck(ctx, stream, c.group, msg.ID).Err(); err != nil {
		c.log.Error().
			Err(err).
			Str("stream", stream).
			Str("id", msg.ID).
			Msg("error acknowledging message")
		return err
	}
	return nil
}

// processPendingMessages periodically reclaims stuck pending messages.
func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	c.log.Info().
		Dur("check_interval", c.pendingCheckInterval).
		Dur("idle_time", c.pendingIdleTime).
		Int("max_retries", c.maxRetries).
		Msg("starting pending message processor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimAndProcessPending(ctx)
		}
	}
}

// claimAndProcessPending claims messages idle longer than pendingIdleTime and handles them again.
// Messages delivered maxRetries times are moved to the dead-letter stream.
func (c *Consumer) claimAndProcessPending(ctx context.Context) {
	for _, stream := range c.streams {
		pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Error().Err(err).Str("stream", stream).Msg("error getting pending messages")
			}
			continue
		}

		for _, p := range pending {
			if p.Idle < c.pendingIdleTime {
				continue
			}

			if int(p.RetryCount) >= c.maxRetries {
				c.log.Warn().
					Str("stream", stream).
					Str("id", p.ID).
					Int64("retries", p.RetryCount).
					Msg("message exceeded max retries, moving to DLQ")

				if err := c.moveToDeadLetterQueue(ctx, stream, p.ID); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
				}
				c.client.XAck(ctx, stream, c.group, p.ID)
				continue
			}

			claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   stream,
				Group:    c.group,
				Consumer: c.consumer,
				MinIdle:  c.pendingIdleTime,
				Messages: []string{p.ID},
			}).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
				continue
			}

			for _, msg := range claimed {
				if err := c.handleAndAck(ctx, stream, msg); err == nil {
					c.log.Info().Str("stream", stream).Str("id", msg.ID).Msg("reprocessed pending message")
				}
			}
		}
	}
}

// readMessages reads new messages from all streams using XREADGROUP.
func (c *Consumer) readMessages(ctx context.Context) ([]redis.XStream, error) {
	if len(c.streams) == 0 {
		return nil, redis.Nil
	}

	args := make([]string, len(c.streams)*2)
	for i, stream := range c.streams {
		args[i] = stream
		args[len(c.streams)+i] = ">"
	}

	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  args,
		Count:    c.batchSize,
		Block:    c.block,
	}).Result()
}

func (c *Consumer) processMessage(ctx context.Context, stream string, msg redis.XMessage) error {
	data, err := messageData(msg)
	if err != nil {
		return err
	}
	return c.handler.Handle(ctx, stream, data)
}

// moveToDeadLetterQueue copies a failed message to dlq:{stream}.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, stream string, msgID string) error {
	messages, err := c.client.XRange(ctx, stream, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to read message for DLQ: %w", err)
	}
	if len(messages) == 0 {
		return fmt.Errorf("message %s not found in stream %s", msgID, stream)
	}
	return deadLetter(ctx, c.client, stream, c.group, c.consumer, messages[0])
}

func deadLetter(ctx context.Context, client *redis.Client, stream, group, consumer string, msg redis.XMessage) error {
	values := map[string]any{
		"original_stream": stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        consumer,
		"group":           group,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(stream),
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}
	return nil
}

// DeadLetterStream names the stream holding messages that could not be processed.
func DeadLetterStream(stream string) string {
	return "dlq:" + stream
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
