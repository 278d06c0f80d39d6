package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/tracing"
)

// ErrPoisonMessage marks a message that can never be processed. It is committed and dropped.
var ErrPoisonMessage = errors.New("poison message")

// MessageHandler processes one fetched message
type MessageHandler func(ctx context.Context, msg *IncomingMessage) error

// IncomingMessage is a fetched Kafka message
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// RetryBackoff is the pause after a failed message before it is fetched again
	RetryBackoff time.Duration
}

// Consumer fetches messages and commits them after the handler succeeds
type Consumer struct {
	reader  *kafka.Reader
	logger  ectologger.Logger
	handler MessageHandler
	backoff time.Duration
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})

	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	return &Consumer{
		reader:  reader,
		logger:  logger,
		handler: handler,
		backoff: backoff,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
		"group": c.reader.Config().GroupID,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			continue
		}

		if !c.processMessage(ctx, msg) {
			// uncommitted messages are redelivered after a rebalance or restart
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
		}
	}
}

// processMessage reports whether the message was committed
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) bool {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processMessage")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	incoming := &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}

	err := c.handler(ctx, incoming)
	switch {
	case err == nil:
		metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "success").Inc()
	case errors.Is(err, ErrPoisonMessage):
		metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "dropped").Inc()
		log.WithError(err).Warn("Dropping message that cannot be processed")
	default:
		// not committed, so the message is retried
		metrics.KafkaMessagesConsumed.WithLabelValues(msg.Topic, "error").Inc()
		log.WithError(err).Error("Failed to process message (not committing)")
		tracing.RecordError(span, err)
		return false
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to commit message")
	}
	return true
}

// Health reports whether the consumer has a reader
func (c *Consumer) Health() bool {
	return c.reader != nil
}
