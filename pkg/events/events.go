// Package events fans pipeline progress out to live subscribers and Kafka
package events

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/rowan/pkg/kafka"
	"github.com/Ramsey-B/rowan/pkg/metrics"
	"github.com/Ramsey-B/rowan/pkg/models"
)

// DefaultBuffer is the per-subscriber channel size of a Hub
const DefaultBuffer = 64

// Publisher receives progress events. Publishing never blocks the pipeline and never fails it.
type Publisher interface {
	Publish(ctx context.Context, event models.ProgressEvent)
}

// Hub broadcasts progress events to in-process subscribers. There is no replay: a
// subscriber sees only events published while subscribed, and a subscriber that falls
// behind loses events rather than slowing publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan models.ProgressEvent
	buffer int
	logger ectologger.Logger
}

func NewHub(logger ectologger.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]chan models.ProgressEvent),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the channel and is
// safe to call more than once.
func (h *Hub) Subscribe() (<-chan models.ProgressEvent, func()) {
	id := uuid.NewString()
	ch := make(chan models.ProgressEvent, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(ctx context.Context, event models.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- event:
			metrics.ProgressEventsPublished.WithLabelValues("hub", string(event.Status)).Inc()
		default:
			metrics.ProgressEventsPublished.WithLabelValues("hub", "dropped").Inc()
			h.logger.WithContext(ctx).WithField("subscriber", id).Debug("Progress subscriber is behind, dropping event")
		}
	}
}

// KafkaEmitter publishes progress events to a Kafka topic keyed by job id, or by batch
// id for batch level events
type KafkaEmitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
	timeout  time.Duration
}

func NewKafkaEmitter(producer *kafka.Producer, logger ectologger.Logger) *KafkaEmitter {
	return &KafkaEmitter{
		producer: producer,
		logger:   logger,
		timeout:  5 * time.Second,
	}
}

func (e *KafkaEmitter) Publish(ctx context.Context, event models.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	key := event.BatchID
	if event.JobID != 0 {
		key = strconv.FormatInt(event.JobID, 10)
	}
	if err := e.producer.PublishJSON(ctx, key, "progress."+string(event.Status), event); err != nil {
		metrics.ProgressEventsPublished.WithLabelValues("kafka", "error").Inc()
		e.logger.WithContext(ctx).WithError(err).Warn("Failed to publish progress event")
		return
	}
	metrics.ProgressEventsPublished.WithLabelValues("kafka", string(event.Status)).Inc()
}

// Multi publishes to every publisher in order
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event models.ProgressEvent) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, event)
		}
	}
}

// Discard drops every event
type Discard struct{}

func (Discard) Publish(context.Context, models.ProgressEvent) {}
