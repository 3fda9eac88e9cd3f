package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/config"
	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/hub"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	subscriberName = "kafka-sink"
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	batchTimeout   = 10 * time.Millisecond
	maxBatch       = 256
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscriber is the subset of *hub.Hub used by Writer.
type Subscriber interface {
	Subscribe(name string) *hub.Subscription
	Unsubscribe(sub *hub.Subscription)
}

// Writer forwards committed mutation events to a Kafka topic so downstream
// systems can consume the change stream.
type Writer struct {
	writer  messageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewWriter creates a Kafka producer for the configured event topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger, metrics: metrics}
}

// Run subscribes to the hub and writes every mutation event until ctx is
// cancelled. If the hub drops the subscription because the broker is too
// slow, Run logs the gap and subscribes again after a backoff.
func (w *Writer) Run(ctx context.Context, source Subscriber) error {
	backoff := initialBackoff
	for {
		sub := source.Subscribe(subscriberName)
		forwarded := w.forward(ctx, sub)
		source.Unsubscribe(sub)

		if ctx.Err() != nil {
			return nil
		}
		if forwarded > 0 {
			backoff = initialBackoff
		}
		w.logger.Warn("event subscription lost, resubscribing", "backoff", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

// forward drains sub until it closes or ctx ends and returns how many events
// it wrote. Events already queued behind the one received are written in the
// same call so a slow broker round trip does not back up the subscription.
func (w *Writer) forward(ctx context.Context, sub *hub.Subscription) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case ev, ok := <-sub.Events():
			if !ok {
				return n
			}
			batch, open := drain(sub, ev)
			n += w.writeBatch(ctx, batch)
			if !open {
				return n
			}
		}
	}
}

// drain collects first plus whatever is already waiting on sub without
// blocking. It reports false once the subscription has been closed.
func drain(sub *hub.Subscription, first domain.Event) ([]domain.Event, bool) {
	batch := []domain.Event{first}
	for len(batch) < maxBatch {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return batch, false
			}
			batch = append(batch, ev)
		default:
			return batch, true
		}
	}
	return batch, true
}

// writeBatch writes the mutation events of batch in one call and returns how
// many were written.
func (w *Writer) writeBatch(ctx context.Context, batch []domain.Event) int {
	msgs := make([]kafkago.Message, 0, len(batch))
	for _, ev := range batch {
		if !ev.Type.IsMutation() {
			continue
		}
		msg, err := serializeToMessage(ev)
		if err != nil {
			w.metrics.KafkaForwardErrors.Inc()
			w.logger.Error("serialize event failed", "error", err, "type", ev.Type, "seq", ev.Seq)
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return 0
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		w.metrics.KafkaForwardErrors.Add(float64(len(msgs)))
		w.logger.Error("forward events failed", "error", err, "count", len(msgs),
			"first_seq", batch[0].Seq, "last_seq", batch[len(batch)-1].Seq)
		return 0
	}
	w.metrics.KafkaEventsForwarded.Add(float64(len(msgs)))
	return len(msgs)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an event into a Kafka message keyed by record
// id, so every change to one record lands on the same partition in order.
func serializeToMessage(ev domain.Event) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s event: %w", ev.Type, err)
	}
	return kafkago.Message{
		Key:   []byte(ev.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "seq", Value: []byte(strconv.FormatUint(ev.Seq, 10))},
		},
	}, nil
}
