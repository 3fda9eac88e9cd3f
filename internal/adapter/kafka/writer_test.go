package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/disaster-coordination-service/internal/hub"
	"github.com/couchcryptid/disaster-coordination-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu    sync.Mutex
	msgs  []kafkago.Message
	calls int
	err   error

	// When set, every call announces itself on entered and then waits on
	// release, like a broker round trip that takes as long as the test wants.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeWriter) Close() error { return nil }

func (f *fakeWriter) messages() []kafkago.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafkago.Message(nil), f.msgs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func created(seq uint64, id string) domain.Event {
	d := domain.Disaster{ID: id, Title: "NYC Flood", Tags: []string{"flood"}, AuditTrail: []domain.AuditEntry{}}
	return domain.Event{Type: domain.EventDisasterCreated, Seq: seq, ID: id, Disaster: &d}
}

func startWriter(t *testing.T, fw *fakeWriter) (*hub.Hub, *observability.Metrics, func()) {
	t.Helper()
	m := observability.NewMetricsForTesting()
	h := hub.New(16, discardLogger(), m)
	w := &Writer{writer: fw, logger: discardLogger(), metrics: m}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, h) }()
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	return h, m, func() {
		cancel()
		require.NoError(t, <-errCh)
	}
}

func TestSerializeToMessage(t *testing.T) {
	msg, err := serializeToMessage(created(7, "d-1"))
	require.NoError(t, err)

	assert.Equal(t, []byte("d-1"), msg.Key)
	assert.Contains(t, string(msg.Value), `"type":"disaster_created"`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("disaster_created"), msg.Headers[0].Value)
	assert.Equal(t, "seq", msg.Headers[1].Key)
	assert.Equal(t, []byte("7"), msg.Headers[1].Value)

	var back domain.Event
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, uint64(7), back.Seq)
}

func TestSerializeToMessage_Delete(t *testing.T) {
	msg, err := serializeToMessage(domain.Event{Type: domain.EventDisasterDeleted, Seq: 2, ID: "d-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"disaster_deleted","seq":2,"id":"d-1","data":{"id":"d-1","deleted":true}}`, string(msg.Value))
}

func TestWriter_ForwardsMutationsOnly(t *testing.T) {
	fw := &fakeWriter{}
	h, m, stop := startWriter(t, fw)

	h.Publish(created(1, "d-1"))
	h.Publish(domain.Event{Type: domain.EventSocialMediaUpdated, ID: "d-1", Payload: []string{}})
	h.Publish(domain.Event{Type: domain.EventDisasterDeleted, Seq: 2, ID: "d-1"})

	require.Eventually(t, func() bool { return len(fw.messages()) == 2 }, time.Second, 5*time.Millisecond)
	stop()

	msgs := fw.messages()
	assert.Equal(t, []byte("disaster_created"), msgs[0].Headers[0].Value)
	assert.Equal(t, []byte("disaster_deleted"), msgs[1].Headers[0].Value)
	assert.InDelta(t, 2, testutil.ToFloat64(m.KafkaEventsForwarded), 0)
}

func TestWriter_CountsWriteErrors(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	h, m, stop := startWriter(t, fw)

	h.Publish(created(1, "d-1"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.KafkaForwardErrors) == 1
	}, time.Second, 5*time.Millisecond)
	stop()
	assert.Empty(t, fw.messages())
}

func TestWriter_StopsWhenHubCloses(t *testing.T) {
	fw := &fakeWriter{}
	h, _, stop := startWriter(t, fw)
	h.Close()
	stop()
}

func TestWriter_BatchesEventsQueuedDuringSlowWrite(t *testing.T) {
	fw := &fakeWriter{entered: make(chan struct{}), release: make(chan struct{})}
	h, m, stop := startWriter(t, fw)

	waitEntered := func() {
		t.Helper()
		select {
		case <-fw.entered:
		case <-time.After(time.Second):
			t.Fatal("writer never called WriteMessages")
		}
	}
	publish := func(from, to uint64) {
		for seq := from; seq <= to; seq++ {
			h.Publish(created(seq, fmt.Sprintf("d-%d", seq)))
		}
	}

	// While each write is in flight a full buffer's worth of events queues
	// up. One event per write would overflow the subscription.
	publish(1, 1)
	waitEntered()
	publish(2, 17)
	fw.release <- struct{}{}
	waitEntered()
	publish(18, 33)
	fw.release <- struct{}{}
	waitEntered()
	publish(34, 40)
	fw.release <- struct{}{}
	waitEntered()
	fw.release <- struct{}{}

	require.Eventually(t, func() bool { return len(fw.messages()) == 40 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Count(), "subscription was never dropped")
	stop()

	for i, msg := range fw.messages() {
		assert.Equal(t, []byte(strconv.Itoa(i+1)), msg.Headers[1].Value)
	}
	assert.Equal(t, 4, fw.callCount())
	assert.InDelta(t, 40, testutil.ToFloat64(m.KafkaEventsForwarded), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.SubscribersDropped), 0)
}
