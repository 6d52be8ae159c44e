// Package publish forwards access-control change events to external sinks.
package publish

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/types"
	"github.com/faredeal/accessctl/internal/metrics"
)

const (
	sinkName       = "kafka"
	defaultBuffer  = 256
	defaultTimeout = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic from a background goroutine. Publish
// never blocks the caller: when the buffer is full the event is dropped and
// counted.
type KafkaSink struct {
	writer  messageWriter
	logger  *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue     chan types.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewKafkaSink writes to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger, m *metrics.Metrics) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return newSink(w, logger, m, defaultBuffer)
}

func newSink(w messageWriter, logger *zap.Logger, m *metrics.Metrics, buffer int) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &KafkaSink{
		writer:  w,
		logger:  logger,
		metrics: m,
		timeout: defaultTimeout,
		queue:   make(chan types.Event, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Publish has the subscriber signature so it can be passed to Subscribe.
func (s *KafkaSink) Publish(ev types.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.count("dropped")
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.count("dropped")
		s.logger.Warn("event sink buffer full, dropping event", zap.String("event", string(ev.Type)))
	}
}

// Close flushes queued events and closes the writer.
func (s *KafkaSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()

		<-s.done
		err = s.writer.Close()
	})
	return err
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *KafkaSink) write(ev types.Event) {
	value, err := json.Marshal(ev)
	if err != nil {
		s.count("error")
		s.logger.Error("encode event", zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}

	key := string(ev.Type)
	if ev.EntityID != "" {
		key = ev.EntityID
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}); err != nil {
		s.count("error")
		s.logger.Error("publish event", zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}
	s.count("ok")
}

func (s *KafkaSink) count(outcome string) {
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(sinkName, outcome).Inc()
	}
}
