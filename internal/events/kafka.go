package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrPublisherClosed = errors.New("events: publisher closed")

// KafkaPublisher queues envelopes and writes them from a single goroutine,
// keyed by correlation id so one order's events stay ordered.
type KafkaPublisher struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewKafkaPublisher(brokers []string, topic string, buf int, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		inbox: make(chan kafka.Message, buf),
		log:   log,
		done:  make(chan struct{}),
	}
}

// Start runs the writer loop until Close drains the queue.
func (p *KafkaPublisher) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Warn("events: kafka write failed", zap.String("key", string(m.Key)), zap.Error(err))
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("events: kafka writer close", zap.Error(err))
		}
	}()
}

// Publish enqueues e. A full queue drops the event rather than stalling the request.
func (p *KafkaPublisher) Publish(_ context.Context, e Envelope) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	m := kafka.Message{
		Key:   []byte(e.CorrelationID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return errors.New("events: queue full, dropped " + e.EventType)
	}
}

// Close stops accepting events and waits for queued ones to be flushed.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}
