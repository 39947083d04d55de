// Package runevents publishes a Kafka record for every applied route run.
package runevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type Event struct {
	RunID    string    `json:"run_id"`
	Seq      uint64    `json:"seq"`
	Segments int       `json:"segments"`
	Matched  int       `json:"matched"`
	TS       time.Time `json:"ts"`
}

// Sink receives run events. Publish must not block.
type Sink interface {
	Publish(ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

type Publisher struct {
	logger   *slog.Logger
	topic    string
	events   chan Event
	prod     sarama.AsyncProducer
	stopped  chan struct{}
	errsDone chan struct{}
}

var _ Sink = (*Publisher)(nil)

func NewConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}

func NewPublisher(logger *slog.Logger, brokers []string, topic string, queueSize int) (*Publisher, error) {
	prod, err := sarama.NewAsyncProducer(brokers, NewConfig())
	if err != nil {
		return nil, fmt.Errorf("runevents: create async producer: %w", err)
	}
	return NewWithProducer(logger, prod, topic, queueSize), nil
}

// NewWithProducer wraps an existing producer; tests pass a sarama mock.
func NewWithProducer(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		logger:   logger,
		topic:    topic,
		events:   make(chan Event, queueSize),
		prod:     prod,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("runevents: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.RunID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errsDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("runevents: producer error", "err", err)
			}
		}
	}()

	return p
}

func (p *Publisher) Publish(ev Event) {
	select {
	case p.events <- ev:
	default:
		// queue full, drop rather than block the run
		p.logger.Debug("runevents: queue full, event dropped", "run_id", ev.RunID)
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("runevents: close producer: %w", err)
	}
	<-p.errsDone
	return nil
}
