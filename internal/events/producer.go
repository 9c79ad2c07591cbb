package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
	Close() error
}

// KafkaProducer lazily manages writers per topic.
type KafkaProducer struct {
	brokers []string
	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a KafkaProducer.
func NewKafkaProducer(brokers []string) *KafkaProducer {
	return &KafkaProducer{
		brokers: brokers,
		writers: make(map[string]*kafka.Writer),
	}
}

// WriteMessages writes messages to topic, creating its writer on first use.
func (p *KafkaProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	return p.writerForTopic(topic).WriteMessages(ctx, msgs...)
}

func (p *KafkaProducer) writerForTopic(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if writer, ok := p.writers[topic]; ok {
		return writer
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(p.brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = writer
	return writer
}

// Close releases all writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.writers, topic)
	}
	return firstErr
}

// KafkaPublisher validates events against their schema and writes them to a
// single topic, keyed for per-run ordering.
type KafkaPublisher struct {
	writer    messageWriter
	topic     string
	validator *Validator
}

// NewKafkaPublisher constructs a KafkaPublisher over writer.
func NewKafkaPublisher(writer messageWriter, topic string) (*KafkaPublisher, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{writer: writer, topic: topic, validator: validator}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	if err := p.validator.Validate(evt.Type, payload); err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.Key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	return p.writer.WriteMessages(ctx, p.topic, msg)
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
