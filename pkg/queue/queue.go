package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher emits domain events for downstream consumers
type Publisher interface {
	Publish(ctx context.Context, topic string, msg interface{}) error
	Close() error
}

// KafkaPublisher publishes JSON-encoded events to Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish marshals msg to JSON and writes it to the topic
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, msg interface{}) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write message to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MockPublisher records published messages for tests
type MockPublisher struct {
	mu       sync.Mutex
	Messages map[string][]interface{}
}

// NewMockPublisher creates an in-memory publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{Messages: make(map[string][]interface{})}
}

func (p *MockPublisher) Publish(_ context.Context, topic string, msg interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages[topic] = append(p.Messages[topic], msg)
	return nil
}

func (p *MockPublisher) Close() error {
	return nil
}

// Published returns the messages recorded for a topic
func (p *MockPublisher) Published(topic string) []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]interface{}, len(p.Messages[topic]))
	copy(out, p.Messages[topic])
	return out
}
