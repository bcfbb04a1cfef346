package emitters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"

	"token-collector/internal/interfaces"
	"token-collector/internal/logger"
	"token-collector/internal/models"
)

var _ interfaces.EventEmitter = (*KafkaEmitter)(nil)

// MessageWriter is the part of *kafka.Writer the emitter uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter implements EventEmitter using Kafka
type KafkaEmitter struct {
	writer  MessageWriter
	timeout time.Duration
	mu      sync.Mutex
}

// NewKafkaEmitter creates a new KafkaEmitter
func NewKafkaEmitter(brokerAddress, topic string, batchSize int, batchTimeout time.Duration) *KafkaEmitter {
	return NewKafkaEmitterWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokerAddress),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
	})
}

// NewKafkaEmitterWithWriter wraps an existing writer
func NewKafkaEmitterWithWriter(writer MessageWriter) *KafkaEmitter {
	return &KafkaEmitter{
		writer:  writer,
		timeout: 10 * time.Second,
	}
}

// EncodeEvent renders an event as the JSON payload published to Kafka
func EncodeEvent(event models.CollectorEvent) ([]byte, error) {
	payload := struct {
		ID        string    `json:"id"`
		Kind      string    `json:"kind"`
		Actor     string    `json:"actor"`
		Subject   string    `json:"subject"`
		Asset     string    `json:"asset,omitempty"`
		Amount    string    `json:"amount,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}{
		ID:        event.ID,
		Kind:      event.Kind.String(),
		Actor:     event.Actor.Hex(),
		Subject:   event.Subject.Hex(),
		Timestamp: event.Timestamp,
	}
	if event.Asset != (common.Address{}) {
		payload.Asset = event.Asset.Hex()
	}
	if event.Amount != nil {
		payload.Amount = event.Amount.String()
	}
	return json.Marshal(payload)
}

func (k *KafkaEmitter) EmitEvent(event models.CollectorEvent) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		return fmt.Errorf("kafka emitter is closed")
	}

	value, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	logger.GetLogger().Debug().
		Str("kind", event.Kind.String()).
		Str("eventID", event.ID).
		Msg("Successfully emitted event to Kafka")
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
