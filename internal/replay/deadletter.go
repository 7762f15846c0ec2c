package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pawsuite/kennelsync/internal/core"
)

// KafkaDeadLetter publishes operations that exhausted their replay attempts
// to a Kafka topic for offline inspection. Messages are keyed by operation
// type so one category's failures land in one partition.
type KafkaDeadLetter struct {
	writer *kafka.Writer
}

// NewKafkaDeadLetter creates a dead-letter sink writing to the given topic.
func NewKafkaDeadLetter(brokers []string, topic string) (*KafkaDeadLetter, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return &KafkaDeadLetter{writer: writer}, nil
}

// Publish writes the evicted operation to the dead-letter topic.
func (k *KafkaDeadLetter) Publish(ctx context.Context, op *core.QueuedOperation) error {
	value, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to serialize operation: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(op.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: "operation-id", Value: []byte(strconv.FormatInt(op.ID, 10))},
			{Key: "attempts", Value: []byte(strconv.Itoa(op.Attempts))},
			{Key: "evicted-at", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write dead-letter message: %w", err)
	}

	log.Printf("[KAFKA-DLQ] Published operation #%d (type=%s, attempts=%d)", op.ID, op.Type, op.Attempts)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaDeadLetter) Close() error {
	return k.writer.Close()
}
