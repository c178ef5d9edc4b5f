// Package notify provides notifier implementations for committed mutations
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/distill-api/distill/core"
	"github.com/distill-api/distill/core/logger"
)

// KafkaNotifier publishes every committed mutation to a Kafka topic. The
// message key is "model.operation", the value the serialized object, so
// consumers can rebuild state per object with log compaction.
type KafkaNotifier struct {
	writer *kafka.Writer
}

var _ core.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier creates a notifier writing to the given brokers and topic
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

// Notify publishes one mutation. Publishing is asynchronous and best effort;
// a failed delivery is logged, never surfaced to the request.
func (n *KafkaNotifier) Notify(model string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(model + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorln("cannot notify", model, operation)
	}
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
