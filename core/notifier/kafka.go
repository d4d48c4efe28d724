/*Package notifier publishes model and record lifecycle events to Kafka.

Notifications are fire and forget: a failed publish is logged and never
fails the request that produced it.
*/
package notifier

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/lowkey-tech/basis/core"
	"github.com/lowkey-tech/basis/core/logger"
)

const publishTimeout = 5 * time.Second

// KafkaNotifier implements core.Notifier on top of a Kafka topic
type KafkaNotifier struct {
	writer *kafka.Writer
}

// MustNewKafka creates a notifier writing to the given brokers and topic
func MustNewKafka(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 {
		panic("kafka notifier: brokers are missing")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Notify publishes one event. The key is "{resource}:{operation}" so all
// events of one resource and kind land in the same partition.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		err := n.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(resource + ":" + string(operation)),
			Value: payload,
		})
		if err != nil {
			logger.Default().WithError(err).Errorln("notifier: cannot publish event for", resource)
		}
	}()
}

// Close flushes and closes the underlying writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
