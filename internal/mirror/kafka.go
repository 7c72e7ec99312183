package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/log"
)

// KafkaPublisher implements Publisher over a single Kafka topic. The
// mirror channel becomes the message key, which keeps per-channel
// ordering inside a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

// NewKafkaPublisher creates a producer against the configured brokers.
func NewKafkaPublisher(cfg config.MirrorKafkaConfig) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}
	go kp.deliveryReportHandler()

	return kp, nil
}

// deliveryReportHandler drains producer events and logs failed
// deliveries.
func (k *KafkaPublisher) deliveryReportHandler() {
	for e := range k.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.L().Error().
					Err(ev.TopicPartition.Error).
					Str(log.FieldChannel, string(ev.Key)).
					Msg("mirror kafka delivery failed")
			}
		}
	}
	close(k.doneCh)
}

// Publish produces the event onto the mirror topic keyed by channel.
func (k *KafkaPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &k.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(channel),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Enabled reports that this driver really publishes.
func (k *KafkaPublisher) Enabled() bool {
	return true
}

// Close flushes outstanding messages and shuts the producer down.
func (k *KafkaPublisher) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}
