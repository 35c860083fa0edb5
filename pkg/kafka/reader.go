// Package kafka constructs the segmentio/kafka-go reader and writer used
// by the event pipeline and provides JSON codec helpers.
package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/bookworks/booksearch/pkg/config"
)

// NewReader creates a consumer-group reader for the given topic. The group
// starts from the earliest offset so a fresh deployment backfills the
// index from the topic's retained history.
func NewReader(cfg config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
