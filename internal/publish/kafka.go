package publish

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *Kafka) Name() string {
	return "kafka"
}

// Publish keys messages by camera so one camera's events stay ordered within a partition.
func (k *Kafka) Publish(ctx context.Context, ev model.DetectionEvent) error {
	payload, err := encode(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.CameraID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
