package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/fenwray/flowvid/internal/videostore"
)

// StatusChanged is the wire format of one lifecycle transition.
type StatusChanged struct {
	EventID    string    `json:"event_id"`
	VideoID    string    `json:"video_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaPublisher writes status-change events to a Kafka topic, keyed by
// video id so one video's transitions stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafkago.Writer
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("brokers list is empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is empty")
	}
	return &KafkaPublisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireOne,
		},
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}, nil
}

func (p *KafkaPublisher) PublishStatusChange(ctx context.Context, videoID string, from, to videostore.Status) error {
	event := StatusChanged{
		EventID:    uuid.NewString(),
		VideoID:    videoID,
		From:       string(from),
		To:         string(to),
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(videoID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	p.logger.Debug().Str("video_id", videoID).Str("to", string(to)).Msg("status event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Noop discards events; used when no brokers are configured.
type Noop struct{}

func (Noop) PublishStatusChange(ctx context.Context, videoID string, from, to videostore.Status) error {
	return nil
}
