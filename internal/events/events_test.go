package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "topic", zerolog.Nop())
	require.ErrorContains(t, err, "brokers list is empty")

	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "", zerolog.Nop())
	require.ErrorContains(t, err, "topic is empty")

	publisher, err := NewKafkaPublisher([]string{"localhost:9092"}, "video.status-changed", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, publisher.Close())
}

func TestStatusChanged_WireFormat(t *testing.T) {
	event := StatusChanged{
		EventID:    "e-1",
		VideoID:    "v-1",
		From:       "processing",
		To:         "completed",
		OccurredAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "v-1", decoded["video_id"])
	require.Equal(t, "processing", decoded["from"])
	require.Equal(t, "completed", decoded["to"])
	require.Equal(t, "2026-09-01T12:00:00Z", decoded["occurred_at"])
}
