package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func TestBuildMessageAddsCompletionAttributes(t *testing.T) {
	t.Parallel()

	evt := crawler.CompletionEvent{SessionID: "s1", Source: "search", Outcome: crawler.OutcomeCompleted}
	msg, err := buildMessage(evt)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"session_id": "s1", "source": "search", "outcome": "completed"}, msg.Attributes)

	var decoded crawler.CompletionEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, "s1", decoded.SessionID)
}

func TestBuildMessageRejectsUnencodable(t *testing.T) {
	t.Parallel()

	_, err := buildMessage(map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "topic", "x")
	require.ErrorContains(t, err, "not configured")
}
