package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotPublished(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, "snapshots")
	require.NoError(t, err)

	publisher := NewPublisher(pubSub, "snapshots")
	ev := SnapshotPublished{
		RequestID:  "3f1c",
		Backend:    "flat",
		SourceName: "report.pdf",
		Embedded:   12,
		Objects:    []string{"3f1c/index.flat"},
	}
	require.NoError(t, publisher.SnapshotPublished(ctx, ev))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, EventSnapshotPublished, msg.Metadata.Get("event"))
		assert.Equal(t, "3f1c", msg.Metadata.Get("request_id"))

		var got SnapshotPublished
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, ev, got)
	case <-ctx.Done():
		t.Fatal("event not delivered")
	}
}

func TestNewPublisherDefaultTopic(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	assert.Equal(t, DefaultTopic, NewPublisher(pubSub, "").topic)
}
