// Package events announces published snapshots on a message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	DefaultTopic           = "snapshot.published"
	EventSnapshotPublished = "snapshot.published"
)

// SnapshotPublished is the payload sent after a snapshot reached object storage
type SnapshotPublished struct {
	RequestID   string    `json:"request_id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Backend     string    `json:"backend"`
	SourceName  string    `json:"source_name"`
	Embedded    int       `json:"embedded"`
	Objects     []string  `json:"objects"`
	PublishedAt time.Time `json:"published_at"`
}

type Publisher struct {
	publisher message.Publisher
	topic     string
}

func NewPublisher(publisher message.Publisher, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{publisher: publisher, topic: topic}
}

// NewAMQPPublisher connects a durable queue publisher to url.
func NewAMQPPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(url), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}
	return publisher, nil
}

// SnapshotPublished publishes ev to the configured topic.
func (p *Publisher) SnapshotPublished(ctx context.Context, ev SnapshotPublished) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event", EventSnapshotPublished)
	msg.Metadata.Set("request_id", ev.RequestID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
