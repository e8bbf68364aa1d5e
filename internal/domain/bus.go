package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type" json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize" json:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl" json:"natsUrl"`
	NATSToken         string `yaml:"natsToken" json:"-"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects" json:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait" json:"natsReconnectWait"` // seconds
}

// Standard topic names.
const (
	TopicDatasetProcessed = "threatlens.dataset.processed"
	TopicModelTrained     = "threatlens.model.trained"
	TopicPredictBatch     = "threatlens.predict.batch"
	TopicPredictResult    = "threatlens.predict.result"
)

// BatchJob is the payload published on TopicPredictBatch.
type BatchJob struct {
	JobID   string        `json:"jobId"`
	Records []RawIncident `json:"records"`
}

// BatchResult is the payload published on TopicPredictResult.
type BatchResult struct {
	JobID         string   `json:"jobId"`
	PredictionIDs []string `json:"predictionIds"`
	Labels        []string `json:"labels"`
	Error         string   `json:"error,omitempty"`
}

// ModelTrainedEvent is the payload published on TopicModelTrained.
type ModelTrainedEvent struct {
	RunID    string  `json:"runId"`
	Accuracy float64 `json:"accuracy"`
}

// DatasetProcessedEvent is the payload published on TopicDatasetProcessed.
type DatasetProcessedEvent struct {
	Rows int    `json:"rows"`
	Path string `json:"path"`
}
