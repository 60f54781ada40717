package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro). Delivery is
// at-least-once with no ordering guarantee across items, so the
// evaluation pipeline must stay idempotent.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

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
	TenantID  string            `json:"tenantId"`
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
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	TopicEvaluationRequested = "kestrel.evaluation.requested"
	TopicEvaluationCompleted = "kestrel.evaluation.completed"
	TopicCascadeCompleted    = "kestrel.cascade.completed"
	TopicEarlyWarning        = "kestrel.warning.detected"
)

// EvaluationRequest is the queue payload for asynchronous evaluation.
type EvaluationRequest struct {
	OpportunityID string            `json:"opportunityId"`
	TenantID      string            `json:"tenantId"`
	CallerID      string            `json:"callerId"`
	Trigger       EvaluationTrigger `json:"trigger"`
	Priority      QueuePriority     `json:"priority"`
	Options       EvaluateOptions   `json:"options"`
	TraceID       string            `json:"traceId,omitempty"`
}
