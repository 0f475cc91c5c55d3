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
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"nats_url"`
	NATSToken         string `json:"-" yaml:"nats_token"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"nats_reconnect_wait"` // seconds

	// NATSQueueGroup is shared by every instance consuming WorkTopics.
	NATSQueueGroup string `json:"natsQueueGroup" yaml:"nats_queue_group"`
}

// Topic names for the scoring pipeline.
const (
	TopicApplicationSubmitted = "kestrel.application.submitted"
	TopicDecisionRecorded     = "kestrel.decision.recorded"
	TopicDecisionEscalated    = "kestrel.decision.escalated"
	TopicReviewResolved       = "kestrel.review.resolved"
)

// WorkTopics are consumed by exactly one instance per message; every other
// topic fans out to all subscribers.
var WorkTopics = map[string]bool{
	TopicApplicationSubmitted: true,
}

// DecisionEvent is published after an attempt is persisted or a review resolves.
type DecisionEvent struct {
	ApplicantID      string           `json:"applicantId"`
	DecisionID       string           `json:"decisionId"`
	CompanyName      string           `json:"companyName"`
	TaxID            string           `json:"inn"`
	Decision         Action           `json:"decision"`
	ProcessingStatus ProcessingStatus `json:"processingStatus,omitempty"`
	Priority         string           `json:"priority"`
	FinalDecision    string           `json:"finalDecision"`
	RiskLevel        RiskBucket       `json:"riskLevel,omitempty"`
	Provenance       Provenance       `json:"provenance,omitempty"`
	Timestamp        int64            `json:"timestamp"`
}
