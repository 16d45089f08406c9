package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval workflow events to NATS JetStream
// for consumption by the platform notification service.
//
// Subject convention: notifications.costtables.<event_type>
// Event types: cost_table_submitted, approval_required, cost_table_approved,
//              cost_table_rejected, approval_escalated, approval_reminder,
//              cost_table_expired
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher connects to NATS and returns a JetStream-backed
// publisher.
func NewNotificationPublisher(url string, log zerolog.Logger) (*NotificationPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("be-cost-approvals"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NotificationPublisher{js: js, log: log}, nil
}

// PublishApprovalEvent publishes a cost-table approval event.
// Subject: notifications.costtables.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, recordID, actorID string, recipients []string, payload map[string]interface{}) {
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "cost_table",
		ResourceID:   recordID,
		IsActionable: true,
		Severity:     "info",
		Category:     "cost_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.costtables.%s", eventType)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("record_id", recordID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("record_id", recordID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
