package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Bus topic names. Channel topics are derived from the channel tag so new
// channels need no code changes in the core.
const (
	TopicDelayed = "delayed_notification"
	TopicStatus  = "notification_status"

	channelTopicSuffix = "_notification"
)

// ChannelTopic returns the bus topic for a channel tag, e.g. "email" ->
// "email_notification".
func ChannelTopic(channel string) string {
	return channel + channelTopicSuffix
}

// ChannelMessage is the channel-agnostic payload delivered to a channel
// consumer. Keyed on the bus by NotificationID to preserve per-notification
// partition affinity.
type ChannelMessage struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	RequestID      uuid.UUID         `json:"request_id"`
	ClientID       uuid.UUID         `json:"client_id"`
	Channel        string            `json:"channel"`
	Recipient      map[string]any    `json:"recipient"`
	Content        map[string]any    `json:"content"`
	Variables      map[string]string `json:"variables,omitempty"`
	WebhookURL     string            `json:"webhook_url,omitempty"`
	RetryCount     int               `json:"retry_count"`
	CreatedAt      time.Time         `json:"created_at"`
	Provider       *string           `json:"provider,omitempty"`
}

// ChannelMessageFrom builds the bus payload for a notification.
func ChannelMessageFrom(n *Notification) *ChannelMessage {
	return &ChannelMessage{
		NotificationID: n.ID,
		RequestID:      n.RequestID,
		ClientID:       n.ClientID,
		Channel:        n.Channel,
		Recipient:      n.Recipient,
		Content:        n.Content,
		Variables:      n.Variables,
		WebhookURL:     n.WebhookURL,
		RetryCount:     n.RetryCount,
		CreatedAt:      n.CreatedAt,
		Provider:       n.Provider,
	}
}

// DelayedMessage wraps a channel message with the topic it should be
// republished to once due. PollerRetries counts failed republish attempts by
// the delayed poller, not provider sends.
type DelayedMessage struct {
	ChannelMessage
	TargetTopic   string    `json:"target_topic"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	PollerRetries int       `json:"poller_retries,omitempty"`
}

// StatusMessage announces a terminal state on the status topic. It is the
// single serialization point for "this notification is done".
type StatusMessage struct {
	NotificationID uuid.UUID `json:"notification_id"`
	RequestID      uuid.UUID `json:"request_id"`
	ClientID       uuid.UUID `json:"client_id"`
	Channel        string    `json:"channel"`
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	RetryCount     int       `json:"retry_count"`
	WebhookURL     string    `json:"webhook_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher produces messages onto the bus. Key selects the partition;
// callers pass the notification identifier to keep per-notification ordering.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}
