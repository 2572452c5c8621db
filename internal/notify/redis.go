package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis channel for processed meetings
const ChannelMeetingProcessed = "events.meeting.processed"

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// MeetingProcessedEvent is published after a summary has been applied
type MeetingProcessedEvent struct {
	BaseEvent
	Notification
}

// RedisPublisher publishes notifications on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher; an empty channel uses ChannelMeetingProcessed
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = ChannelMeetingProcessed
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Notify publishes the notification as a MeetingProcessedEvent
func (p *RedisPublisher) Notify(ctx context.Context, n Notification) error {
	event := MeetingProcessedEvent{
		BaseEvent: BaseEvent{
			EventType: "meeting.processed",
			Timestamp: time.Now().UTC(),
			Source:    "meetingd",
			Version:   "1.0",
		},
		Notification: n,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
