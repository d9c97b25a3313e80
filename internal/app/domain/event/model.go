// Package event models an append-only progress event published by the
// engine and durably recorded before live delivery.
package event

import "time"

// BroadcastChannel is the channel name subscribers join to receive events
// not scoped to a single user.
const BroadcastChannel = "broadcast"

// Event is a single durable, user-scoped (or broadcast) notification.
type Event struct {
	ID        string
	UserID    string
	Channel   string
	Payload   []byte
	Read      bool
	CreatedAt time.Time
}

// UserChannel returns the per-user channel name "user:<id>" events for
// userID are published on in addition to any explicit channel.
func UserChannel(userID string) string {
	return "user:" + userID
}
