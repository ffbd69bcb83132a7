package chat

import "time"

// EventKind classifies a chat event. CHAT events are rendered; JOIN, LEAVE
// and TYPING are lifecycle notifications.
type EventKind string

const (
	KindChat   EventKind = "CHAT"
	KindJoin   EventKind = "JOIN"
	KindLeave  EventKind = "LEAVE"
	KindTyping EventKind = "TYPING"
)

// Event is one unit of chat traffic, inbound or outbound. The JSON shape
// matches what the broker produces and accepts.
type Event struct {
	// ID is the server-assigned identity. It may be absent, in which case a
	// synthetic identity is derived for deduplication (see IdentityResolver).
	ID string `json:"id,omitempty"`

	RoomID           int64     `json:"roomId"`
	SenderID         int64     `json:"senderId,omitempty"`
	SenderName       string    `json:"senderName,omitempty"`
	SenderProfileURL string    `json:"senderProfileUrl,omitempty"`
	Content          string    `json:"content,omitempty"`
	Kind             EventKind `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatusUpdate is the body published to the status destination.
type StatusUpdate struct {
	SenderID   int64  `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Status     string `json:"status"`
}
