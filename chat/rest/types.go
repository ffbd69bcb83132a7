package rest

import (
	"encoding/json"
	"time"
)

// Authentication types

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse contains the bearer token returned after authentication.
type TokenResponse struct {
	Token string `json:"token"`
}

// Workspace types

// WorkspaceInfo represents workspace metadata.
type WorkspaceInfo struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member represents a workspace member; used to resolve a sender name to an
// avatar for rendering.
type Member struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	ProfileURL string `json:"profileUrl,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Message history types

// MessageRecord is a single message in a history page.
type MessageRecord struct {
	ID               string    `json:"id,omitempty"`
	RoomID           int64     `json:"roomId"`
	SenderID         int64     `json:"senderId,omitempty"`
	SenderName       string    `json:"senderName,omitempty"`
	SenderProfileURL string    `json:"senderProfileUrl,omitempty"`
	Content          string    `json:"content,omitempty"`
	Kind             string    `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
}

// MessagesPage is one page of room history, newest first. The backend wraps
// the records under either a "data" or a "messages" key depending on the
// endpoint version; both decode.
type MessagesPage struct {
	Messages []MessageRecord
	HasMore  bool
}

func (p *MessagesPage) UnmarshalJSON(raw []byte) error {
	var envelope struct {
		Data     []MessageRecord `json:"data"`
		Messages []MessageRecord `json:"messages"`
		HasMore  bool            `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return err
	}
	p.Messages = envelope.Data
	if p.Messages == nil {
		p.Messages = envelope.Messages
	}
	p.HasMore = envelope.HasMore
	return nil
}

// ErrorResponse represents an API error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}
