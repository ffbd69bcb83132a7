package chat

import (
	"encoding/json"
	"fmt"
)

const ProtocolVersion = 1

// Frame commands, client to broker.
const (
	frameConnect     = "connect"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSend        = "send"
)

// Frame commands, broker to client.
const (
	frameConnected = "connected"
	frameMessage   = "message"
	frameReceipt   = "receipt"
	frameError     = "error"
)

// Application destinations the broker accepts publishes on.
const (
	DestSendMessage  = "/app/chat.sendMessage"
	DestTyping       = "/app/chat.typing"
	DestAddUser      = "/app/chat.addUser"
	DestUpdateStatus = "/app/chat.updateStatus"
)

// TopicChat returns the live-message topic for a room.
func TopicChat(roomID int64) string { return fmt.Sprintf("/topic/chat/%d", roomID) }

// TopicTyping returns the typing-indicator topic for a room.
func TopicTyping(roomID int64) string { return fmt.Sprintf("/topic/chat/%d/typing", roomID) }

// TopicStatus returns the member-status topic for a room.
func TopicStatus(roomID int64) string { return fmt.Sprintf("/topic/chat/%d/status", roomID) }

// frame is the JSON envelope exchanged with the broker over the socket.
type frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Protocol    int             `json:"protocol,omitempty"`
	Token       string          `json:"token,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Error       *ProtocolError  `json:"error,omitempty"`
}

// ProtocolError describes an error reported by the broker.
type ProtocolError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ProtocolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}

func marshalBody(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "marshal frame body", err)
	}
	return raw, nil
}
