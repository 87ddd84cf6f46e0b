package models

import "time"

// Event type discriminators used on every websocket frame.
const (
	EventChatMessage    = "chat_message"
	EventMessageDeleted = "message_deleted"
	EventRoomDeleted    = "room_deleted"
	EventNotification   = "notification"
)

// ChatMessageEvent is broadcast on a room channel after a successful append.
type ChatMessageEvent struct {
	Type      string    `json:"type"`
	MessageID int       `json:"message_id"`
	RoomID    int       `json:"room_id"`
	Seq       int64     `json:"seq"`
	SenderID  int       `json:"sender_id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageDeletedEvent tells room subscribers to drop a message from view.
type MessageDeletedEvent struct {
	Type      string `json:"type"`
	MessageID int    `json:"message_id"`
}

// RoomDeletedEvent is addressed to a single connection whose room vanished
// mid-session; the connection closes after sending it.
type RoomDeletedEvent struct {
	Type string `json:"type"`
}

// NotificationEvent is the best-effort badge pushed on a participant's
// personal channel. Offline users miss it and recover from the log.
type NotificationEvent struct {
	Type     string `json:"type"`
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
	SenderID int    `json:"sender_id"`
	Sender   string `json:"sender"`
	Message  string `json:"message"`
}

// InboundEvent is what clients send on a room connection.
type InboundEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
