package models

import "time"

// Message is one entry of a room's append-only log. Seq is assigned under the
// room's append lock and is strictly increasing within the room. Per-viewer
// deletions live in message_tombstones, not here.
type Message struct {
	ID        int       `db:"id" json:"id"`
	RoomID    int       `db:"room_id" json:"room_id"`
	Seq       int64     `db:"seq" json:"seq"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
