package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the durable per-room message log.
type MessageRepository interface {
	Append(ctx context.Context, roomID, senderID int, content string) (models.Message, error)
	ListForViewer(ctx context.Context, roomID, viewerID int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	TombstoneForUser(ctx context.Context, messageID, userID int) error
	TombstoneRoomForUser(ctx context.Context, roomID, userID int) error
	DeleteGlobally(ctx context.Context, messageID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append stores a message at the tail of the room's log. The room row is
// locked for the duration of the transaction, so concurrent sends to the same
// room linearize into one seq order and a room deleted mid-flight surfaces as
// ErrRoomNotFound instead of a dangling insert.
func (r *MessageRepo) Append(ctx context.Context, roomID, senderID int, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var lockedID int
	err = tx.GetContext(ctx, &lockedID, `SELECT id FROM rooms WHERE id=$1 FOR UPDATE`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, seq, sender_id, content)
        SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3 FROM messages WHERE room_id=$1
        RETURNING id, room_id, seq, sender_id, content, created_at`, roomID, senderID, content).
		Scan(&msg.ID, &msg.RoomID, &msg.Seq, &msg.SenderID, &msg.Content, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListForViewer returns the room's log in seq order, excluding messages
// tombstoned for the viewer.
func (r *MessageRepo) ListForViewer(ctx context.Context, roomID, viewerID int) ([]models.Message, error) {
	query := `SELECT m.id, m.room_id, m.seq, m.sender_id, m.content, m.created_at
        FROM messages m
        WHERE m.room_id=$1
        AND NOT EXISTS (SELECT 1 FROM message_tombstones t WHERE t.message_id=m.id AND t.user_id=$2)
        ORDER BY m.seq ASC`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, viewerID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, room_id, seq, sender_id, content, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// TombstoneForUser hides a message from one user's view. Idempotent.
func (r *MessageRepo) TombstoneForUser(ctx context.Context, messageID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_tombstones (message_id, user_id) VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID)
	return err
}

// TombstoneRoomForUser hides every current message of a room from one user.
func (r *MessageRepo) TombstoneRoomForUser(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_tombstones (message_id, user_id)
        SELECT m.id, $2 FROM messages m WHERE m.room_id=$1
        ON CONFLICT (message_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// DeleteGlobally removes the message row for everyone. Authorization is the
// caller's job.
func (r *MessageRepo) DeleteGlobally(ctx context.Context, messageID int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
