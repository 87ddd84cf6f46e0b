package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository is the membership index: who belongs to which room and which
// rooms are hidden or favorited per user.
type RoomRepository interface {
	FindOrCreateDirectRoom(ctx context.Context, userID, friendID int, name string) (models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID int) (bool, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error)
	ListFavorites(ctx context.Context, userID int) ([]models.RoomSummary, error)
	HideRoomForUser(ctx context.Context, roomID, userID int) error
	UnhideRoomForUser(ctx context.Context, roomID, userID int) error
	ToggleFavorite(ctx context.Context, roomID, userID int) (bool, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, name, user1_id, user2_id, created_at`

// FindOrCreateDirectRoom returns the room holding exactly {userID, friendID},
// creating it if absent. Idempotent and order-independent: participants are
// stored sorted and guarded by a unique constraint, so a concurrent create
// resolves to the same row. Tombstones are untouched.
func (r *RoomRepo) FindOrCreateDirectRoom(ctx context.Context, userID, friendID int, name string) (models.Room, error) {
	if userID == friendID {
		return models.Room{}, errors.New("cannot create room with self")
	}
	user1, user2 := userID, friendID
	if user1 > user2 {
		user1, user2 = user2, user1
	}

	var room models.Room
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE user1_id=$1 AND user2_id=$2`
	err := r.db.GetContext(ctx, &room, query, user1, user2)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, err
	}

	insert := `INSERT INTO rooms (name, user1_id, user2_id) VALUES ($1, $2, $3)
        ON CONFLICT (user1_id, user2_id) DO NOTHING
        RETURNING ` + roomColumns
	err = r.db.QueryRowxContext(ctx, insert, name, user1, user2).StructScan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race to a concurrent create; the winner's row is ours too.
		err = r.db.GetContext(ctx, &room, query, user1, user2)
	}
	if err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1 AND (user1_id=$2 OR user2_id=$2))`, roomID, userID)
	return exists, err
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns rooms visible to the user, newest first.
func (r *RoomRepo) ListRooms(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	query := `SELECT r.id, r.name, r.user1_id, r.user2_id, r.created_at,
            EXISTS(SELECT 1 FROM room_favorites f WHERE f.room_id=r.id AND f.user_id=$1) AS favorite
        FROM rooms r
        WHERE (r.user1_id=$1 OR r.user2_id=$1)
        AND NOT EXISTS (SELECT 1 FROM room_tombstones t WHERE t.room_id=r.id AND t.user_id=$1)
        ORDER BY r.created_at DESC`
	return r.scanSummaries(ctx, query, userID)
}

// ListFavorites returns visible rooms the user has favorited.
func (r *RoomRepo) ListFavorites(ctx context.Context, userID int) ([]models.RoomSummary, error) {
	query := `SELECT r.id, r.name, r.user1_id, r.user2_id, r.created_at, TRUE AS favorite
        FROM rooms r
        JOIN room_favorites f ON f.room_id = r.id AND f.user_id=$1
        WHERE (r.user1_id=$1 OR r.user2_id=$1)
        AND NOT EXISTS (SELECT 1 FROM room_tombstones t WHERE t.room_id=r.id AND t.user_id=$1)
        ORDER BY r.created_at DESC`
	return r.scanSummaries(ctx, query, userID)
}

func (r *RoomRepo) scanSummaries(ctx context.Context, query string, userID int) ([]models.RoomSummary, error) {
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.RoomSummary
	for rows.Next() {
		var row struct {
			models.Room
			Favorite bool `db:"favorite"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, models.RoomSummary{
			RoomID:    row.ID,
			Name:      row.Name,
			FriendID:  row.Other(userID),
			Favorite:  row.Favorite,
			CreatedAt: row.CreatedAt,
		})
	}
	return result, rows.Err()
}

// HideRoomForUser tombstones a room for one user. Other participants keep
// seeing the room.
func (r *RoomRepo) HideRoomForUser(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_tombstones (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// UnhideRoomForUser clears the user's tombstone, if any.
func (r *RoomRepo) UnhideRoomForUser(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_tombstones WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// ToggleFavorite flips the favorite flag and reports the new state.
func (r *RoomRepo) ToggleFavorite(ctx context.Context, roomID, userID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM room_favorites WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if removed > 0 {
		return false, nil
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO room_favorites (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err == nil, err
}
