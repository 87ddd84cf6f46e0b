package models

import "time"

// Room is a direct conversation between exactly two users. Rooms are never
// hard-deleted; visibility is tracked per user in room_tombstones.
type Room struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	User1ID   int       `db:"user1_id" json:"user1_id"`
	User2ID   int       `db:"user2_id" json:"user2_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participants returns both member ids.
func (r Room) Participants() []int {
	return []int{r.User1ID, r.User2ID}
}

// HasParticipant reports whether the user belongs to the room.
func (r Room) HasParticipant(userID int) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// Other returns the participant that is not userID.
func (r Room) Other(userID int) int {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

// RoomSummary is the per-viewer dashboard view of a room.
type RoomSummary struct {
	RoomID    int       `db:"id" json:"room_id"`
	Name      string    `db:"name" json:"name"`
	FriendID  int       `json:"friend_id"`
	Favorite  bool      `db:"favorite" json:"favorite"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
