package ws

import (
	"time"

	"github.com/google/uuid"
)

// ConnInfo identifies one live socket for lifecycle events and logs.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}
