package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"chat-relay/internal/identity"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
)

// State of a room connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthorized
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorized:
		return "authorized"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Conn is the lifecycle of one room connection:
// connecting -> authorized -> open -> closed. Sends are only accepted while
// open. A room that vanishes mid-session is reported to this connection alone
// as a room_deleted event, then the connection closes.
type Conn struct {
	svc    *Service
	bus    Bus
	user   identity.Identity
	roomID int
	sub    registry.Subscriber
	state  atomic.Int32
	log    *zap.Logger
}

// NewConn creates a connection in the connecting state.
func NewConn(svc *Service, bus Bus, user identity.Identity, roomID int, sub registry.Subscriber, log *zap.Logger) *Conn {
	c := &Conn{svc: svc, bus: bus, user: user, roomID: roomID, sub: sub, log: log}
	c.state.Store(int32(StateConnecting))
	return c
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Authorize moves connecting -> authorized when the room exists and the user
// is a participant. Any failure closes the connection without registering
// anything.
func (c *Conn) Authorize(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthorized)) {
		return ErrPermissionDenied
	}
	if err := c.svc.Authorize(ctx, c.roomID, c.user); err != nil {
		c.state.Store(int32(StateClosed))
		return err
	}
	return nil
}

// Open registers the connection on the room channel. Only an authorized
// connection can open.
func (c *Conn) Open() error {
	if !c.state.CompareAndSwap(int32(StateAuthorized), int32(StateOpen)) {
		return ErrPermissionDenied
	}
	c.bus.Subscribe(registry.RoomChannel(c.roomID), c.sub)
	return nil
}

// HandleInbound processes one client frame. Malformed payloads are rejected
// with ErrMalformedPayload and the connection stays open. A send against a
// vanished room emits room_deleted to this connection and closes it, and the
// underlying ErrRoomNotFound is returned so the read loop stops.
func (c *Conn) HandleInbound(ctx context.Context, payload []byte) error {
	if c.State() != StateOpen {
		return ErrPermissionDenied
	}

	var in models.InboundEvent
	if err := json.Unmarshal(payload, &in); err != nil {
		return ErrMalformedPayload
	}
	if in.Type != models.EventChatMessage || strings.TrimSpace(in.Message) == "" {
		return ErrMalformedPayload
	}

	_, err := c.svc.Send(ctx, c.roomID, c.user, in.Message)
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrRoomNotFound) {
		c.notifyRoomDeleted()
		c.Close()
	}
	return err
}

// Close deregisters the subscription (when one was registered) and releases
// the underlying connection. Terminal and idempotent; deregistration happens
// before the subscriber is closed so no publish can hit a freed target.
func (c *Conn) Close() {
	prev := State(c.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		return
	}
	if prev == StateOpen {
		c.bus.Unsubscribe(registry.RoomChannel(c.roomID), c.sub)
	}
	c.sub.Close()
}

func (c *Conn) notifyRoomDeleted() {
	payload, err := json.Marshal(models.RoomDeletedEvent{Type: models.EventRoomDeleted})
	if err != nil {
		return
	}
	if err := c.sub.Send(payload); err != nil {
		c.log.Debug("room_deleted delivery failed", zap.Int("room_id", c.roomID), zap.Error(err))
	}
}
