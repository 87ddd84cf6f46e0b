package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-relay/internal/identity"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
)

func newConnFixture(t *testing.T, user identity.Identity, roomID int) (*serviceFixture, *Conn, *fakeSubscriber) {
	t.Helper()
	f := newServiceFixture()
	sub := &fakeSubscriber{}
	conn := NewConn(f.svc, f.bus, user, roomID, sub, zap.NewNop())
	return f, conn, sub
}

func TestConnLifecycleReachesOpen(t *testing.T) {
	user := identity.Identity{UserID: 10, Username: "alice"}
	f, conn, _ := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil)

	assert.Equal(t, StateConnecting, conn.State())

	require.NoError(t, conn.Authorize(context.Background()))
	assert.Equal(t, StateAuthorized, conn.State())

	require.NoError(t, conn.Open())
	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, 1, f.bus.Subscribers(registry.RoomChannel(1)))
}

func TestAuthorizeRejectsNonParticipant(t *testing.T) {
	user := identity.Identity{UserID: 99, Username: "mallory"}
	f, conn, _ := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil)

	err := conn.Authorize(context.Background())

	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, StateClosed, conn.State())

	// A failed authorization can never be opened afterwards.
	assert.ErrorIs(t, conn.Open(), ErrPermissionDenied)
	assert.Equal(t, 0, f.bus.Subscribers(registry.RoomChannel(1)))
}

func TestAuthorizeRejectsVanishedRoom(t *testing.T) {
	user := identity.Identity{UserID: 10}
	f, conn, _ := newConnFixture(t, user, 404)
	f.rooms.On("GetRoom", mock.Anything, 404).Return(nil, repositories.ErrRoomNotFound)

	err := conn.Authorize(context.Background())

	assert.ErrorIs(t, err, repositories.ErrRoomNotFound)
	assert.Equal(t, StateClosed, conn.State())
}

func TestOpenRequiresAuthorization(t *testing.T) {
	_, conn, _ := newConnFixture(t, identity.Identity{UserID: 10}, 1)

	assert.ErrorIs(t, conn.Open(), ErrPermissionDenied)
	assert.Equal(t, StateConnecting, conn.State())
}

func TestHandleInboundRejectsBeforeOpen(t *testing.T) {
	_, conn, _ := newConnFixture(t, identity.Identity{UserID: 10}, 1)

	err := conn.HandleInbound(context.Background(), []byte(`{"type":"chat_message","message":"hi"}`))

	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func openConn(t *testing.T, f *serviceFixture, conn *Conn) {
	t.Helper()
	require.NoError(t, conn.Authorize(context.Background()))
	require.NoError(t, conn.Open())
}

func TestHandleInboundMalformedPayloadKeepsConnectionOpen(t *testing.T) {
	user := identity.Identity{UserID: 10, Username: "alice"}
	f, conn, _ := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil)
	openConn(t, f, conn)

	for _, payload := range []string{
		`not json`,
		`{"type":"unknown","message":"hi"}`,
		`{"type":"chat_message","message":"   "}`,
		`{"type":"chat_message"}`,
	} {
		err := conn.HandleInbound(context.Background(), []byte(payload))
		assert.ErrorIs(t, err, ErrMalformedPayload, payload)
		assert.Equal(t, StateOpen, conn.State(), payload)
	}
	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleInboundSendsThroughPipeline(t *testing.T) {
	user := identity.Identity{UserID: 10, Username: "alice"}
	f, conn, sub := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil)
	f.messages.On("Append", mock.Anything, 1, 10, "hello").
		Return(models.Message{ID: 1, RoomID: 1, Seq: 1, SenderID: 10, Content: "hello"}, nil)
	f.rooms.On("UnhideRoomForUser", mock.Anything, 1, mock.Anything).Return(nil)
	f.tracker.On("AvatarURL", mock.Anything, 10).Return("", nil)
	f.producer.On("PublishMessageSent", mock.Anything, mock.Anything).Return(nil)
	openConn(t, f, conn)

	err := conn.HandleInbound(context.Background(), []byte(`{"type":"chat_message","message":"hello"}`))

	require.NoError(t, err)
	// The sender's own subscription is on the room channel, so the broadcast
	// loops back to it.
	require.Len(t, sub.payloads, 1)
	var event models.ChatMessageEvent
	require.NoError(t, json.Unmarshal(sub.payloads[0], &event))
	assert.Equal(t, models.EventChatMessage, event.Type)
	assert.Equal(t, "hello", event.Message)
}

func TestHandleInboundRoomVanishedClosesWithRoomDeleted(t *testing.T) {
	user := identity.Identity{UserID: 10, Username: "alice"}
	f, conn, sub := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil).Once()
	f.rooms.On("GetRoom", mock.Anything, 1).Return(nil, repositories.ErrRoomNotFound)
	openConn(t, f, conn)

	// Another subscriber on the same room channel must not see the
	// room_deleted frame.
	bystander := &fakeSubscriber{}
	f.bus.Subscribe(registry.RoomChannel(1), bystander)

	err := conn.HandleInbound(context.Background(), []byte(`{"type":"chat_message","message":"hi"}`))

	assert.ErrorIs(t, err, repositories.ErrRoomNotFound)
	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, sub.closed)

	require.Len(t, sub.payloads, 1)
	var event models.RoomDeletedEvent
	require.NoError(t, json.Unmarshal(sub.payloads[0], &event))
	assert.Equal(t, models.EventRoomDeleted, event.Type)
	assert.Empty(t, bystander.payloads)

	// The closed connection is off the room channel.
	assert.Equal(t, 1, f.bus.Subscribers(registry.RoomChannel(1)))
}

func TestCloseUnsubscribesAndIsIdempotent(t *testing.T) {
	user := identity.Identity{UserID: 10, Username: "alice"}
	f, conn, sub := newConnFixture(t, user, 1)
	f.rooms.On("GetRoom", mock.Anything, 1).Return(directRoom(1, 10, 20), nil)
	openConn(t, f, conn)
	require.Equal(t, 1, f.bus.Subscribers(registry.RoomChannel(1)))

	conn.Close()
	conn.Close()

	assert.Equal(t, StateClosed, conn.State())
	assert.True(t, sub.closed)
	assert.Equal(t, 0, f.bus.Subscribers(registry.RoomChannel(1)))
}
