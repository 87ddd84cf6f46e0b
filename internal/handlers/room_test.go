package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-relay/internal/identity"
	"chat-relay/internal/middleware"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/registry"
	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

type roomFixture struct {
	rooms    *mocks.RoomRepositoryMock
	messages *mocks.MessageRepositoryMock
	tracker  *mocks.TrackerMock
	producer *mocks.ProducerMock
	audit    *mocks.PublisherMock
	handler  *RoomHandler
}

func newRoomFixture() *roomFixture {
	f := &roomFixture{
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		tracker:  new(mocks.TrackerMock),
		producer: new(mocks.ProducerMock),
		audit:    new(mocks.PublisherMock),
	}
	log := zap.NewNop()
	svc := relay.NewService(f.rooms, f.messages, registry.New(log), f.tracker, f.producer, log)
	emitter := telemetry.NewAuditEmitter(f.audit, "audit.chat-relay", "chat-relay", "test", log)
	f.handler = NewRoomHandler(f.rooms, svc, f.tracker, emitter, log)
	return f
}

func setupRoomRouter(handler *RoomHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.IdentityContextKey, identity.Identity{UserID: 1, Username: "alice"})
		c.Next()
	})
	r.GET("/rooms", handler.ListRooms)
	r.GET("/rooms/favorites", handler.ListFavorites)
	r.POST("/rooms/open", handler.OpenRoom)
	r.POST("/rooms/:room_id/favorite", handler.ToggleFavorite)
	r.DELETE("/rooms/:room_id/me", handler.DeleteRoomForMe)
	return r
}

func TestListRoomsSuccess(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("ListRooms", mock.Anything, 1).
		Return([]models.RoomSummary{{RoomID: 3, Name: "alice & bob", FriendID: 2}}, nil).Once()
	f.tracker.On("Online", mock.Anything, 2).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 1)
	assert.True(t, resp.Rooms[0].Online)

	f.rooms.AssertExpectations(t)
	f.tracker.AssertExpectations(t)
}

func TestListRoomsPresenceFailureIsNotFatal(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("ListRooms", mock.Anything, 1).
		Return([]models.RoomSummary{{RoomID: 3, FriendID: 2}}, nil).Once()
	f.tracker.On("Online", mock.Anything, 2).Return(false, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 1)
	assert.False(t, resp.Rooms[0].Online)
}

func TestListRoomsRepoError(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("ListRooms", mock.Anything, 1).
		Return(([]models.RoomSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	f.rooms.AssertExpectations(t)
}

func TestListFavoritesSuccess(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("ListFavorites", mock.Anything, 1).
		Return([]models.RoomSummary{{RoomID: 4, FriendID: 2, Favorite: true}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms/favorites", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 1)
	assert.True(t, resp.Rooms[0].Favorite)
	f.rooms.AssertExpectations(t)
}

func TestOpenRoomSuccess(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("FindOrCreateDirectRoom", mock.Anything, 1, 2, "alice & bob").
		Return(models.Room{ID: 10, Name: "alice & bob", User1ID: 1, User2ID: 2}, nil).Once()
	f.rooms.On("UnhideRoomForUser", mock.Anything, 10, 1).Return(nil).Once()

	body := bytes.NewBufferString(`{"friend_id":2,"friend_username":"bob"}`)
	req := httptest.NewRequest(http.MethodPost, "/rooms/open", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 10, resp["room_id"])
	f.rooms.AssertExpectations(t)
}

func TestOpenRoomRejectsSelfChat(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	req := httptest.NewRequest(http.MethodPost, "/rooms/open", bytes.NewBufferString(`{"friend_id":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.rooms.AssertNotCalled(t, "FindOrCreateDirectRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOpenRoomInvalidBody(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	req := httptest.NewRequest(http.MethodPost, "/rooms/open", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.rooms.AssertNotCalled(t, "FindOrCreateDirectRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestToggleFavoriteSuccess(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("GetRoom", mock.Anything, 3).
		Return(models.Room{ID: 3, User1ID: 1, User2ID: 2}, nil).Once()
	f.rooms.On("ToggleFavorite", mock.Anything, 3, 1).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/3/favorite", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["favorite"])
	f.rooms.AssertExpectations(t)
}

func TestToggleFavoriteNonParticipant(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("GetRoom", mock.Anything, 3).
		Return(models.Room{ID: 3, User1ID: 8, User2ID: 9}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/rooms/3/favorite", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.rooms.AssertNotCalled(t, "ToggleFavorite", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteRoomForMeSuccess(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("GetRoom", mock.Anything, 3).
		Return(models.Room{ID: 3, User1ID: 1, User2ID: 2}, nil).Once()
	f.rooms.On("HideRoomForUser", mock.Anything, 3, 1).Return(nil).Once()
	f.messages.On("TombstoneRoomForUser", mock.Anything, 3, 1).Return(nil).Once()
	f.audit.On("Publish", mock.Anything, "audit.chat-relay", mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/rooms/3/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.rooms.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestDeleteRoomForMeNotFound(t *testing.T) {
	f := newRoomFixture()
	router := setupRoomRouter(f.handler)

	f.rooms.On("GetRoom", mock.Anything, 3).
		Return(nil, repositories.ErrRoomNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/rooms/3/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	f.rooms.AssertNotCalled(t, "HideRoomForUser", mock.Anything, mock.Anything, mock.Anything)
}
