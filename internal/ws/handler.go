package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/identity"
	"chat-relay/internal/observability"
	"chat-relay/internal/presence"
	"chat-relay/internal/rabbitmq"
	"chat-relay/internal/registry"
	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options bundles the connection tunables.
type Options struct {
	SendBuffer   int
	WriteWait    time.Duration
	PingInterval time.Duration
}

// Handler serves both websocket surfaces: per-room connections and the
// personal notification feed.
type Handler struct {
	svc       *relay.Service
	bus       *registry.Registry
	verifier  *identity.Verifier
	presence  presence.Tracker
	publisher rabbitmq.Publisher
	opts      Options
	log       *zap.Logger
}

// NewHandler constructs the websocket handler.
func NewHandler(svc *relay.Service, bus *registry.Registry, verifier *identity.Verifier, tracker presence.Tracker, publisher rabbitmq.Publisher, opts Options, log *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		bus:       bus,
		verifier:  verifier,
		presence:  tracker,
		publisher: publisher,
		opts:      opts,
		log:       log,
	}
}

// HandleRoom upgrades a room connection. Authorization happens before the
// upgrade: an unauthenticated caller or a non-participant is rejected without
// allocating anything.
func (h *Handler) HandleRoom(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	user, ok := h.authenticate(c)
	if !ok {
		return
	}

	if err := h.svc.Authorize(ctx, roomID, user); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "not authorized for room"})
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(wsConn, h.opts.SendBuffer, h.opts.WriteWait, h.opts.PingInterval)
	conn := relay.NewConn(h.svc, h.bus, user, roomID, client, h.log)

	// Re-run the membership check through the state machine; the room may
	// have vanished between the pre-upgrade check and now.
	if err := conn.Authorize(ctx); err != nil {
		client.Close()
		return
	}
	if err := conn.Open(); err != nil {
		conn.Close()
		return
	}

	info := h.connInfo(c, user)
	if err := h.presence.Touch(ctx, user.UserID); err != nil {
		h.log.Debug("presence touch failed", zap.Error(err))
	}

	observability.IncWSActive("room")
	observability.IncWSEvent("room", "ws_connect")
	h.publishWSEvent(ctx, "room", roomID, "ws_connect", info, "")

	go client.WritePump()
	// The read loop outlives this handler, but net/http cancels the request
	// context the moment we return. Detach it (values and span kept) so
	// in-flight sends are not aborted with context.Canceled.
	go h.roomReadLoop(context.WithoutCancel(ctx), wsConn, conn, roomID, info)
}

func (h *Handler) roomReadLoop(ctx context.Context, wsConn *websocket.Conn, conn *relay.Conn, roomID int, info ConnInfo) {
	var closeReason string
	defer func() {
		conn.Close()
		observability.DecWSActive("room")
		observability.IncWSEvent("room", "ws_disconnect")
		h.publishWSEvent(ctx, "room", roomID, "ws_disconnect", info, closeReason)
	}()

	for {
		_, payload, err := wsConn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("room", "ws_error")
				h.publishWSEvent(ctx, "room", roomID, "ws_error", info, closeReason)
			}
			return
		}

		if err := conn.HandleInbound(ctx, payload); err != nil {
			switch {
			case errors.Is(err, relay.ErrMalformedPayload):
				// Reject the frame, keep the connection.
				observability.IncWSEvent("room", "malformed_payload")
			case errors.Is(err, repositories.ErrRoomNotFound):
				closeReason = "room_deleted"
				return
			default:
				h.log.Error("send failed", zap.Int("room_id", roomID), zap.Error(err))
			}
		}
	}
}

// HandleNotifications subscribes the caller to their personal channel for
// dashboard badges. No room authorization applies; the channel is their own.
func (h *Handler) HandleNotifications(c *gin.Context) {
	user, ok := h.authenticate(c)
	if !ok {
		return
	}

	wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(wsConn, h.opts.SendBuffer, h.opts.WriteWait, h.opts.PingInterval)
	channel := registry.UserChannel(user.UserID)
	h.bus.Subscribe(channel, client)

	// Detached from the request lifetime: the read loop's presence touches
	// and the disconnect publish run long after this handler returns.
	ctx := context.WithoutCancel(c.Request.Context())
	info := h.connInfo(c, user)
	if err := h.presence.Touch(ctx, user.UserID); err != nil {
		h.log.Debug("presence touch failed", zap.Error(err))
	}

	observability.IncWSActive("notifications")
	observability.IncWSEvent("notifications", "ws_connect")
	h.publishWSEvent(ctx, "notifications", user.UserID, "ws_connect", info, "")

	go client.WritePump()
	go func() {
		var closeReason string
		defer func() {
			h.bus.Unsubscribe(channel, client)
			client.Close()
			observability.DecWSActive("notifications")
			observability.IncWSEvent("notifications", "ws_disconnect")
			h.publishWSEvent(ctx, "notifications", user.UserID, "ws_disconnect", info, closeReason)
		}()
		for {
			// Inbound frames on the personal channel only refresh presence.
			if _, _, err := wsConn.ReadMessage(); err != nil {
				closeReason = err.Error()
				return
			}
			if err := h.presence.Touch(ctx, user.UserID); err != nil {
				h.log.Debug("presence touch failed", zap.Error(err))
			}
		}
	}()
}

func (h *Handler) authenticate(c *gin.Context) (identity.Identity, bool) {
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	parts := strings.SplitN(token, " ", 2)
	if len(parts) != 2 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return identity.Identity{}, false
	}
	user, err := h.verifier.Verify(parts[1])
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return identity.Identity{}, false
	}
	return user, true
}

func (h *Handler) connInfo(c *gin.Context, user identity.Identity) ConnInfo {
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      user.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}
	return info
}

func (h *Handler) publishWSEvent(ctx context.Context, kind string, resourceID int, event string, info ConnInfo, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
			"trace_id":  info.TraceID,
		},
	}
	_ = h.publisher.Publish(ctx, wsRoutingKey(kind), rabbitmq.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	})
}

func wsRoutingKey(kind string) string {
	if kind == "notifications" {
		return "ws_events.notifications"
	}
	return "ws_events.rooms"
}
