package relay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chat-relay/internal/identity"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/presence"
	"chat-relay/internal/registry"
	"chat-relay/internal/repositories"
	"chat-relay/internal/stream"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotParticipant   = errors.New("not a room participant")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Bus is the slice of the presence registry the relay drives.
type Bus interface {
	Subscribe(key string, sub registry.Subscriber)
	Unsubscribe(key string, sub registry.Subscriber)
	Publish(key string, event any) int
}

// Service is the relay core: it owns the send pipeline and every mutation
// that has to reach live subscribers.
type Service struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	bus      Bus
	presence presence.Tracker
	stream   stream.Producer
	log      *zap.Logger
}

// NewService wires the relay core.
func NewService(rooms repositories.RoomRepository, messages repositories.MessageRepository, bus Bus, tracker presence.Tracker, producer stream.Producer, log *zap.Logger) *Service {
	return &Service{
		rooms:    rooms,
		messages: messages,
		bus:      bus,
		presence: tracker,
		stream:   producer,
		log:      log,
	}
}

// Authorize checks that the user may hold a connection to the room: the room
// must exist and the user must be a participant.
func (s *Service) Authorize(ctx context.Context, roomID int, user identity.Identity) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(user.UserID) {
		return ErrNotParticipant
	}
	return nil
}

// Send appends a message to the room's log and fans it out: the room is
// unhidden for every participant (the sender's own earlier delete-for-me
// included), each other participant gets a badge on their personal channel,
// and the full message event goes to the room channel. Returns
// repositories.ErrRoomNotFound when the room vanished; the caller decides how
// to surface that to its own connection.
func (s *Service) Send(ctx context.Context, roomID int, sender identity.Identity, body string) (models.Message, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return models.Message{}, err
	}
	if !room.HasParticipant(sender.UserID) {
		return models.Message{}, ErrNotParticipant
	}

	msg, err := s.messages.Append(ctx, roomID, sender.UserID, body)
	if err != nil {
		return models.Message{}, err
	}

	for _, userID := range room.Participants() {
		if err := s.rooms.UnhideRoomForUser(ctx, roomID, userID); err != nil {
			s.log.Warn("unhide failed", zap.Int("room_id", roomID), zap.Int("user_id", userID), zap.Error(err))
		}
		if userID == sender.UserID {
			continue
		}
		delivered := s.bus.Publish(registry.UserChannel(userID), models.NotificationEvent{
			Type:     models.EventNotification,
			RoomID:   roomID,
			RoomName: room.Name,
			SenderID: sender.UserID,
			Sender:   sender.Username,
			Message:  body,
		})
		observability.AddFanoutDelivered("notification", delivered)
	}

	// Best-effort avatar: a lookup failure only omits the field.
	avatarURL, err := s.presence.AvatarURL(ctx, sender.UserID)
	if err != nil {
		s.log.Debug("avatar lookup failed", zap.Int("user_id", sender.UserID), zap.Error(err))
		avatarURL = ""
	}

	delivered := s.bus.Publish(registry.RoomChannel(roomID), models.ChatMessageEvent{
		Type:      models.EventChatMessage,
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		Seq:       msg.Seq,
		SenderID:  msg.SenderID,
		Sender:    sender.Username,
		Message:   msg.Content,
		AvatarURL: avatarURL,
		CreatedAt: msg.CreatedAt,
	})
	observability.AddFanoutDelivered("chat_message", delivered)

	if err := s.stream.PublishMessageSent(ctx, stream.MessageSentEvent{
		MessageID:  msg.ID,
		RoomID:     msg.RoomID,
		Seq:        msg.Seq,
		SenderID:   msg.SenderID,
		OccurredAt: msg.CreatedAt,
	}); err != nil {
		observability.IncStreamPublishError()
		s.log.Warn("message stream publish failed", zap.Int("message_id", msg.ID), zap.Error(err))
	}

	return msg, nil
}

// DeleteMessageForAll hard-deletes a message for everyone. Only the sender or
// a privileged actor may do this; a rejected attempt changes nothing and
// broadcasts nothing.
func (s *Service) DeleteMessageForAll(ctx context.Context, roomID, messageID int, actor identity.Identity) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(actor.UserID) && !actor.Privileged {
		return ErrNotParticipant
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RoomID != roomID {
		return repositories.ErrMessageNotFound
	}
	if msg.SenderID != actor.UserID && !actor.Privileged {
		return ErrPermissionDenied
	}

	if err := s.messages.DeleteGlobally(ctx, messageID); err != nil {
		return err
	}

	delivered := s.bus.Publish(registry.RoomChannel(roomID), models.MessageDeletedEvent{
		Type:      models.EventMessageDeleted,
		MessageID: messageID,
	})
	observability.AddFanoutDelivered("message_deleted", delivered)
	return nil
}

// DeleteMessageForMe tombstones a message for the viewer only. No broadcast;
// other participants' views are untouched.
func (s *Service) DeleteMessageForMe(ctx context.Context, roomID, messageID int, viewer identity.Identity) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(viewer.UserID) {
		return ErrNotParticipant
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.RoomID != roomID {
		return repositories.ErrMessageNotFound
	}

	return s.messages.TombstoneForUser(ctx, messageID, viewer.UserID)
}

// DeleteRoomForMe hides the room and tombstones all its current messages for
// the requester only. Nothing is published; the other participant never
// learns about it.
func (s *Service) DeleteRoomForMe(ctx context.Context, roomID int, viewer identity.Identity) error {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(viewer.UserID) {
		return ErrNotParticipant
	}

	if err := s.rooms.HideRoomForUser(ctx, roomID, viewer.UserID); err != nil {
		return err
	}
	return s.messages.TombstoneRoomForUser(ctx, roomID, viewer.UserID)
}

// OpenRoom finds or creates the direct room with the friend and clears the
// requester's own tombstone. The friend's tombstone, if any, stays until they
// unhide independently (or a new message arrives).
func (s *Service) OpenRoom(ctx context.Context, requester identity.Identity, friendID int, friendName string) (models.Room, error) {
	if friendName == "" {
		friendName = fmt.Sprintf("user-%d", friendID)
	}
	name := fmt.Sprintf("%s & %s", requester.Username, friendName)

	room, err := s.rooms.FindOrCreateDirectRoom(ctx, requester.UserID, friendID, name)
	if err != nil {
		return models.Room{}, err
	}
	if err := s.rooms.UnhideRoomForUser(ctx, room.ID, requester.UserID); err != nil {
		return models.Room{}, err
	}
	return room, nil
}
