package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agora-server/internal/model"
)

// ChatHandler serves chat:* events for one session.
type ChatHandler struct {
	session *Session
	deps    HandlerDeps
}

func NewChatHandler(s *Session, deps HandlerDeps) (*ChatHandler, error) {
	if s == nil || deps.Store == nil || deps.Registry == nil || deps.Typing == nil || deps.Validate == nil {
		return nil, errMissingDependency
	}
	return &ChatHandler{session: s, deps: deps}, nil
}

// Handle runs one chat event to completion.
func (h *ChatHandler) Handle(ctx context.Context, ev model.ChatEvent, data json.RawMessage) error {
	switch ev {
	case model.ChatMessageSend:
		return h.sendMessage(ctx, data)
	case model.ChatRoomCreate:
		return h.createRoom(ctx, data)
	case model.ChatRoomJoin:
		var p model.RoomRefPayload
		if err := decodePayload(h.deps.Validate, data, &p); err != nil {
			return err
		}
		return h.JoinRoom(ctx, p.RoomID)
	case model.ChatRoomLeave:
		return h.leaveRoom(data)
	case model.ChatTypingStart:
		return h.typing(data, true)
	case model.ChatTypingStop:
		return h.typing(data, false)
	case model.ChatMessageRead:
		return h.markRead(ctx, data)
	}
	return model.Validationf("unsupported chat event %q", ev)
}

func (h *ChatHandler) isMember(roomID string) bool {
	return h.deps.Registry.IsMember(h.session, model.ChatRoomID(roomID))
}

func (h *ChatHandler) sendMessage(ctx context.Context, data json.RawMessage) error {
	var p model.SendMessagePayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	if !h.isMember(p.RoomID) {
		return model.Forbiddenf("not a member of chat room %s", p.RoomID)
	}

	userID := h.session.UserID()
	msg := &model.ChatMessage{
		ID:        uuid.New().String(),
		RoomID:    p.RoomID,
		SenderID:  userID,
		Content:   p.Content,
		Type:      p.Type,
		Metadata:  p.Metadata,
		ReadBy:    []string{userID},
		CreatedAt: h.session.clock.Now().UTC(),
	}
	if err := h.deps.Store.CreateMessage(ctx, msg); err != nil {
		return storeError(err, "chat room")
	}

	recipients := h.deps.Registry.EmitToRoom(model.ChatRoomID(p.RoomID), model.ChatMessageReceive, model.OK(msg))
	h.deps.Typing.Stop(p.RoomID, userID)

	logrus.WithFields(logrus.Fields{
		"session_id": h.session.ID,
		"user_id":    userID,
		"room":       p.RoomID,
		"message_id": msg.ID,
		"recipients": recipients,
	}).Debug("chat message sent")
	return nil
}

func (h *ChatHandler) createRoom(ctx context.Context, data json.RawMessage) error {
	var p model.CreateRoomPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	now := h.session.clock.Now().UTC()
	room := &model.ChatRoom{
		ID:           uuid.New().String(),
		Name:         p.Name,
		Type:         p.Type,
		Participants: []string{h.session.UserID()},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.deps.Store.CreateRoom(ctx, room); err != nil {
		return storeError(err, "chat room")
	}
	if err := h.deps.Registry.Join(h.session, model.ChatRoomID(room.ID)); err != nil {
		return err
	}
	return h.session.Send(model.ChatRoomCreated, model.OK(room))
}

// JoinRoom admits the session to a persisted chat room. Private rooms only
// admit their participants; joining a group room makes the user one.
func (h *ChatHandler) JoinRoom(ctx context.Context, roomID string) error {
	room, err := h.deps.Store.GetRoom(ctx, roomID)
	if err != nil {
		return storeError(err, "chat room")
	}

	userID := h.session.UserID()
	if !room.HasParticipant(userID) {
		if room.Type == model.ChatRoomPrivate && !h.session.Identity.IsAdmin() {
			return model.Forbiddenf("chat room %s is private", roomID)
		}
		if err := h.deps.Store.AddParticipant(ctx, roomID, userID); err != nil {
			return storeError(err, "chat room")
		}
	}
	return h.deps.Registry.Join(h.session, model.ChatRoomID(roomID))
}

func (h *ChatHandler) leaveRoom(data json.RawMessage) error {
	var p model.RoomRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	h.deps.Typing.Stop(p.RoomID, h.session.UserID())
	h.deps.Registry.Leave(h.session, model.ChatRoomID(p.RoomID))
	return nil
}

func (h *ChatHandler) typing(data json.RawMessage, start bool) error {
	var p model.RoomRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	if !h.isMember(p.RoomID) {
		return nil
	}
	if start {
		h.deps.Typing.Start(p.RoomID, h.session.UserID(), h.session.ID)
	} else {
		h.deps.Typing.Stop(p.RoomID, h.session.UserID())
	}
	return nil
}

func (h *ChatHandler) markRead(ctx context.Context, data json.RawMessage) error {
	var p model.MessageReadPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}
	if !h.isMember(p.RoomID) {
		return model.Forbiddenf("not a member of chat room %s", p.RoomID)
	}

	userID := h.session.UserID()
	if err := h.deps.Store.MarkRead(ctx, p.RoomID, p.MessageID, userID); err != nil {
		return storeError(err, "message")
	}
	h.deps.Registry.EmitToRoom(model.ChatRoomID(p.RoomID), string(model.ChatMessageRead), model.ReadReceipt{
		RoomID:    p.RoomID,
		MessageID: p.MessageID,
		UserID:    userID,
	})
	return nil
}

// Close releases the session's typing state.
func (h *ChatHandler) Close() {
	h.deps.Typing.ClearSession(h.session.ID)
}
