package model

import (
	"encoding/json"
	"time"
)

// ChatRoomType distinguishes direct conversations from groups.
type ChatRoomType string

const (
	ChatRoomPrivate ChatRoomType = "private"
	ChatRoomGroup   ChatRoomType = "group"
)

// MessageType is the content kind of a chat message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// ChatRoom is a persisted conversation.
type ChatRoom struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Type          ChatRoomType `json:"type"`
	Participants  []string     `json:"participants"`
	UnreadCount   int          `json:"unreadCount"`
	LastMessageID string       `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// HasParticipant reports whether userID takes part in the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// ChatMessage is a persisted message; it always references a room the sender
// belonged to when it was sent.
type ChatMessage struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"roomId"`
	SenderID  string          `json:"senderId"`
	Content   string          `json:"content"`
	Type      MessageType     `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	ReadBy    []string        `json:"readBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SendMessagePayload is the body of chat:message_send.
type SendMessagePayload struct {
	RoomID   string          `json:"roomId" validate:"required,max=128"`
	Content  string          `json:"content" validate:"required,max=5000"`
	Type     MessageType     `json:"type" validate:"required,oneof=text image file"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// CreateRoomPayload is the body of chat:room_create.
type CreateRoomPayload struct {
	Name string       `json:"name" validate:"required,min=1,max=100"`
	Type ChatRoomType `json:"type" validate:"required,oneof=private group"`
}

// RoomRefPayload addresses a room by id (join, leave, typing).
type RoomRefPayload struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

// MessageReadPayload is the body of chat:message_read.
type MessageReadPayload struct {
	RoomID    string `json:"roomId" validate:"required,max=128"`
	MessageID string `json:"messageId" validate:"required,max=128"`
}

// TypingNotice is broadcast on typing start/stop.
type TypingNotice struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ReadReceipt is broadcast when a member reads a message.
type ReadReceipt struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}
