package service

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"agora-server/internal/store"
)

// HandlerDeps are the collaborators every domain handler is built from.
type HandlerDeps struct {
	Store     store.Store
	Registry  *RoomRegistry
	Typing    *TypingTracker
	Validate  *validator.Validate
	Broadcast Broadcaster
	Search    SearchLimits
}

// Broadcaster delivers a frame to every active session except one.
type Broadcaster interface {
	Broadcast(event string, data interface{}, exceptSessionID string) int
}

// SearchLimits bound marketplace search pages.
type SearchLimits struct {
	DefaultPageSize int
	MaxPageSize     int
}

var errMissingDependency = errors.New("handler dependency missing")
