// Package store defines the persistence collaborator consumed by the
// real-time handlers.
package store

import (
	"context"
	"errors"

	"agora-server/internal/model"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ChatStore persists chat rooms and messages.
type ChatStore interface {
	CreateRoom(ctx context.Context, room *model.ChatRoom) error
	GetRoom(ctx context.Context, roomID string) (*model.ChatRoom, error)
	AddParticipant(ctx context.Context, roomID, userID string) error
	// CreateMessage stores msg and records it as the room's last message.
	CreateMessage(ctx context.Context, msg *model.ChatMessage) error
	MarkRead(ctx context.Context, roomID, messageID, userID string) error
}

// PostStore persists posts, likes and comments.
type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, postID string) (*model.Post, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	DeletePost(ctx context.Context, postID string) error
	// LikePost is idempotent per user and returns the new like count.
	LikePost(ctx context.Context, postID, userID string) (int, error)
	UnlikePost(ctx context.Context, postID, userID string) (int, error)
	AddComment(ctx context.Context, comment *model.Comment) error
	GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error)
	DeleteComment(ctx context.Context, postID, commentID string) error
}

// ProductStore persists marketplace products. CreateProduct and UpdateProduct
// are single atomic transactions: scalar write, category link replacement and
// a joined re-read either all happen or none do.
type ProductStore interface {
	ProductSeller(ctx context.Context, productID string) (string, error)
	CreateProduct(ctx context.Context, m model.ProductMutation) (*model.Product, error)
	UpdateProduct(ctx context.Context, productID string, m model.ProductMutation) (*model.Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	SearchProducts(ctx context.Context, filter model.SearchFilter) ([]*model.Product, int, error)
}

// Store bundles every collaborator the gateway needs.
type Store interface {
	ChatStore
	PostStore
	ProductStore
	Close() error
}
