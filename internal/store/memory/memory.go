// Package memory provides an in-process store for local mode and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora-server/internal/model"
	"agora-server/internal/store"
)

type product struct {
	model.Product
	categoryIDs []string
}

// Store keeps everything in maps guarded by one mutex, which also makes every
// product mutation atomic.
type Store struct {
	mu sync.RWMutex

	rooms    map[string]*model.ChatRoom
	messages map[string]*model.ChatMessage

	posts    map[string]*model.Post
	likes    map[string]map[string]struct{} // postID -> userIDs
	comments map[string]*model.Comment

	products   map[string]*product
	categories map[string]model.Category
	users      map[string]string // userID -> display name
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rooms:      make(map[string]*model.ChatRoom),
		messages:   make(map[string]*model.ChatMessage),
		posts:      make(map[string]*model.Post),
		likes:      make(map[string]map[string]struct{}),
		comments:   make(map[string]*model.Comment),
		products:   make(map[string]*product),
		categories: make(map[string]model.Category),
		users:      make(map[string]string),
	}
}

// PutCategory registers a category that products may link to.
func (s *Store) PutCategory(c model.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// PutUser registers a display name used for the seller join.
func (s *Store) PutUser(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = name
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateRoom stores a copy of room.
func (s *Store) CreateRoom(_ context.Context, room *model.ChatRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("room %s already exists", room.ID)
	}
	cp := *room
	cp.Participants = append([]string(nil), room.Participants...)
	s.rooms[room.ID] = &cp
	return nil
}

// GetRoom returns a copy of the room.
func (s *Store) GetRoom(_ context.Context, roomID string) (*model.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *room
	cp.Participants = append([]string(nil), room.Participants...)
	return &cp, nil
}

// AddParticipant is idempotent.
func (s *Store) AddParticipant(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	if !room.HasParticipant(userID) {
		room.Participants = append(room.Participants, userID)
		room.UpdatedAt = time.Now()
	}
	return nil
}

// CreateMessage stores msg and bumps the room's last message.
func (s *Store) CreateMessage(_ context.Context, msg *model.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *msg
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	s.messages[msg.ID] = &cp
	room.LastMessageID = msg.ID
	room.UpdatedAt = msg.CreatedAt
	return nil
}

// MarkRead adds userID to the message's readBy set.
func (s *Store) MarkRead(_ context.Context, roomID, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok || msg.RoomID != roomID {
		return store.ErrNotFound
	}
	for _, id := range msg.ReadBy {
		if id == userID {
			return nil
		}
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return nil
}

// Message returns a stored message; used by tests.
func (s *Store) Message(id string) (*model.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	cp := *msg
	cp.ReadBy = append([]string(nil), msg.ReadBy...)
	return &cp, true
}

func copyPost(p *model.Post) *model.Post {
	cp := *p
	cp.Media = append([]string(nil), p.Media...)
	cp.Tags = append([]string(nil), p.Tags...)
	return &cp
}

// CreatePost stores a copy of post.
func (s *Store) CreatePost(_ context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.ID] = copyPost(post)
	return nil
}

// GetPost returns a copy of the post.
func (s *Store) GetPost(_ context.Context, postID string) (*model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyPost(p), nil
}

// UpdatePost replaces the editable fields.
func (s *Store) UpdatePost(_ context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.posts[post.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Content = post.Content
	existing.Media = append([]string(nil), post.Media...)
	existing.Tags = append([]string(nil), post.Tags...)
	existing.UpdatedAt = post.UpdatedAt
	return nil
}

// DeletePost removes the post with its likes and comments.
func (s *Store) DeletePost(_ context.Context, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return store.ErrNotFound
	}
	delete(s.posts, postID)
	delete(s.likes, postID)
	for id, c := range s.comments {
		if c.PostID == postID {
			delete(s.comments, id)
		}
	}
	return nil
}

// LikePost is idempotent per user.
func (s *Store) LikePost(_ context.Context, postID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if s.likes[postID] == nil {
		s.likes[postID] = make(map[string]struct{})
	}
	s.likes[postID][userID] = struct{}{}
	p.Likes = len(s.likes[postID])
	return p.Likes, nil
}

// UnlikePost is idempotent per user.
func (s *Store) UnlikePost(_ context.Context, postID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return 0, store.ErrNotFound
	}
	delete(s.likes[postID], userID)
	p.Likes = len(s.likes[postID])
	return p.Likes, nil
}

// AddComment stores a comment on an existing post.
func (s *Store) AddComment(_ context.Context, comment *model.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[comment.PostID]
	if !ok {
		return store.ErrNotFound
	}
	cp := *comment
	s.comments[comment.ID] = &cp
	p.Comments++
	return nil
}

// GetComment returns a comment of the post.
func (s *Store) GetComment(_ context.Context, postID, commentID string) (*model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[commentID]
	if !ok || c.PostID != postID {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// DeleteComment removes a comment of the post.
func (s *Store) DeleteComment(_ context.Context, postID, commentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[commentID]
	if !ok || c.PostID != postID {
		return store.ErrNotFound
	}
	delete(s.comments, commentID)
	if p, ok := s.posts[postID]; ok && p.Comments > 0 {
		p.Comments--
	}
	return nil
}

// ProductSeller returns the persisted owner of a product.
func (s *Store) ProductSeller(_ context.Context, productID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return "", store.ErrNotFound
	}
	return p.SellerID, nil
}

// CreateProduct inserts a product with its category links.
func (s *Store) CreateProduct(_ context.Context, m model.ProductMutation) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCategoriesLocked(m.CategoryIDs); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &product{}
	p.ID = uuid.New().String()
	p.SellerID = m.SellerID
	p.CreatedAt = now
	applyMutation(p, m, now)
	s.products[p.ID] = p

	return s.joinedLocked(p), nil
}

// UpdateProduct rewrites scalars and replaces category links.
func (s *Store) UpdateProduct(_ context.Context, productID string, m model.ProductMutation) (*model.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := s.checkCategoriesLocked(m.CategoryIDs); err != nil {
		return nil, err
	}

	applyMutation(p, m, time.Now())
	return s.joinedLocked(p), nil
}

// DeleteProduct removes a product.
func (s *Store) DeleteProduct(_ context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, productID)
	return nil
}

// SearchProducts filters, sorts and pages products. The filter is expected to
// be normalized by the caller.
func (s *Store) SearchProducts(_ context.Context, f model.SearchFilter) ([]*model.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(f.Query))
	var matched []*product
	for _, p := range s.products {
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) &&
			!strings.Contains(strings.ToLower(p.Description), query) {
			continue
		}
		if f.SellerID != "" && p.SellerID != f.SellerID {
			continue
		}
		if f.CategoryID != "" && !contains(p.categoryIDs, f.CategoryID) {
			continue
		}
		if f.MinPrice != nil && p.Price < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && p.Price > *f.MaxPrice {
			continue
		}
		matched = append(matched, p)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch f.SortBy {
		case model.SortPriceAsc:
			return a.Price < b.Price
		case model.SortPriceDesc:
			return a.Price > b.Price
		case model.SortTitle:
			return a.Title < b.Title
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	total := len(matched)
	start := f.Page * f.PageSize
	if start < 0 || start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}

	items := make([]*model.Product, 0, end-start)
	for _, p := range matched[start:end] {
		items = append(items, s.joinedLocked(p))
	}
	return items, total, nil
}

func (s *Store) checkCategoriesLocked(ids []string) error {
	for _, id := range ids {
		if _, ok := s.categories[id]; !ok {
			return fmt.Errorf("category %s: %w", id, store.ErrNotFound)
		}
	}
	return nil
}

func applyMutation(p *product, m model.ProductMutation, now time.Time) {
	p.Title = m.Title
	p.Description = m.Description
	p.Price = m.Price
	p.Currency = m.Currency
	p.Stock = m.Stock
	p.Attributes = append([]model.ProductAttribute(nil), m.Attributes...)
	// replace, never merge
	p.categoryIDs = append([]string(nil), m.CategoryIDs...)
	p.UpdatedAt = now
}

func (s *Store) joinedLocked(p *product) *model.Product {
	out := p.Product
	out.Attributes = append([]model.ProductAttribute(nil), p.Attributes...)
	out.Categories = make([]model.Category, 0, len(p.categoryIDs))
	for _, id := range p.categoryIDs {
		out.Categories = append(out.Categories, s.categories[id])
	}
	out.Seller = &model.Seller{ID: p.SellerID, Name: s.users[p.SellerID]}
	return &out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
