package model

import "time"

// Post is a community feed entry.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	Media     []string  `json:"media"`
	Tags      []string  `json:"tags"`
	Likes     int       `json:"likes"`
	Comments  int       `json:"comments"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Comment belongs to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreatePostPayload is the body of post:create.
type CreatePostPayload struct {
	Content string   `json:"content" validate:"max=10000"`
	Media   []string `json:"media" validate:"dive,required,url"`
	Tags    []string `json:"tags" validate:"max=10,dive,required,max=50"`
}

// UpdatePostPayload is the body of post:update; nil fields are left untouched.
type UpdatePostPayload struct {
	PostID  string    `json:"postId" validate:"required"`
	Content *string   `json:"content,omitempty" validate:"omitempty,max=10000"`
	Media   *[]string `json:"media,omitempty" validate:"omitempty,dive,required,url"`
	Tags    *[]string `json:"tags,omitempty" validate:"omitempty,max=10,dive,required,max=50"`
}

// PostRefPayload addresses a post (delete, like, unlike).
type PostRefPayload struct {
	PostID string `json:"postId" validate:"required"`
}

// AddCommentPayload is the body of post:comment_add.
type AddCommentPayload struct {
	PostID  string `json:"postId" validate:"required"`
	Content string `json:"content" validate:"required,max=2000"`
}

// DeleteCommentPayload is the body of post:comment_delete.
type DeleteCommentPayload struct {
	PostID    string `json:"postId" validate:"required"`
	CommentID string `json:"commentId" validate:"required"`
}

// PostDeletion is the data of post:deleted.
type PostDeletion struct {
	PostID  string `json:"postId"`
	ActorID string `json:"actorId"`
}

// LikeChange is the data of post:liked / post:unliked.
type LikeChange struct {
	PostID  string `json:"postId"`
	ActorID string `json:"actorId"`
	Likes   int    `json:"likes"`
}

// CommentDeletion is the data of post:comment_deleted.
type CommentDeletion struct {
	PostID    string `json:"postId"`
	CommentID string `json:"commentId"`
	ActorID   string `json:"actorId"`
}

// MediaLimit is the number of attachments an account level may put on a post.
func MediaLimit(level AccountLevel) int {
	switch level {
	case LevelEnterprise:
		return 20
	case LevelPremium:
		return 10
	default:
		return 4
	}
}
