package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"agora-server/internal/model"
	"agora-server/internal/store"
)

// CreatePost inserts a post.
func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	query, args, err := psq.Insert("posts").
		Columns("id", "author_id", "content", "media", "tags", "created_at", "updated_at").
		Values(post.ID, post.AuthorID, post.Content, pq.Array(post.Media), pq.Array(post.Tags), post.CreatedAt, post.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building post insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	return nil
}

// GetPost loads a post.
func (s *Store) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	query := `
		SELECT id, author_id, content, media, tags, likes, comments, created_at, updated_at
		FROM posts
		WHERE id = $1
	`
	var p model.Post
	err := s.db.QueryRowContext(ctx, query, postID).Scan(
		&p.ID, &p.AuthorID, &p.Content, pq.Array(&p.Media), pq.Array(&p.Tags),
		&p.Likes, &p.Comments, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning post: %w", err)
	}
	return &p, nil
}

// UpdatePost rewrites the editable fields.
func (s *Store) UpdatePost(ctx context.Context, post *model.Post) error {
	query, args, err := psq.Update("posts").
		Set("content", post.Content).
		Set("media", pq.Array(post.Media)).
		Set("tags", pq.Array(post.Tags)).
		Set("updated_at", post.UpdatedAt).
		Where("id = ?", post.ID).
		ToSql()
	if err != nil {
		return fmt.Errorf("building post update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating post: %w", err)
	}
	return requireAffected(res)
}

// DeletePost removes a post; likes and comments cascade.
func (s *Store) DeletePost(ctx context.Context, postID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	return requireAffected(res)
}

// LikePost records a like and returns the refreshed count.
func (s *Store) LikePost(ctx context.Context, postID, userID string) (int, error) {
	return s.changeLike(ctx, postID,
		`INSERT INTO post_likes (post_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID)
}

// UnlikePost removes a like and returns the refreshed count.
func (s *Store) UnlikePost(ctx context.Context, postID, userID string) (int, error) {
	return s.changeLike(ctx, postID,
		`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`,
		userID)
}

func (s *Store) changeLike(ctx context.Context, postID, stmt, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("locking post: %w", err)
	}

	if _, err := tx.ExecContext(ctx, stmt, postID, userID); err != nil {
		return 0, fmt.Errorf("changing like: %w", err)
	}

	var likes int
	if err := tx.QueryRowContext(ctx, `
		UPDATE posts SET likes = (SELECT COUNT(*) FROM post_likes WHERE post_id = $1)
		WHERE id = $1
		RETURNING likes
	`, postID).Scan(&likes); err != nil {
		return 0, fmt.Errorf("refreshing like count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing like: %w", err)
	}
	return likes, nil
}

// AddComment inserts a comment and bumps the post's counter.
func (s *Store) AddComment(ctx context.Context, c *model.Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE posts SET comments = comments + 1 WHERE id = $1`, c.PostID)
	if err != nil {
		return fmt.Errorf("bumping comment count: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO post_comments (id, post_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.PostID, c.AuthorID, c.Content, c.CreatedAt); err != nil {
		return fmt.Errorf("inserting comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing comment: %w", err)
	}
	return nil
}

// GetComment loads a comment of the post.
func (s *Store) GetComment(ctx context.Context, postID, commentID string) (*model.Comment, error) {
	var c model.Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, post_id, author_id, content, created_at
		FROM post_comments
		WHERE id = $1 AND post_id = $2
	`, commentID, postID).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Content, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning comment: %w", err)
	}
	return &c, nil
}

// DeleteComment removes a comment and decrements the post's counter.
func (s *Store) DeleteComment(ctx context.Context, postID, commentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM post_comments WHERE id = $1 AND post_id = $2`, commentID, postID)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE posts SET comments = GREATEST(comments - 1, 0) WHERE id = $1`, postID,
	); err != nil {
		return fmt.Errorf("decrementing comment count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing comment deletion: %w", err)
	}
	return nil
}
