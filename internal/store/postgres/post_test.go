package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora-server/internal/model"
	"agora-server/internal/store"
)

func TestGetPost(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "author_id", "content", "media", "tags", "likes", "comments", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT .+ FROM posts").WithArgs("p1").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("p1", "u1", "hello", "{a.jpg}", "{go,ws}", 2, 1, now, now),
	)
	mock.ExpectQuery("SELECT .+ FROM posts").WithArgs("missing").WillReturnRows(sqlmock.NewRows(cols))

	post, err := s.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, post.Media)
	assert.Equal(t, []string{"go", "ws"}, post.Tags)
	assert.Equal(t, 2, post.Likes)

	_, err = s.GetPost(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikePost_RefreshesCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM posts WHERE id = \\$1 FOR UPDATE").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("p1"))
	mock.ExpectExec("INSERT INTO post_likes").WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("UPDATE posts SET likes").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"likes"}).AddRow(3))
	mock.ExpectCommit()

	likes, err := s.LikePost(context.Background(), "p1", "u2")
	require.NoError(t, err)
	assert.Equal(t, 3, likes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnlikePost_MissingPostRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM posts").WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := s.UnlikePost(context.Background(), "gone", "u2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddComment_MissingPostRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	c := &model.Comment{ID: "c1", PostID: "gone", AuthorID: "u1", Content: "nice", CreatedAt: time.Now().UTC()}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE posts SET comments = comments \\+ 1").WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	assert.ErrorIs(t, s.AddComment(context.Background(), c), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteComment(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM post_comments").WithArgs("c1", "p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE posts SET comments = GREATEST").WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteComment(context.Background(), "p1", "c1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
