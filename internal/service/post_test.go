package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora-server/internal/model"
)

func TestPost_CreateAckAndBroadcastMatch(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)
	_, bobTr := env.connect(t, "bob", model.RoleUser)

	env.send(alice, "post:create", map[string]interface{}{
		"content": "  first light on the ridge ",
		"media":   []string{"https://cdn.example.com/a.jpg"},
		"tags":    []string{"Hiking", "hiking", " Dawn "},
	})

	ack := aliceTr.find(model.PostCreated)
	echo := bobTr.find(model.PostCreated)
	require.Len(t, ack, 1)
	require.Len(t, echo, 1)
	assert.JSONEq(t, string(ack[0].Data), string(echo[0].Data))

	var post model.Post
	assert.True(t, decodeResult(t, echo[0], &post).Success)
	assert.Equal(t, "alice", post.AuthorID)
	assert.Equal(t, "first light on the ridge", post.Content)
	assert.Equal(t, []string{"hiking", "dawn"}, post.Tags)

	stored, err := env.store.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, post.Content, stored.Content)
}

func TestPost_CreateValidation(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)
	_, bobTr := env.connect(t, "bob", model.RoleUser)

	env.send(alice, "post:create", map[string]interface{}{"content": "   "})
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, aliceTr, "post:error"))

	media := make([]string, 5)
	for i := range media {
		media[i] = fmt.Sprintf("https://cdn.example.com/%d.jpg", i)
	}
	env.send(alice, "post:create", map[string]interface{}{"content": "album", "media": media})
	assert.Len(t, aliceTr.find("post:error"), 2)

	assert.Empty(t, bobTr.events())
}

func TestPost_MediaLimitFollowsAccountLevel(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connectLevel(t, "alice", model.RoleUser, model.LevelPremium)

	media := make([]string, 10)
	for i := range media {
		media[i] = fmt.Sprintf("https://cdn.example.com/%d.jpg", i)
	}
	env.send(alice, "post:create", map[string]interface{}{"content": "album", "media": media})

	assert.Empty(t, aliceTr.find("post:error"))
	assert.Len(t, aliceTr.find(model.PostCreated), 1)
}

func createPost(t *testing.T, env *testEnv, s *Session, tr *fakeTransport) model.Post {
	t.Helper()
	env.send(s, "post:create", map[string]interface{}{"content": "hello"})
	frames := tr.find(model.PostCreated)
	require.NotEmpty(t, frames)
	var post model.Post
	decodeResult(t, frames[len(frames)-1], &post)
	tr.reset()
	return post
}

func TestPost_UpdateRequiresAuthorOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)
	bob, bobTr := env.connect(t, "bob", model.RoleUser)
	admin, adminTr := env.connect(t, "root", model.RoleAdmin)
	post := createPost(t, env, alice, aliceTr)
	bobTr.reset()
	adminTr.reset()

	env.send(bob, "post:update", map[string]interface{}{"postId": post.ID, "content": "defaced"})
	assert.Equal(t, "FORBIDDEN", errorCode(t, bobTr, "post:error"))
	assert.Empty(t, aliceTr.events())

	stored, err := env.store.GetPost(context.Background(), post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)

	env.send(admin, "post:update", map[string]interface{}{"postId": post.ID, "content": "moderated"})
	require.Len(t, aliceTr.find(model.PostUpdated), 1)
	var updated model.Post
	decodeResult(t, aliceTr.find(model.PostUpdated)[0], &updated)
	assert.Equal(t, "moderated", updated.Content)
}

func TestPost_DeleteUnknown(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)

	env.send(alice, "post:delete", map[string]string{"postId": "missing"})
	assert.Equal(t, "NOT_FOUND", errorCode(t, aliceTr, "post:error"))
}

func TestPost_LikeUnlike(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)
	bob, bobTr := env.connect(t, "bob", model.RoleUser)
	post := createPost(t, env, alice, aliceTr)
	bobTr.reset()

	env.send(bob, "post:like", map[string]string{"postId": post.ID})
	env.send(bob, "post:like", map[string]string{"postId": post.ID})

	likes := aliceTr.find(model.PostLiked)
	require.Len(t, likes, 2)
	var change model.LikeChange
	decodeResult(t, likes[1], &change)
	assert.Equal(t, model.LikeChange{PostID: post.ID, ActorID: "bob", Likes: 1}, change)

	env.send(bob, "post:unlike", map[string]string{"postId": post.ID})
	decodeResult(t, bobTr.find(model.PostUnliked)[0], &change)
	assert.Equal(t, 0, change.Likes)
}

func TestPost_CommentDeleteRules(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceTr := env.connect(t, "alice", model.RoleUser)
	bob, bobTr := env.connect(t, "bob", model.RoleUser)
	carol, carolTr := env.connect(t, "carol", model.RoleUser)
	post := createPost(t, env, alice, aliceTr)

	env.send(bob, "post:comment_add", map[string]string{"postId": post.ID, "content": "nice"})
	var comment model.Comment
	decodeResult(t, bobTr.find(model.PostCommentAdded)[0], &comment)
	assert.Equal(t, "bob", comment.AuthorID)

	env.send(carol, "post:comment_delete", map[string]string{"postId": post.ID, "commentId": comment.ID})
	assert.Equal(t, "FORBIDDEN", errorCode(t, carolTr, "post:error"))

	// the post author may remove comments on their post
	env.send(alice, "post:comment_delete", map[string]string{"postId": post.ID, "commentId": comment.ID})
	deleted := bobTr.find(model.PostCommentDeleted)
	require.Len(t, deleted, 1)
	var del model.CommentDeletion
	decodeResult(t, deleted[0], &del)
	assert.Equal(t, "alice", del.ActorID)

	_, err := env.store.GetComment(context.Background(), post.ID, comment.ID)
	assert.Error(t, err)
}

func TestNormalizeTags(t *testing.T) {
	in := []string{"Go", "go", " ", "A", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	out := NormalizeTags(in)
	assert.Len(t, out, 10)
	assert.Equal(t, "go", out[0])
	assert.Equal(t, "a", out[1])
	assert.Empty(t, NormalizeTags(nil))
}
