package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agora-server/internal/model"
)

const maxPostTags = 10

// PostHandler serves post:* events for one session. Every mutation is
// acknowledged to the actor and broadcast to all other sessions with the
// same event name and payload.
type PostHandler struct {
	session *Session
	deps    HandlerDeps
}

func NewPostHandler(s *Session, deps HandlerDeps) (*PostHandler, error) {
	if s == nil || deps.Store == nil || deps.Validate == nil || deps.Broadcast == nil {
		return nil, errMissingDependency
	}
	return &PostHandler{session: s, deps: deps}, nil
}

// Handle runs one post event to completion.
func (h *PostHandler) Handle(ctx context.Context, ev model.PostEvent, data json.RawMessage) error {
	switch ev {
	case model.PostCreate:
		return h.create(ctx, data)
	case model.PostUpdate:
		return h.update(ctx, data)
	case model.PostDelete:
		return h.delete(ctx, data)
	case model.PostLike:
		return h.like(ctx, data, true)
	case model.PostUnlike:
		return h.like(ctx, data, false)
	case model.PostCommentAdd:
		return h.addComment(ctx, data)
	case model.PostCommentDelete:
		return h.deleteComment(ctx, data)
	}
	return model.Validationf("unsupported post event %q", ev)
}

func (h *PostHandler) create(ctx context.Context, data json.RawMessage) error {
	var p model.CreatePostPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	content := strings.TrimSpace(p.Content)
	if content == "" && len(p.Media) == 0 {
		return model.Validationf("post needs content or media")
	}
	if err := h.checkMedia(p.Media); err != nil {
		return err
	}

	now := h.session.clock.Now().UTC()
	post := &model.Post{
		ID:        uuid.New().String(),
		AuthorID:  h.session.UserID(),
		Content:   content,
		Media:     nonNil(p.Media),
		Tags:      NormalizeTags(p.Tags),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.deps.Store.CreatePost(ctx, post); err != nil {
		return storeError(err, "post")
	}
	return h.publish(model.PostCreated, post)
}

func (h *PostHandler) update(ctx context.Context, data json.RawMessage) error {
	var p model.UpdatePostPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	post, err := h.deps.Store.GetPost(ctx, p.PostID)
	if err != nil {
		return storeError(err, "post")
	}
	if !h.canModify(post.AuthorID) {
		return model.Forbiddenf("only the author or an admin may edit post %s", p.PostID)
	}

	if p.Content != nil {
		post.Content = strings.TrimSpace(*p.Content)
	}
	if p.Media != nil {
		if err := h.checkMedia(*p.Media); err != nil {
			return err
		}
		post.Media = nonNil(*p.Media)
	}
	if p.Tags != nil {
		post.Tags = NormalizeTags(*p.Tags)
	}
	if post.Content == "" && len(post.Media) == 0 {
		return model.Validationf("post needs content or media")
	}
	post.UpdatedAt = h.session.clock.Now().UTC()

	if err := h.deps.Store.UpdatePost(ctx, post); err != nil {
		return storeError(err, "post")
	}
	return h.publish(model.PostUpdated, post)
}

func (h *PostHandler) delete(ctx context.Context, data json.RawMessage) error {
	var p model.PostRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	post, err := h.deps.Store.GetPost(ctx, p.PostID)
	if err != nil {
		return storeError(err, "post")
	}
	if !h.canModify(post.AuthorID) {
		return model.Forbiddenf("only the author or an admin may delete post %s", p.PostID)
	}
	if err := h.deps.Store.DeletePost(ctx, p.PostID); err != nil {
		return storeError(err, "post")
	}
	return h.publish(model.PostDeleted, model.PostDeletion{
		PostID:  p.PostID,
		ActorID: h.session.UserID(),
	})
}

func (h *PostHandler) like(ctx context.Context, data json.RawMessage, like bool) error {
	var p model.PostRefPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	var (
		likes int
		err   error
		event = model.PostLiked
	)
	if like {
		likes, err = h.deps.Store.LikePost(ctx, p.PostID, h.session.UserID())
	} else {
		event = model.PostUnliked
		likes, err = h.deps.Store.UnlikePost(ctx, p.PostID, h.session.UserID())
	}
	if err != nil {
		return storeError(err, "post")
	}
	return h.publish(event, model.LikeChange{
		PostID:  p.PostID,
		ActorID: h.session.UserID(),
		Likes:   likes,
	})
}

func (h *PostHandler) addComment(ctx context.Context, data json.RawMessage) error {
	var p model.AddCommentPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		return model.Validationf("comment content is empty")
	}
	comment := &model.Comment{
		ID:        uuid.New().String(),
		PostID:    p.PostID,
		AuthorID:  h.session.UserID(),
		Content:   content,
		CreatedAt: h.session.clock.Now().UTC(),
	}
	if err := h.deps.Store.AddComment(ctx, comment); err != nil {
		return storeError(err, "post")
	}
	return h.publish(model.PostCommentAdded, comment)
}

func (h *PostHandler) deleteComment(ctx context.Context, data json.RawMessage) error {
	var p model.DeleteCommentPayload
	if err := decodePayload(h.deps.Validate, data, &p); err != nil {
		return err
	}

	post, err := h.deps.Store.GetPost(ctx, p.PostID)
	if err != nil {
		return storeError(err, "post")
	}
	comment, err := h.deps.Store.GetComment(ctx, p.PostID, p.CommentID)
	if err != nil {
		return storeError(err, "comment")
	}

	userID := h.session.UserID()
	if comment.AuthorID != userID && !h.canModify(post.AuthorID) {
		return model.Forbiddenf("not allowed to delete comment %s", p.CommentID)
	}
	if err := h.deps.Store.DeleteComment(ctx, p.PostID, p.CommentID); err != nil {
		return storeError(err, "comment")
	}
	return h.publish(model.PostCommentDeleted, model.CommentDeletion{
		PostID:    p.PostID,
		CommentID: p.CommentID,
		ActorID:   userID,
	})
}

func (h *PostHandler) canModify(authorID string) bool {
	return authorID == h.session.UserID() || h.session.Identity.IsAdmin()
}

func (h *PostHandler) checkMedia(media []string) error {
	limit := model.MediaLimit(h.session.Identity.AccountLevel)
	if len(media) > limit {
		return model.Validationf("%s accounts may attach at most %d media items", h.session.Identity.AccountLevel, limit)
	}
	return nil
}

// publish acks the actor and broadcasts the identical result to everyone else.
func (h *PostHandler) publish(event string, data interface{}) error {
	result := model.OK(data)
	env := model.NewEnvelope(event, result)
	if err := h.session.SendEnvelope(env); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": h.session.ID,
			"event":      event,
		}).Warn("post ack not delivered")
	}
	h.deps.Broadcast.Broadcast(event, env.Data, h.session.ID)
	return nil
}

// NormalizeTags lower-cases, trims and de-duplicates tags, keeping the
// first ten in input order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == maxPostTags {
			break
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
