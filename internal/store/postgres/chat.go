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

// CreateRoom inserts a chat room.
func (s *Store) CreateRoom(ctx context.Context, room *model.ChatRoom) error {
	query, args, err := psq.Insert("chat_rooms").
		Columns("id", "name", "type", "participants", "created_at", "updated_at").
		Values(room.ID, room.Name, string(room.Type), pq.Array(room.Participants), room.CreatedAt, room.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("building room insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting chat room: %w", err)
	}
	return nil
}

// GetRoom loads a chat room.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.ChatRoom, error) {
	query := `
		SELECT id, name, type, participants, COALESCE(last_message_id, ''), created_at, updated_at
		FROM chat_rooms
		WHERE id = $1
	`
	var room model.ChatRoom
	var roomType string
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(
		&room.ID, &room.Name, &roomType, pq.Array(&room.Participants),
		&room.LastMessageID, &room.CreatedAt, &room.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chat room: %w", err)
	}
	room.Type = model.ChatRoomType(roomType)
	return &room, nil
}

// AddParticipant appends userID unless already present.
func (s *Store) AddParticipant(ctx context.Context, roomID, userID string) error {
	query := `
		UPDATE chat_rooms
		SET participants = CASE WHEN $2 = ANY(participants) THEN participants ELSE array_append(participants, $2) END,
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, roomID, userID)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return requireAffected(res)
}

// CreateMessage inserts the message and bumps the room in one transaction.
func (s *Store) CreateMessage(ctx context.Context, msg *model.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metadata any
	if len(msg.Metadata) > 0 {
		metadata = []byte(msg.Metadata)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, room_id, sender_id, content, type, metadata, read_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Content, string(msg.Type), metadata, pq.Array(msg.ReadBy), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting chat message: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE chat_rooms SET last_message_id = $2, updated_at = $3 WHERE id = $1`,
		msg.RoomID, msg.ID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating last message: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chat message: %w", err)
	}
	return nil
}

// MarkRead adds userID to read_by unless already present.
func (s *Store) MarkRead(ctx context.Context, roomID, messageID, userID string) error {
	query := `
		UPDATE chat_messages
		SET read_by = CASE WHEN $3 = ANY(read_by) THEN read_by ELSE array_append(read_by, $3) END
		WHERE id = $1 AND room_id = $2
	`
	res, err := s.db.ExecContext(ctx, query, messageID, roomID, userID)
	if err != nil {
		return fmt.Errorf("marking message read: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
