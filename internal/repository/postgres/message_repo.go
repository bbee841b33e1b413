package postgres

import (
	"context"
	"errors"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a message and returns it with id, timestamp and sender name.
func (r *MessageRepo) Create(ctx context.Context, nm model.NewMessage) (*model.Message, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	var fileURL, fileName, fileType *string
	if a := nm.Attachment; a != nil {
		fileURL, fileName, fileType = &a.URL, &a.Name, &a.Type
	}
	kind := nm.Kind
	if kind == "" {
		kind = model.KindText
	}

	const q = `
WITH ins AS (
  INSERT INTO messages (id, room_kind, room_id, sender_id, kind, body, file_url, file_name, file_type)
  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
  RETURNING sender_id, created_at
)
SELECT ins.created_at, u.display_name FROM ins JOIN users u ON u.id = ins.sender_id`
	m := &model.Message{
		ID:         id,
		Room:       nm.Room,
		SenderID:   nm.SenderID,
		Kind:       kind,
		Body:       nm.Body,
		Attachment: nm.Attachment,
	}
	err = r.db.Pool.QueryRow(ctx, q, id, string(nm.Room.Kind), nm.Room.ID, nm.SenderID, kind, nm.Body,
		fileURL, fileName, fileType).Scan(&m.CreatedAt, &m.SenderName)
	if err != nil {
		if isForeignKeyViolation(err) || errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

const messageCols = `m.id, m.room_kind, m.room_id, m.sender_id, u.display_name, m.kind, m.body,
       m.file_url, m.file_name, m.file_type, m.is_read, m.created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m                           model.Message
		kind                        string
		fileURL, fileName, fileType *string
	)
	if err := row.Scan(&m.ID, &kind, &m.Room.ID, &m.SenderID, &m.SenderName, &m.Kind, &m.Body,
		&fileURL, &fileName, &fileType, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Room.Kind = model.RoomKind(kind)
	if fileURL != nil && *fileURL != "" {
		m.Attachment = &model.Attachment{URL: *fileURL, Name: deref(fileName), Type: deref(fileType)}
	}
	return &m, nil
}

// Get selects a message by ID.
func (r *MessageRepo) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	const q = `SELECT ` + messageCols + ` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id=$1`
	m, err := scanMessage(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return m, err
}

// Delete removes a message row.
func (r *MessageRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM messages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// List returns the newest q.Limit messages before q.Before, oldest first.
func (r *MessageRepo) List(ctx context.Context, room model.Room, hq model.HistoryQuery) ([]model.Message, error) {
	const q = `
SELECT * FROM (
  SELECT ` + messageCols + `
  FROM messages m JOIN users u ON u.id = m.sender_id
  WHERE m.room_kind=$1 AND m.room_id=$2 AND ($3::timestamptz IS NULL OR m.created_at < $3)
  ORDER BY m.created_at DESC, m.id DESC
  LIMIT $4
) page ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, string(room.Kind), room.ID, hq.Before, hq.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Message, 0, hq.Limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkRead flags unread messages of the other participants as read.
func (r *MessageRepo) MarkRead(ctx context.Context, room model.Room, readerID uuid.UUID) (int64, error) {
	const q = `
UPDATE messages SET is_read=true
WHERE room_kind=$1 AND room_id=$2 AND sender_id<>$3 AND NOT is_read`
	tag, err := r.db.Pool.Exec(ctx, q, string(room.Kind), room.ID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
