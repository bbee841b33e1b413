package postgres

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ChatRepo implements ChatRepository using PostgreSQL.
type ChatRepo struct{ db *DB }

// NewChatRepo constructs a direct chat repository.
func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

// orderedPair returns a and b in the order enforced by the direct_chats CHECK.
func orderedPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// GetOrCreate returns the chat of the unordered pair (a, b), inserting it if needed.
func (r *ChatRepo) GetOrCreate(ctx context.Context, a, b uuid.UUID) (model.DirectChat, bool, error) {
	ua, ub := orderedPair(a, b)
	id, err := uuid.NewV4()
	if err != nil {
		return model.DirectChat{}, false, err
	}

	const ins = `
INSERT INTO direct_chats (id, user_a, user_b) VALUES ($1, $2, $3)
ON CONFLICT (user_a, user_b) DO NOTHING
RETURNING created_at`
	var created time.Time
	err = r.db.Pool.QueryRow(ctx, ins, id, ua, ub).Scan(&created)
	switch {
	case err == nil:
		return model.DirectChat{ID: id, UserA: ua, UserB: ub, CreatedAt: created}, true, nil
	case isForeignKeyViolation(err):
		return model.DirectChat{}, false, errs.ErrNotFound
	case !errors.Is(err, pgx.ErrNoRows):
		return model.DirectChat{}, false, err
	}

	const sel = `SELECT id, user_a, user_b, created_at FROM direct_chats WHERE user_a=$1 AND user_b=$2`
	var c model.DirectChat
	if err := r.db.Pool.QueryRow(ctx, sel, ua, ub).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt); err != nil {
		return model.DirectChat{}, false, err
	}
	return c, false, nil
}

// Get selects a chat by ID.
func (r *ChatRepo) Get(ctx context.Context, id uuid.UUID) (*model.DirectChat, error) {
	const q = `SELECT id, user_a, user_b, created_at FROM direct_chats WHERE id=$1`
	var c model.DirectChat
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListForUser returns chats ordered by latest activity.
func (r *ChatRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.DirectChat, error) {
	const q = `
SELECT c.id, c.user_a, c.user_b, c.created_at,
       u.id, u.username, u.display_name, u.status, u.last_seen,
       lm.id, lm.sender_id, lm.kind, lm.body, lm.created_at,
       (SELECT count(*) FROM messages m
         WHERE m.room_kind='direct' AND m.room_id=c.id AND m.sender_id<>$1 AND NOT m.is_read)
FROM direct_chats c
JOIN users u ON u.id = CASE WHEN c.user_a=$1 THEN c.user_b ELSE c.user_a END
LEFT JOIN LATERAL (
  SELECT id, sender_id, kind, body, created_at FROM messages
  WHERE room_kind='direct' AND room_id=c.id
  ORDER BY created_at DESC, id DESC LIMIT 1
) lm ON true
WHERE c.user_a=$1 OR c.user_b=$1
ORDER BY COALESCE(lm.created_at, c.created_at) DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DirectChat
	for rows.Next() {
		var (
			c      model.DirectChat
			peer   model.User
			lmID   uuid.NullUUID
			lmFrom uuid.NullUUID
			lmKind *string
			lmBody *string
			lmAt   *time.Time
			unread int64
		)
		if err := rows.Scan(&c.ID, &c.UserA, &c.UserB, &c.CreatedAt,
			&peer.ID, &peer.Username, &peer.DisplayName, &peer.Status, &peer.LastSeen,
			&lmID, &lmFrom, &lmKind, &lmBody, &lmAt, &unread); err != nil {
			return nil, err
		}
		c.Peer = &peer
		c.Unread = int(unread)
		if lmID.Valid {
			c.LastMessage = &model.Message{
				ID:       lmID.UUID,
				Room:     model.DirectRoom(c.ID),
				SenderID: lmFrom.UUID,
				Kind:     deref(lmKind),
				Body:     deref(lmBody),
			}
			if lmAt != nil {
				c.LastMessage.CreatedAt = *lmAt
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
