package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// Create inserts the group, the creator as admin and the remaining members.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group, memberIDs []uuid.UUID) error {
	const insGroup = `
INSERT INTO groups (id, name, description, created_by) VALUES ($1, $2, $3, $4)
RETURNING created_at`
	const insMember = `
INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)
ON CONFLICT (group_id, user_id) DO NOTHING`

	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insGroup, g.ID, g.Name, g.Description, g.CreatedBy).Scan(&g.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insMember, g.ID, g.CreatedBy, model.RoleAdmin); err != nil {
			return err
		}
		for _, id := range memberIDs {
			if id == g.CreatedBy {
				continue
			}
			if _, err := tx.Exec(ctx, insMember, g.ID, id, model.RoleMember); err != nil {
				return err
			}
		}
		return nil
	})
	if isForeignKeyViolation(err) {
		return errs.ErrNotFound
	}
	return err
}

// ListForUser returns the user's groups with their latest message.
func (r *GroupRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.Group, error) {
	const q = `
SELECT g.id, g.name, g.description, g.created_by, g.created_at,
       lm.id, lm.sender_id, lm.kind, lm.body, lm.created_at
FROM groups g
JOIN group_members gm ON gm.group_id = g.id AND gm.user_id = $1
LEFT JOIN LATERAL (
  SELECT id, sender_id, kind, body, created_at FROM messages
  WHERE room_kind='group' AND room_id=g.id
  ORDER BY created_at DESC, id DESC LIMIT 1
) lm ON true
ORDER BY COALESCE(lm.created_at, g.created_at) DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Group
	for rows.Next() {
		var (
			g      model.Group
			lmID   uuid.NullUUID
			lmFrom uuid.NullUUID
			lmKind *string
			lmBody *string
			lmAt   *time.Time
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt,
			&lmID, &lmFrom, &lmKind, &lmBody, &lmAt); err != nil {
			return nil, err
		}
		if lmID.Valid {
			g.LastMessage = &model.Message{
				ID:       lmID.UUID,
				Room:     model.GroupRoom(g.ID),
				SenderID: lmFrom.UUID,
				Kind:     deref(lmKind),
				Body:     deref(lmBody),
			}
			if lmAt != nil {
				g.LastMessage.CreatedAt = *lmAt
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Get loads a group and its members.
func (r *GroupRepo) Get(ctx context.Context, id uuid.UUID) (*model.Group, error) {
	const q = `SELECT id, name, description, created_by, created_at FROM groups WHERE id=$1`
	var g model.Group
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	const qm = `
SELECT gm.user_id, u.username, u.display_name, gm.role, gm.joined_at
FROM group_members gm JOIN users u ON u.id = gm.user_id
WHERE gm.group_id=$1
ORDER BY gm.joined_at ASC`
	rows, err := r.db.Pool.Query(ctx, qm, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m := model.GroupMember{GroupID: id}
		if err := rows.Scan(&m.UserID, &m.Username, &m.DisplayName, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, m)
	}
	return &g, rows.Err()
}

// MemberRole returns the membership role of userID in groupID.
func (r *GroupRepo) MemberRole(ctx context.Context, groupID, userID uuid.UUID) (string, error) {
	const q = `SELECT role FROM group_members WHERE group_id=$1 AND user_id=$2`
	var role string
	if err := r.db.Pool.QueryRow(ctx, q, groupID, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return role, nil
}

// AddMember inserts a membership row.
func (r *GroupRepo) AddMember(ctx context.Context, groupID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)`
	_, err := r.db.Pool.Exec(ctx, q, groupID, userID, role)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	}
	return err
}

// RemoveMember deletes a membership row.
func (r *GroupRepo) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	const q = `DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, groupID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
