package permission

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, letting the store run
// standalone or inside a caller-owned transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists permission records.
type Store struct {
	db DBTX
}

// NewStore constructs a store.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// Append inserts a record. There is no uniqueness constraint: duplicate
// tuples are allowed, matching at-least-once grant semantics.
func (s *Store) Append(ctx context.Context, rec Record) (int64, error) {
	if rec.OriginKind == "" {
		rec.OriginKind = OriginAssignment
	}
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	var id int64
	err := s.db.QueryRow(ctx, `INSERT INTO permission_records
(user_id, origin_kind, origin_id, entity_type, entity_id, is_entity_grant, is_role_grant, role_name, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
RETURNING id`,
		rec.User, rec.OriginKind, rec.OriginID, rec.EntityType, rec.EntityID,
		rec.IsEntityGrant, rec.IsRoleGrant, rec.RoleName, string(rec.Status), nullTime(rec.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Retract removes a record by id. A live record is first transitioned to
// RETRACTED, then deleted. Retracting an absent id is a no-op.
func (s *Store) Retract(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, `UPDATE permission_records SET status = $1 WHERE id = $2 AND status = $3`,
		string(StatusRetracted), id, string(StatusActive)); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM permission_records WHERE id = $1`, id)
	return err
}

// RemoveByOrigin deletes every record owned by the given assignment.
// Idempotent: removing an origin with no records succeeds with no effect.
func (s *Store) RemoveByOrigin(ctx context.Context, originID int64) error {
	if _, err := s.db.Exec(ctx, `UPDATE permission_records SET status = $1
WHERE origin_kind = $2 AND origin_id = $3 AND status = $4`,
		string(StatusRetracted), OriginAssignment, originID, string(StatusActive)); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `DELETE FROM permission_records WHERE origin_kind = $1 AND origin_id = $2`,
		OriginAssignment, originID)
	return err
}

// Find returns records matching the filter, oldest first.
func (s *Store) Find(ctx context.Context, filter Filter) ([]Record, error) {
	query := `SELECT id, user_id, origin_kind, origin_id, entity_type, entity_id,
is_entity_grant, is_role_grant, role_name, status, created_at
FROM permission_records WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.User != "" {
		query += ` AND user_id = ` + arg(filter.User)
	}
	if filter.OriginKind != "" {
		query += ` AND origin_kind = ` + arg(filter.OriginKind)
	}
	if filter.OriginID != 0 {
		query += ` AND origin_id = ` + arg(filter.OriginID)
	}
	if filter.EntityType != "" {
		query += ` AND entity_type = ` + arg(filter.EntityType)
	}
	if filter.EntityID != "" {
		query += ` AND entity_id = ` + arg(filter.EntityID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.User, &rec.OriginKind, &rec.OriginID, &rec.EntityType,
			&rec.EntityID, &rec.IsEntityGrant, &rec.IsRoleGrant, &rec.RoleName, &status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
