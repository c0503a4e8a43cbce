package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rbac/meridian/internal/permission"
	"github.com/meridian-rbac/meridian/internal/policy"
)

// Repository provides PostgreSQL backed persistence. A partial unique
// index on role_permission_profiles (role) WHERE status='ACTIVE' backs the
// single-active-profile invariant at the storage layer.
type Repository struct {
	pool    *pgxpool.Pool
	records *permission.Store
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, records: permission.NewStore(pool)}
}

type txRepo struct {
	tx      pgx.Tx
	records *permission.Store
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx, records: r.records.WithTx(tx)}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return fmt.Errorf("%w: concurrent activation", policy.ErrDuplicateProfile)
		}
		return err
	}
	return nil
}

// Get returns a profile and its detail rows.
func (r *Repository) Get(ctx context.Context, id int64) (Profile, []policy.ScopeRef, error) {
	var p Profile
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, role, title, status, created_at, updated_at
FROM role_permission_profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Role, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, nil, ErrNotFound
		}
		return Profile{}, nil, err
	}
	p.Status = Status(status)

	rows, err := r.pool.Query(ctx, `SELECT entity_type, entity_id
FROM profile_detail_rows WHERE profile_id = $1 ORDER BY position`, id)
	if err != nil {
		return Profile{}, nil, err
	}
	defer rows.Close()
	var details []policy.ScopeRef
	for rows.Next() {
		var ref policy.ScopeRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return Profile{}, nil, err
		}
		details = append(details, ref)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, nil, err
	}
	return p, details, nil
}

// List returns profiles, newest first, optionally filtered by role.
func (r *Repository) List(ctx context.Context, role string) ([]Profile, error) {
	query := `SELECT id, role, title, status, created_at, updated_at FROM role_permission_profiles`
	args := []any{}
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Profile
	for rows.Next() {
		var p Profile
		var status string
		if err := rows.Scan(&p.ID, &p.Role, &p.Title, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = Status(status)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (t *txRepo) InsertProfile(ctx context.Context, p Profile) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO role_permission_profiles (role, title, status, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW()) RETURNING id`, p.Role, p.Title, string(p.Status)).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDetailRow(ctx context.Context, profileID int64, row policy.ScopeRef) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO profile_detail_rows (profile_id, entity_type, entity_id, position)
VALUES ($1, $2, $3, COALESCE((SELECT MAX(position)+1 FROM profile_detail_rows WHERE profile_id = $1), 0))`,
		profileID, row.EntityType, row.EntityID)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE role_permission_profiles SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) CountOtherActiveByRole(ctx context.Context, role string, excludeID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM role_permission_profiles
WHERE role = $1 AND status = $2 AND id <> $3`, role, string(StatusActive), excludeID).Scan(&count)
	return count, err
}

func (t *txRepo) ListActiveAssignments(ctx context.Context, role string) ([]AssignmentRef, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, user_id FROM user_role_assignments
WHERE role = $1 AND status = $2 ORDER BY id`, role, "ACTIVE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []AssignmentRef
	for rows.Next() {
		var ref AssignmentRef
		if err := rows.Scan(&ref.ID, &ref.User); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (t *txRepo) AppendRecord(ctx context.Context, rec permission.Record) (int64, error) {
	return t.records.Append(ctx, rec)
}

func (t *txRepo) FindRecords(ctx context.Context, filter permission.Filter) ([]permission.Record, error) {
	return t.records.Find(ctx, filter)
}

func (t *txRepo) RetractRecord(ctx context.Context, id int64) error {
	return t.records.Retract(ctx, id)
}
