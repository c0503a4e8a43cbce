package assignment

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rbac/meridian/internal/permission"
	"github.com/meridian-rbac/meridian/internal/platform/db"
	"github.com/meridian-rbac/meridian/internal/policy"
)

// Repository provides PostgreSQL backed persistence.
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
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, records: r.records.WithTx(tx)})
	})
}

// Get returns an assignment and its detail rows.
func (r *Repository) Get(ctx context.Context, id int64) (Assignment, []policy.ScopeRef, error) {
	var a Assignment
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, role, territory, company, status, created_at, updated_at
FROM user_role_assignments WHERE id = $1`, id).
		Scan(&a.ID, &a.User, &a.Role, &a.Territory, &a.Company, &status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, nil, ErrNotFound
		}
		return Assignment{}, nil, err
	}
	a.Status = Status(status)

	rows, err := r.pool.Query(ctx, `SELECT entity_type, entity_id
FROM assignment_detail_rows WHERE assignment_id = $1 ORDER BY position`, id)
	if err != nil {
		return Assignment{}, nil, err
	}
	defer rows.Close()
	var details []policy.ScopeRef
	for rows.Next() {
		var ref policy.ScopeRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return Assignment{}, nil, err
		}
		details = append(details, ref)
	}
	if err := rows.Err(); err != nil {
		return Assignment{}, nil, err
	}
	return a, details, nil
}

// List returns assignments matching the filters, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Assignment, error) {
	query := `SELECT id, user_id, role, territory, company, status, created_at, updated_at
FROM user_role_assignments WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filters.User != "" {
		query += ` AND user_id = ` + arg(filters.User)
	}
	if filters.Role != "" {
		query += ` AND role = ` + arg(filters.Role)
	}
	if filters.Status != "" {
		query += ` AND status = ` + arg(filters.Status)
	}
	query += ` ORDER BY id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Assignment
	for rows.Next() {
		var a Assignment
		var status string
		if err := rows.Scan(&a.ID, &a.User, &a.Role, &a.Territory, &a.Company, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = Status(status)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindRecordsByOrigin lists the permission records owned by an assignment.
func (r *Repository) FindRecordsByOrigin(ctx context.Context, originID int64) ([]permission.Record, error) {
	return r.records.Find(ctx, permission.Filter{OriginKind: permission.OriginAssignment, OriginID: originID})
}

func (t *txRepo) InsertAssignment(ctx context.Context, a Assignment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO user_role_assignments (user_id, role, territory, company, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW()) RETURNING id`,
		a.User, a.Role, a.Territory, a.Company, string(a.Status)).Scan(&id)
	return id, err
}

func (t *txRepo) InsertDetailRow(ctx context.Context, assignmentID int64, row policy.ScopeRef) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO assignment_detail_rows (assignment_id, entity_type, entity_id, position)
VALUES ($1, $2, $3, COALESCE((SELECT MAX(position)+1 FROM assignment_detail_rows WHERE assignment_id = $1), 0))`,
		assignmentID, row.EntityType, row.EntityID)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE user_role_assignments SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) ListActiveByUser(ctx context.Context, user string, excludeID int64) ([]Assignment, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, user_id, role, territory, company, status, created_at, updated_at
FROM user_role_assignments WHERE user_id = $1 AND status = $2 AND id <> $3 ORDER BY id`,
		user, string(StatusActive), excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Assignment
	for rows.Next() {
		var a Assignment
		var status string
		if err := rows.Scan(&a.ID, &a.User, &a.Role, &a.Territory, &a.Company, &status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Status = Status(status)
		result = append(result, a)
	}
	return result, rows.Err()
}

func (t *txRepo) CountActiveByRoleTerritory(ctx context.Context, role, territory string) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM user_role_assignments
WHERE role = $1 AND territory = $2 AND status = $3`, role, territory, string(StatusActive)).Scan(&count)
	return count, err
}

func (t *txRepo) ActiveProfileRows(ctx context.Context, role string) ([]policy.ScopeRef, error) {
	rows, err := t.tx.Query(ctx, `SELECT d.entity_type, d.entity_id
FROM profile_detail_rows d
JOIN role_permission_profiles p ON p.id = d.profile_id
WHERE p.role = $1 AND p.status = $2
ORDER BY d.position`, role, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []policy.ScopeRef
	for rows.Next() {
		var ref policy.ScopeRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (t *txRepo) AppendRecord(ctx context.Context, rec permission.Record) (int64, error) {
	return t.records.Append(ctx, rec)
}

func (t *txRepo) RemoveRecordsByOrigin(ctx context.Context, originID int64) error {
	return t.records.RemoveByOrigin(ctx, originID)
}
