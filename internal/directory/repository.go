package directory

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rbac/meridian/internal/policy"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one entity record.
func (r *Repository) Get(ctx context.Context, entityType, entityID string) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `SELECT entity_type, entity_id, name, attrs, created_at, updated_at
FROM directory_entities WHERE entity_type = $1 AND entity_id = $2`, entityType, entityID).
		Scan(&rec.Type, &rec.ID, &rec.Name, &rec.Attrs, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	if rec.Attrs == nil {
		rec.Attrs = map[string]string{}
	}
	return rec, nil
}

// Upsert writes an entity record, replacing its attributes.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO directory_entities (entity_type, entity_id, name, attrs, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (entity_type, entity_id) DO UPDATE SET name = EXCLUDED.name, attrs = EXCLUDED.attrs, updated_at = NOW()`,
		rec.Type, rec.ID, rec.Name, rec.Attrs)
	return err
}

// SearchTerritories lists territories filtered by territory type and name
// substring. An empty territoryType matches all types.
func (r *Repository) SearchTerritories(ctx context.Context, territoryType, nameQuery string, limit, offset int) ([]TerritoryRow, int, error) {
	query := `SELECT name, COALESCE(attrs->>'territory_type', '') FROM directory_entities WHERE entity_type = $1`
	countQuery := `SELECT COUNT(*) FROM directory_entities WHERE entity_type = $1`
	args := []any{policy.TerritoryEntity}
	countArgs := []any{policy.TerritoryEntity}

	if territoryType != "" {
		args = append(args, territoryType)
		query += ` AND attrs->>'territory_type' = $` + strconv.Itoa(len(args))
		countArgs = append(countArgs, territoryType)
		countQuery += ` AND attrs->>'territory_type' = $` + strconv.Itoa(len(countArgs))
	}
	if nameQuery != "" {
		args = append(args, "%"+nameQuery+"%")
		query += ` AND name ILIKE $` + strconv.Itoa(len(args))
		countArgs = append(countArgs, "%"+nameQuery+"%")
		countQuery += ` AND name ILIKE $` + strconv.Itoa(len(countArgs))
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY name`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		args = append(args, offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var result []TerritoryRow
	for rows.Next() {
		var row TerritoryRow
		if err := rows.Scan(&row.Name, &row.TerritoryType); err != nil {
			return nil, 0, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}
