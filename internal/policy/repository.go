package policy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates no policy is configured for the role. Callers treat
// this as "unconstrained", not as a failure.
var ErrNotFound = errors.New("policy: not found")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads the policy and its scope rows for a role.
func (r *Repository) Get(ctx context.Context, role string) (Policy, error) {
	var p Policy
	err := r.pool.QueryRow(ctx, `SELECT role, overlappable, number_of_actors, territory_type, updated_at
FROM role_policies WHERE role = $1`, role).
		Scan(&p.Role, &p.Overlappable, &p.NumberOfActors, &p.TerritoryType, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT entity_type, entity_id
FROM role_policy_scopes WHERE role = $1 ORDER BY position`, role)
	if err != nil {
		return Policy{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ref ScopeRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return Policy{}, err
		}
		p.ScopeRows = append(p.ScopeRows, ref)
	}
	if err := rows.Err(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
