package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IntegrityScanner detects permission records whose owning assignment is no
// longer active. Retraction removes records transactionally, so orphans only
// appear after operator intervention or data restores; the sweep is a safety
// net, not part of the lifecycle.
type IntegrityScanner struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewIntegrityScanner constructs a scanner over the application pool.
func NewIntegrityScanner(pool *pgxpool.Pool, logger *slog.Logger) *IntegrityScanner {
	return &IntegrityScanner{pool: pool, logger: logger}
}

// Scan returns the ids of orphaned records, deleting them when purge is set.
func (s *IntegrityScanner) Scan(ctx context.Context, purge bool) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT r.id
FROM permission_records r
LEFT JOIN user_role_assignments a ON a.id = r.origin_id
WHERE r.origin_kind = 'user_role_assignment'
  AND (a.id IS NULL OR a.status <> 'ACTIVE')
ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orphans []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orphans = append(orphans, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if purge && len(orphans) > 0 {
		if _, err := s.pool.Exec(ctx, `DELETE FROM permission_records WHERE id = ANY($1)`, orphans); err != nil {
			return orphans, err
		}
	}
	return orphans, nil
}

// HandlerFunc adapts the scanner to an Asynq task handler.
func (s *IntegrityScanner) HandlerFunc() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IntegrityScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		orphans, err := s.Scan(ctx, payload.Purge)
		if err != nil {
			return err
		}
		s.logger.Info("integrity scan finished",
			slog.Int("orphans", len(orphans)),
			slog.Bool("purged", payload.Purge))
		return nil
	}
}
