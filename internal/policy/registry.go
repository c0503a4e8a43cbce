package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort defines data access used by the registry.
type RepositoryPort interface {
	Get(ctx context.Context, role string) (Policy, error)
}

// Registry is the read-only lookup consulted on every assignment
// activation. Lookups are cached in Redis; concurrent misses for the same
// role are collapsed through singleflight.
type Registry struct {
	repo   RepositoryPort
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewRegistry constructs a Registry. The cache client may be nil, in which
// case every lookup hits the repository.
func NewRegistry(repo RepositoryPort, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Registry{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

type cachedPolicy struct {
	Found  bool   `json:"found"`
	Policy Policy `json:"policy"`
}

// Get resolves the policy for a role. A missing policy is reported through
// the found flag, never as an error.
func (r *Registry) Get(ctx context.Context, role string) (Policy, bool, error) {
	if role == "" {
		return Policy{}, false, nil
	}
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, cacheKey(role)).Bytes()
		if err == nil {
			var entry cachedPolicy
			if err := json.Unmarshal(raw, &entry); err == nil {
				return entry.Policy, entry.Found, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			r.logger.Warn("policy cache read", slog.String("role", role), slog.Any("error", err))
		}
	}

	value, err, _ := r.group.Do(role, func() (any, error) {
		pol, err := r.repo.Get(ctx, role)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return cachedPolicy{Found: false}, nil
			}
			return cachedPolicy{}, err
		}
		return cachedPolicy{Found: true, Policy: pol}, nil
	})
	if err != nil {
		return Policy{}, false, err
	}
	entry := value.(cachedPolicy)

	if r.cache != nil {
		if raw, err := json.Marshal(entry); err == nil {
			if err := r.cache.Set(ctx, cacheKey(role), raw, r.ttl).Err(); err != nil {
				r.logger.Warn("policy cache write", slog.String("role", role), slog.Any("error", err))
			}
		}
	}
	return entry.Policy, entry.Found, nil
}

// TerritoryType returns the role's configured default territory type, or
// empty when the role has no policy.
func (r *Registry) TerritoryType(ctx context.Context, role string) (string, error) {
	pol, found, err := r.Get(ctx, role)
	if err != nil || !found {
		return "", err
	}
	return pol.TerritoryType, nil
}

// Invalidate drops the cached entry for a role after an administrative
// change.
func (r *Registry) Invalidate(ctx context.Context, role string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, cacheKey(role)).Err()
}

func cacheKey(role string) string {
	return fmt.Sprintf("policy:role:%s", role)
}
