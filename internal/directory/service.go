package directory

import (
	"context"
	"fmt"
	"strings"
)

// RepositoryPort defines data access used by the service.
type RepositoryPort interface {
	Get(ctx context.Context, entityType, entityID string) (Record, error)
	Upsert(ctx context.Context, rec Record) error
	SearchTerritories(ctx context.Context, territoryType, nameQuery string, limit, offset int) ([]TerritoryRow, int, error)
}

// PolicyPort resolves the territory type configured for a role.
type PolicyPort interface {
	TerritoryType(ctx context.Context, role string) (string, error)
}

// Service exposes entity resolution for scope validation and the scoped
// territory lookup.
type Service struct {
	repo     RepositoryPort
	schema   Schema
	policies PolicyPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, schema Schema, policies PolicyPort) *Service {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Service{repo: repo, schema: schema, policies: policies}
}

// Resolve loads one entity record.
func (s *Service) Resolve(ctx context.Context, entityType, entityID string) (Record, error) {
	if entityType == "" || entityID == "" {
		return Record{}, fmt.Errorf("%w: entity type and id required", ErrValidation)
	}
	return s.repo.Get(ctx, entityType, entityID)
}

// LinkFields returns the candidate type's declared link fields for a
// constrained target type.
func (s *Service) LinkFields(entityType, target string) []string {
	return s.schema.LinkFields(entityType, target)
}

// Register stores or updates an entity record.
func (s *Service) Register(ctx context.Context, rec Record) error {
	rec.Type = strings.TrimSpace(rec.Type)
	rec.ID = strings.TrimSpace(rec.ID)
	if rec.Type == "" || rec.ID == "" {
		return fmt.Errorf("%w: entity type and id required", ErrValidation)
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}
	return s.repo.Upsert(ctx, rec)
}

// FindScopedTerritories lists territories, constrained to the role
// policy's territory type when a role filter is supplied and to a name
// substring when a text filter is supplied.
func (s *Service) FindScopedTerritories(ctx context.Context, roleFilter, textFilter string, limit, offset int) ([]TerritoryRow, int, error) {
	territoryType := ""
	if roleFilter != "" && s.policies != nil {
		tt, err := s.policies.TerritoryType(ctx, roleFilter)
		if err != nil {
			return nil, 0, err
		}
		territoryType = tt
	}
	return s.repo.SearchTerritories(ctx, territoryType, textFilter, limit, offset)
}
