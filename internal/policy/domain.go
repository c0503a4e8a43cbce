// Package policy holds per-role constraint definitions and the registry
// that resolves them during assignment validation.
package policy

import "time"

// ScopeRef points at one concrete entity a policy or grant is scoped to.
type ScopeRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Policy captures the constraints configured for a single role.
type Policy struct {
	Role           string     `json:"role"`
	Overlappable   bool       `json:"overlappable"`
	NumberOfActors int        `json:"number_of_actors"`
	TerritoryType  string     `json:"territory_type"`
	ScopeRows      []ScopeRef `json:"scope_rows"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasQuota reports whether the policy enforces an actor quota.
func (p Policy) HasQuota() bool {
	return p.NumberOfActors > 0
}

// AllowedValues builds the allowed-values map used by scope validation:
// one dimension per constrained entity type, each holding the set of
// permitted entity ids. The territory-type dimension is implicit when the
// policy names a default territory type.
func (p Policy) AllowedValues() map[string][]string {
	allowed := make(map[string][]string)
	if p.TerritoryType != "" {
		allowed[TerritoryTypeEntity] = []string{p.TerritoryType}
	}
	for _, row := range p.ScopeRows {
		values := allowed[row.EntityType]
		if !contains(values, row.EntityID) {
			allowed[row.EntityType] = append(values, row.EntityID)
		}
	}
	return allowed
}

// Entity type tags with a fixed meaning in scope validation.
const (
	TerritoryEntity     = "Territory"
	TerritoryTypeEntity = "TerritoryType"
	CompanyEntity       = "Company"
)

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
