// Package directory is the master-data registry of scoped entities
// (territories, companies, and anything a policy scope row can point at).
// It also owns the declared link-field schema consulted during scope
// validation.
package directory

import (
	"errors"
	"time"
)

// Record is one entity instance with its dynamic attributes. Attribute
// values of link type hold the id of the referenced entity.
type Record struct {
	Type      string            `json:"entity_type"`
	ID        string            `json:"entity_id"`
	Name      string            `json:"name"`
	Attrs     map[string]string `json:"attrs"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Attr returns an attribute value, empty when unset.
func (r Record) Attr(field string) string {
	return r.Attrs[field]
}

// TerritoryRow is one line of the scoped-territory lookup.
type TerritoryRow struct {
	Name          string `json:"name"`
	TerritoryType string `json:"territory_type"`
}

var (
	// ErrNotFound indicates the entity does not exist.
	ErrNotFound = errors.New("directory: entity not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("directory: invalid input")
)
