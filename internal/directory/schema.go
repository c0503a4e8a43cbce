package directory

import "github.com/meridian-rbac/meridian/internal/policy"

// LinkField declares one attribute of an entity type as a link to another
// entity type. The schema is fixed at startup; scope validation asks it
// which fields of a candidate entity are constrained by a given dimension
// instead of reflecting over storage at runtime.
type LinkField struct {
	Field  string
	Target string
}

// Schema maps entity types to their declared link fields.
type Schema map[string][]LinkField

// LinkFields returns the names of the entity type's fields that link to
// the target type. Unknown entity types have no link fields.
func (s Schema) LinkFields(entityType, target string) []string {
	var fields []string
	for _, lf := range s[entityType] {
		if lf.Target == target {
			fields = append(fields, lf.Field)
		}
	}
	return fields
}

// DefaultSchema declares the link fields of the built-in entity types.
func DefaultSchema() Schema {
	return Schema{
		policy.TerritoryEntity: {
			{Field: "territory_type", Target: policy.TerritoryTypeEntity},
			{Field: "company", Target: policy.CompanyEntity},
		},
		"Outlet": {
			{Field: "territory", Target: policy.TerritoryEntity},
			{Field: "territory_type", Target: policy.TerritoryTypeEntity},
			{Field: "company", Target: policy.CompanyEntity},
		},
		"Warehouse": {
			{Field: "territory", Target: policy.TerritoryEntity},
			{Field: "company", Target: policy.CompanyEntity},
		},
	}
}
