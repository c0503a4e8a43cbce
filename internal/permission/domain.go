// Package permission implements the append/retract ledger of atomic
// permission grants produced by active role assignments.
package permission

import "time"

// Record status values. Records are written live and only pass through
// RETRACTED on their way out of the ledger.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusRetracted Status = "RETRACTED"
)

// OriginAssignment is the only origin kind in use: every record is owned
// by exactly one user role assignment.
const OriginAssignment = "user_role_assignment"

// Record is one atomic grant. It is destroyed only by its owning
// assignment's retraction or by a profile retraction matching it exactly.
type Record struct {
	ID            int64     `json:"id"`
	User          string    `json:"user"`
	OriginKind    string    `json:"origin_kind"`
	OriginID      int64     `json:"origin_id"`
	EntityType    string    `json:"entity_type,omitempty"`
	EntityID      string    `json:"entity_id,omitempty"`
	IsEntityGrant bool      `json:"is_entity_grant"`
	IsRoleGrant   bool      `json:"is_role_grant"`
	RoleName      string    `json:"role_name,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// RoleGrant builds a role-membership record for an assignment.
func RoleGrant(user string, originID int64, role string) Record {
	return Record{
		User:        user,
		OriginKind:  OriginAssignment,
		OriginID:    originID,
		IsRoleGrant: true,
		RoleName:    role,
		Status:      StatusActive,
	}
}

// EntityGrant builds an entity-scoped record for an assignment.
func EntityGrant(user string, originID int64, entityType, entityID string) Record {
	return Record{
		User:          user,
		OriginKind:    OriginAssignment,
		OriginID:      originID,
		EntityType:    entityType,
		EntityID:      entityID,
		IsEntityGrant: entityID != "",
		Status:        StatusActive,
	}
}

// Filter narrows Find results. Zero-valued fields match everything.
type Filter struct {
	User       string
	OriginKind string
	OriginID   int64
	EntityType string
	EntityID   string
}

// Matches reports whether the record satisfies every set filter field.
func (f Filter) Matches(rec Record) bool {
	if f.User != "" && rec.User != f.User {
		return false
	}
	if f.OriginKind != "" && rec.OriginKind != f.OriginKind {
		return false
	}
	if f.OriginID != 0 && rec.OriginID != f.OriginID {
		return false
	}
	if f.EntityType != "" && rec.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && rec.EntityID != f.EntityID {
		return false
	}
	return true
}
