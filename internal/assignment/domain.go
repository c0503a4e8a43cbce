// Package assignment implements the lifecycle of a user's role assignment:
// validation against role policy, activation with permission record
// emission, and retraction.
package assignment

import (
	"errors"
	"time"
)

// Assignment lifecycle statuses. Transitions are strictly
// DRAFT → ACTIVE → RETRACTED; retraction is permanent.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusRetracted Status = "RETRACTED"
)

// Assignment binds one user to one role, optionally scoped to a territory
// and a company.
type Assignment struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Role      string    `json:"role"`
	Territory string    `json:"territory,omitempty"`
	Company   string    `json:"company,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the assignment does not exist.
	ErrNotFound = errors.New("assignment: not found")
	// ErrInvalidState occurs when a transition violates the lifecycle.
	ErrInvalidState = errors.New("assignment: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("assignment: invalid input")
)
