// Package profile manages role permission profiles: per-role bundles of
// entity grants cascaded onto every active assignment of the role.
package profile

import (
	"errors"
	"time"
)

// Profile lifecycle statuses. Transitions are strictly
// DRAFT → ACTIVE → RETRACTED.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusActive    Status = "ACTIVE"
	StatusRetracted Status = "RETRACTED"
)

// Profile holds the detail rows granted to every active assignment of the
// role while the profile is active. At most one profile per role may be
// active at any time.
type Profile struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Title     string    `json:"title,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignmentRef is the slice of an assignment a cascade needs.
type AssignmentRef struct {
	ID   int64
	User string
}

var (
	// ErrNotFound indicates the profile does not exist.
	ErrNotFound = errors.New("profile: not found")
	// ErrInvalidState occurs when a transition violates the lifecycle.
	ErrInvalidState = errors.New("profile: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("profile: invalid input")
)
