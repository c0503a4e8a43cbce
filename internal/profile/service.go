package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meridian-rbac/meridian/internal/permission"
	"github.com/meridian-rbac/meridian/internal/policy"
	"github.com/meridian-rbac/meridian/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Profile, []policy.ScopeRef, error)
	List(ctx context.Context, role string) ([]Profile, error)
}

// TxRepository exposes transactional operations. Cascades run entirely
// inside one transaction: either every derived record write or removal
// commits, or none do.
type TxRepository interface {
	InsertProfile(ctx context.Context, p Profile) (int64, error)
	InsertDetailRow(ctx context.Context, profileID int64, row policy.ScopeRef) error
	SetStatus(ctx context.Context, id int64, status Status) error
	CountOtherActiveByRole(ctx context.Context, role string, excludeID int64) (int, error)
	ListActiveAssignments(ctx context.Context, role string) ([]AssignmentRef, error)
	AppendRecord(ctx context.Context, rec permission.Record) (int64, error)
	FindRecords(ctx context.Context, filter permission.Filter) ([]permission.Record, error)
	RetractRecord(ctx context.Context, id int64) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates profile lifecycle transitions and their cascades.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs the profile service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CreateInput describes a draft profile.
type CreateInput struct {
	Role       string
	Title      string
	DetailRows []policy.ScopeRef
}

// Create persists a draft profile with its detail rows.
func (s *Service) Create(ctx context.Context, input CreateInput) (Profile, error) {
	input.Role = strings.TrimSpace(input.Role)
	if input.Role == "" {
		return Profile{}, fmt.Errorf("%w: role required", ErrValidation)
	}
	for _, row := range input.DetailRows {
		if row.EntityType == "" || row.EntityID == "" {
			return Profile{}, fmt.Errorf("%w: detail row needs entity type and id", ErrValidation)
		}
	}
	p := Profile{Role: input.Role, Title: input.Title, Status: StatusDraft}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProfile(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		for _, row := range input.DetailRows {
			if err := tx.InsertDetailRow(ctx, id, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Activate runs the DRAFT→ACTIVE transition: uniqueness validation, then
// one cascaded record per active assignment per detail row, all atomic.
func (s *Service) Activate(ctx context.Context, id int64, actor string) error {
	p, rows, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusDraft {
		return ErrInvalidState
	}

	var cascaded int
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		others, err := tx.CountOtherActiveByRole(ctx, p.Role, p.ID)
		if err != nil {
			return err
		}
		if others > 0 {
			return fmt.Errorf("%w: role %s", policy.ErrDuplicateProfile, p.Role)
		}
		if err := tx.SetStatus(ctx, id, StatusActive); err != nil {
			return err
		}
		assignments, err := tx.ListActiveAssignments(ctx, p.Role)
		if err != nil {
			return err
		}
		for _, ref := range assignments {
			for _, row := range rows {
				if _, err := tx.AppendRecord(ctx, permission.EntityGrant(ref.User, ref.ID, row.EntityType, row.EntityID)); err != nil {
					return err
				}
				cascaded++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("profile activated",
		slog.Int64("profile", id), slog.String("role", p.Role), slog.Int("records", cascaded))
	s.recordAudit(ctx, actor, "PROFILE_ACTIVATE", id, map[string]any{"role": p.Role, "records": cascaded})
	return nil
}

// Retract runs the ACTIVE→RETRACTED transition, removing exactly the
// records the profile cascaded: matched by owning assignment plus entity
// type and id, never a blanket removal of an assignment's records.
func (s *Service) Retract(ctx context.Context, id int64, actor string) error {
	p, rows, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != StatusActive {
		return ErrInvalidState
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetStatus(ctx, id, StatusRetracted); err != nil {
			return err
		}
		assignments, err := tx.ListActiveAssignments(ctx, p.Role)
		if err != nil {
			return err
		}
		for _, ref := range assignments {
			for _, row := range rows {
				matches, err := tx.FindRecords(ctx, permission.Filter{
					OriginKind: permission.OriginAssignment,
					OriginID:   ref.ID,
					EntityType: row.EntityType,
					EntityID:   row.EntityID,
				})
				if err != nil {
					return err
				}
				for _, rec := range matches {
					if err := tx.RetractRecord(ctx, rec.ID); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PROFILE_RETRACT", id, map[string]any{"role": p.Role})
	return nil
}

// Get returns a profile and its detail rows.
func (s *Service) Get(ctx context.Context, id int64) (Profile, []policy.ScopeRef, error) {
	return s.repo.Get(ctx, id)
}

// List returns profiles, optionally filtered by role.
func (s *Service) List(ctx context.Context, role string) ([]Profile, error) {
	return s.repo.List(ctx, role)
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "role_permission_profile",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
