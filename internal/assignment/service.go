package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/meridian-rbac/meridian/internal/directory"
	"github.com/meridian-rbac/meridian/internal/permission"
	"github.com/meridian-rbac/meridian/internal/policy"
	"github.com/meridian-rbac/meridian/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Assignment, []policy.ScopeRef, error)
	List(ctx context.Context, filters ListFilters) ([]Assignment, error)
	FindRecordsByOrigin(ctx context.Context, originID int64) ([]permission.Record, error)
}

// TxRepository exposes transactional operations. Every read performed
// during activation goes through the transaction so validation sees the
// same snapshot the writes commit against.
type TxRepository interface {
	InsertAssignment(ctx context.Context, a Assignment) (int64, error)
	InsertDetailRow(ctx context.Context, assignmentID int64, row policy.ScopeRef) error
	SetStatus(ctx context.Context, id int64, status Status) error
	ListActiveByUser(ctx context.Context, user string, excludeID int64) ([]Assignment, error)
	CountActiveByRoleTerritory(ctx context.Context, role, territory string) (int, error)
	ActiveProfileRows(ctx context.Context, role string) ([]policy.ScopeRef, error)
	AppendRecord(ctx context.Context, rec permission.Record) (int64, error)
	RemoveRecordsByOrigin(ctx context.Context, originID int64) error
}

// PolicyPort resolves role policies.
type PolicyPort interface {
	Get(ctx context.Context, role string) (policy.Policy, bool, error)
}

// DirectoryPort resolves scoped entities and their declared link fields.
type DirectoryPort interface {
	Resolve(ctx context.Context, entityType, entityID string) (directory.Record, error)
	LinkFields(entityType, target string) []string
}

// Locker serializes activation per (role, territory).
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	List(ctx context.Context, entity, entityID string) ([]shared.AuditLog, error)
}

// ListFilters narrows assignment listings.
type ListFilters struct {
	User   string
	Role   string
	Status string
}

// Service orchestrates assignment lifecycle transitions.
type Service struct {
	repo      RepositoryPort
	policies  PolicyPort
	directory DirectoryPort
	locks     Locker
	audit     AuditPort
	logger    *slog.Logger
}

// NewService constructs the assignment service.
func NewService(repo RepositoryPort, policies PolicyPort, dir DirectoryPort, locks Locker, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, policies: policies, directory: dir, locks: locks, audit: audit, logger: logger}
}

// CreateInput describes a draft assignment.
type CreateInput struct {
	User       string
	Role       string
	Territory  string
	Company    string
	DetailRows []policy.ScopeRef
}

// Create persists a draft assignment with its detail rows. No validation
// beyond input shape runs until activation.
func (s *Service) Create(ctx context.Context, input CreateInput) (Assignment, error) {
	input.User = strings.TrimSpace(input.User)
	input.Role = strings.TrimSpace(input.Role)
	if input.User == "" {
		return Assignment{}, fmt.Errorf("%w: user required", ErrValidation)
	}
	if input.Role == "" {
		return Assignment{}, fmt.Errorf("%w: role required", ErrValidation)
	}
	for _, row := range input.DetailRows {
		if row.EntityType == "" || row.EntityID == "" {
			return Assignment{}, fmt.Errorf("%w: detail row needs entity type and id", ErrValidation)
		}
	}

	a := Assignment{
		User:      input.User,
		Role:      input.Role,
		Territory: input.Territory,
		Company:   input.Company,
		Status:    StatusDraft,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertAssignment(ctx, a)
		if err != nil {
			return err
		}
		a.ID = id
		for _, row := range input.DetailRows {
			if err := tx.InsertDetailRow(ctx, id, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	s.recordAudit(ctx, input.User, "ASSIGNMENT_CREATE", a.ID, map[string]any{"role": a.Role, "territory": a.Territory})
	return a, nil
}

// Activate runs the DRAFT→ACTIVE transition: policy validation and
// permission record emission commit atomically, or the assignment stays
// DRAFT. Policy violations surface as policy.Err* sentinels.
func (s *Service) Activate(ctx context.Context, id int64, actor string) error {
	a, rows, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusDraft {
		return ErrInvalidState
	}

	pol, found, err := s.policies.Get(ctx, a.Role)
	if err != nil {
		return err
	}

	if s.locks != nil {
		release, err := s.locks.Acquire(ctx, shared.ActivationLockKey(a.Role, a.Territory))
		if err != nil {
			return fmt.Errorf("assignment: acquire activation lock: %w", err)
		}
		defer release()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Flip first: the quota count deliberately includes the
		// activating assignment itself.
		if err := tx.SetStatus(ctx, id, StatusActive); err != nil {
			return err
		}
		if err := s.validate(ctx, tx, a, rows, pol, found); err != nil {
			return err
		}
		return s.createPermissions(ctx, tx, a, rows)
	})
	if err != nil {
		if policy.IsViolation(err) {
			s.logger.Info("activation rejected",
				slog.Int64("assignment", id), slog.String("user", a.User), slog.String("reason", err.Error()))
		}
		return err
	}
	s.recordAudit(ctx, actor, "ASSIGNMENT_ACTIVATE", id, map[string]any{"user": a.User, "role": a.Role})
	return nil
}

// Retract runs the ACTIVE→RETRACTED transition. It is never blocked by
// policy: it removes exactly the records the assignment owns.
func (s *Service) Retract(ctx context.Context, id int64, actor string) error {
	a, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != StatusActive {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SetStatus(ctx, id, StatusRetracted); err != nil {
			return err
		}
		return tx.RemoveRecordsByOrigin(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "ASSIGNMENT_RETRACT", id, map[string]any{"user": a.User, "role": a.Role})
	return nil
}

// Get returns an assignment and its detail rows.
func (s *Service) Get(ctx context.Context, id int64) (Assignment, []policy.ScopeRef, error) {
	return s.repo.Get(ctx, id)
}

// List returns assignments matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Assignment, error) {
	return s.repo.List(ctx, filters)
}

// History returns the audit trail of one assignment.
func (s *Service) History(ctx context.Context, id int64) ([]shared.AuditLog, error) {
	if _, _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, "user_role_assignment", strconv.FormatInt(id, 10))
}

// Records returns the permission records currently owned by an assignment.
func (s *Service) Records(ctx context.Context, id int64) ([]permission.Record, error) {
	if _, _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.FindRecordsByOrigin(ctx, id)
}

func (s *Service) validate(ctx context.Context, tx TxRepository, a Assignment, rows []policy.ScopeRef, pol policy.Policy, found bool) error {
	siblings, err := tx.ListActiveByUser(ctx, a.User, a.ID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		sibPol, sibFound, err := s.policies.Get(ctx, sib.Role)
		if err != nil {
			return err
		}
		if sibFound && !sibPol.Overlappable {
			return fmt.Errorf("%w: %s is already active as %s", policy.ErrOverlap, a.User, sib.Role)
		}
	}
	if !found {
		return nil
	}

	if pol.HasQuota() {
		count, err := tx.CountActiveByRoleTerritory(ctx, a.Role, a.Territory)
		if err != nil {
			return err
		}
		if count > pol.NumberOfActors {
			return fmt.Errorf("%w: role %s allows only %d actor(s)", policy.ErrQuotaExceeded, a.Role, pol.NumberOfActors)
		}
	}
	if !pol.Overlappable && len(siblings) > 0 {
		return fmt.Errorf("%w: %s already holds an active assignment", policy.ErrOverlap, a.User)
	}
	return s.validateScope(ctx, a, rows, pol)
}

func (s *Service) validateScope(ctx context.Context, a Assignment, rows []policy.ScopeRef, pol policy.Policy) error {
	allowed := pol.AllowedValues()
	if len(allowed) == 0 {
		return nil
	}
	var candidates []policy.ScopeRef
	if a.Territory != "" {
		candidates = append(candidates, policy.ScopeRef{EntityType: policy.TerritoryEntity, EntityID: a.Territory})
	}
	candidates = append(candidates, rows...)
	if len(candidates) == 0 {
		return nil
	}

	for _, cand := range candidates {
		rec, err := s.directory.Resolve(ctx, cand.EntityType, cand.EntityID)
		if err != nil {
			return fmt.Errorf("assignment: resolve scoped entity %s/%s: %w", cand.EntityType, cand.EntityID, err)
		}
		for dimension, values := range allowed {
			for _, field := range s.directory.LinkFields(cand.EntityType, dimension) {
				if value := rec.Attr(field); !containsValue(values, value) {
					return fmt.Errorf("%w: %s %s is only allowed for %s %v",
						policy.ErrScopeViolation, cand.EntityType, cand.EntityID, dimension, values)
				}
			}
		}
	}
	return nil
}

// createPermissions emits the assignment's grant records in a fixed order:
// role grant, territory, company, own detail rows, then the active
// profile's detail rows. Duplicate tuples are appended as-is.
func (s *Service) createPermissions(ctx context.Context, tx TxRepository, a Assignment, rows []policy.ScopeRef) error {
	if a.Role != "" {
		if _, err := tx.AppendRecord(ctx, permission.RoleGrant(a.User, a.ID, a.Role)); err != nil {
			return err
		}
	}
	if a.Territory != "" {
		if _, err := tx.AppendRecord(ctx, permission.EntityGrant(a.User, a.ID, policy.TerritoryEntity, a.Territory)); err != nil {
			return err
		}
	}
	if a.Company != "" {
		if _, err := tx.AppendRecord(ctx, permission.EntityGrant(a.User, a.ID, policy.CompanyEntity, a.Company)); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if _, err := tx.AppendRecord(ctx, permission.EntityGrant(a.User, a.ID, row.EntityType, row.EntityID)); err != nil {
			return err
		}
	}
	profileRows, err := tx.ActiveProfileRows(ctx, a.Role)
	if err != nil {
		return err
	}
	for _, row := range profileRows {
		if _, err := tx.AppendRecord(ctx, permission.EntityGrant(a.User, a.ID, row.EntityType, row.EntityID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "user_role_assignment",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}

func containsValue(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}
