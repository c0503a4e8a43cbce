package assignment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-rbac/meridian/internal/directory"
	"github.com/meridian-rbac/meridian/internal/permission"
	"github.com/meridian-rbac/meridian/internal/policy"
)

type memoryState struct {
	assignments map[int64]Assignment
	detailRows  map[int64][]policy.ScopeRef
	profileRows map[string][]policy.ScopeRef
	records     map[int64]permission.Record
	nextID      int64
	nextRecID   int64
}

func (s *memoryState) clone() *memoryState {
	dup := &memoryState{
		assignments: make(map[int64]Assignment, len(s.assignments)),
		detailRows:  make(map[int64][]policy.ScopeRef, len(s.detailRows)),
		profileRows: make(map[string][]policy.ScopeRef, len(s.profileRows)),
		records:     make(map[int64]permission.Record, len(s.records)),
		nextID:      s.nextID,
		nextRecID:   s.nextRecID,
	}
	for k, v := range s.assignments {
		dup.assignments[k] = v
	}
	for k, v := range s.detailRows {
		dup.detailRows[k] = append([]policy.ScopeRef(nil), v...)
	}
	for k, v := range s.profileRows {
		dup.profileRows[k] = append([]policy.ScopeRef(nil), v...)
	}
	for k, v := range s.records {
		dup.records[k] = v
	}
	return dup
}

// memoryRepo implements RepositoryPort and rolls the state back when the
// transactional callback fails, mirroring the database behaviour.
type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		assignments: map[int64]Assignment{},
		detailRows:  map[int64][]policy.ScopeRef{},
		profileRows: map[string][]policy.ScopeRef{},
		records:     map[int64]permission.Record{},
		nextID:      1,
		nextRecID:   1,
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Assignment, []policy.ScopeRef, error) {
	a, ok := r.state.assignments[id]
	if !ok {
		return Assignment{}, nil, ErrNotFound
	}
	return a, append([]policy.ScopeRef(nil), r.state.detailRows[id]...), nil
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Assignment, error) {
	var result []Assignment
	for _, a := range r.state.assignments {
		if filters.User != "" && a.User != filters.User {
			continue
		}
		if filters.Role != "" && a.Role != filters.Role {
			continue
		}
		if filters.Status != "" && string(a.Status) != filters.Status {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

func (r *memoryRepo) FindRecordsByOrigin(ctx context.Context, originID int64) ([]permission.Record, error) {
	return recordsByOrigin(r.state, originID), nil
}

func recordsByOrigin(state *memoryState, originID int64) []permission.Record {
	var result []permission.Record
	for id := int64(1); id < state.nextRecID; id++ {
		rec, ok := state.records[id]
		if ok && rec.OriginID == originID {
			result = append(result, rec)
		}
	}
	return result
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) InsertAssignment(ctx context.Context, a Assignment) (int64, error) {
	a.ID = t.state.nextID
	t.state.nextID++
	t.state.assignments[a.ID] = a
	return a.ID, nil
}

func (t *memoryTx) InsertDetailRow(ctx context.Context, assignmentID int64, row policy.ScopeRef) error {
	t.state.detailRows[assignmentID] = append(t.state.detailRows[assignmentID], row)
	return nil
}

func (t *memoryTx) SetStatus(ctx context.Context, id int64, status Status) error {
	a, ok := t.state.assignments[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	t.state.assignments[id] = a
	return nil
}

func (t *memoryTx) ListActiveByUser(ctx context.Context, user string, excludeID int64) ([]Assignment, error) {
	var result []Assignment
	for _, a := range t.state.assignments {
		if a.User == user && a.Status == StatusActive && a.ID != excludeID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (t *memoryTx) CountActiveByRoleTerritory(ctx context.Context, role, territory string) (int, error) {
	count := 0
	for _, a := range t.state.assignments {
		if a.Role == role && a.Territory == territory && a.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

func (t *memoryTx) ActiveProfileRows(ctx context.Context, role string) ([]policy.ScopeRef, error) {
	return append([]policy.ScopeRef(nil), t.state.profileRows[role]...), nil
}

func (t *memoryTx) AppendRecord(ctx context.Context, rec permission.Record) (int64, error) {
	rec.ID = t.state.nextRecID
	t.state.nextRecID++
	rec.Status = permission.StatusActive
	t.state.records[rec.ID] = rec
	return rec.ID, nil
}

func (t *memoryTx) RemoveRecordsByOrigin(ctx context.Context, originID int64) error {
	for id, rec := range t.state.records {
		if rec.OriginID == originID {
			delete(t.state.records, id)
		}
	}
	return nil
}

type stubPolicies struct {
	policies map[string]policy.Policy
}

func (s stubPolicies) Get(ctx context.Context, role string) (policy.Policy, bool, error) {
	pol, ok := s.policies[role]
	return pol, ok, nil
}

type stubDirectory struct {
	entities map[string]directory.Record
	schema   directory.Schema
}

func (s stubDirectory) Resolve(ctx context.Context, entityType, entityID string) (directory.Record, error) {
	rec, ok := s.entities[entityType+"/"+entityID]
	if !ok {
		return directory.Record{}, directory.ErrNotFound
	}
	return rec, nil
}

func (s stubDirectory) LinkFields(entityType, target string) []string {
	return s.schema.LinkFields(entityType, target)
}

type countingLocker struct {
	acquired []string
	held     bool
}

func (l *countingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.acquired = append(l.acquired, key)
	l.held = true
	return func() { l.held = false }, nil
}

func newTestDirectory() stubDirectory {
	return stubDirectory{
		schema: directory.DefaultSchema(),
		entities: map[string]directory.Record{
			"Territory/Zone-A": {Type: "Territory", ID: "Zone-A", Attrs: map[string]string{"territory_type": "Zone", "company": "Acme"}},
			"Territory/Zone-B": {Type: "Territory", ID: "Zone-B", Attrs: map[string]string{"territory_type": "Zone", "company": "Acme"}},
			"Territory/Region-1": {Type: "Territory", ID: "Region-1", Attrs: map[string]string{"territory_type": "Region", "company": "Acme"}},
			"Outlet/Shop-1":    {Type: "Outlet", ID: "Shop-1", Attrs: map[string]string{"territory": "Zone-A", "territory_type": "Zone", "company": "Acme"}},
			"Outlet/Shop-2":    {Type: "Outlet", ID: "Shop-2", Attrs: map[string]string{"territory": "Zone-B", "territory_type": "Zone", "company": "Acme"}},
		},
	}
}

func newTestService(repo *memoryRepo, policies map[string]policy.Policy) (*Service, *countingLocker) {
	locker := &countingLocker{}
	svc := NewService(repo, stubPolicies{policies: policies}, newTestDirectory(), locker, nil, nil)
	return svc, locker
}

func mustCreate(t *testing.T, svc *Service, input CreateInput) Assignment {
	t.Helper()
	a, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, a.Status)
	return a
}

func TestCreateValidatesInput(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Role: "sales-agent"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{User: "alice"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Create(ctx, CreateInput{User: "alice", Role: "sales-agent",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet"}}})
	require.ErrorIs(t, err, ErrValidation)
}

func TestActivateEmitsRecordsInOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc, locker := newTestService(repo, map[string]policy.Policy{
		"sales-agent": {Role: "sales-agent", Overlappable: true},
	})
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{
		User: "alice", Role: "sales-agent", Territory: "Zone-A", Company: "Acme",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet", EntityID: "Shop-1"}},
	})
	require.NoError(t, svc.Activate(ctx, a.ID, "admin"))

	got, _, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	records, err := svc.Records(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, records, 4)

	require.True(t, records[0].IsRoleGrant)
	require.Equal(t, "sales-agent", records[0].RoleName)
	require.Equal(t, policy.TerritoryEntity, records[1].EntityType)
	require.Equal(t, "Zone-A", records[1].EntityID)
	require.Equal(t, policy.CompanyEntity, records[2].EntityType)
	require.Equal(t, "Acme", records[2].EntityID)
	require.Equal(t, "Outlet", records[3].EntityType)
	require.Equal(t, "Shop-1", records[3].EntityID)

	require.Equal(t, []string{"assignment:activate:sales-agent:Zone-A:lock"}, locker.acquired)
	require.False(t, locker.held)
}

func TestActivateIncludesActiveProfileRows(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.profileRows["sales-agent"] = []policy.ScopeRef{
		{EntityType: "Warehouse", EntityID: "WH-1"},
	}
	svc, _ := newTestService(repo, nil)
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, a.ID, "admin"))

	records, err := svc.Records(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	last := records[len(records)-1]
	require.Equal(t, "Warehouse", last.EntityType)
	require.Equal(t, "WH-1", last.EntityID)
}

func TestActivateWithoutPolicySkipsValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, nil)
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{User: "alice", Role: "freeform-role", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, a.ID, "admin"))

	records, err := svc.Records(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, records)
}

func TestActivateLifecycleGuards(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, nil)
	ctx := context.Background()

	require.ErrorIs(t, svc.Activate(ctx, 99, "admin"), ErrNotFound)

	a := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent"})
	require.NoError(t, svc.Activate(ctx, a.ID, "admin"))
	require.ErrorIs(t, svc.Activate(ctx, a.ID, "admin"), ErrInvalidState)

	require.NoError(t, svc.Retract(ctx, a.ID, "admin"))
	require.ErrorIs(t, svc.Activate(ctx, a.ID, "admin"), ErrInvalidState)
	require.ErrorIs(t, svc.Retract(ctx, a.ID, "admin"), ErrInvalidState)
}

func TestQuotaCountsActivatingAssignment(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"supervisor": {Role: "supervisor", Overlappable: true, NumberOfActors: 1},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "supervisor", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))

	// Quota of one: the second activation sees two active rows, itself
	// included, and is rejected.
	second := mustCreate(t, svc, CreateInput{User: "bob", Role: "supervisor", Territory: "Zone-A"})
	err := svc.Activate(ctx, second.ID, "admin")
	require.ErrorIs(t, err, policy.ErrQuotaExceeded)

	got, _, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)

	records, err := svc.Records(ctx, second.ID)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestQuotaSeparatePerTerritory(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"supervisor": {Role: "supervisor", Overlappable: true, NumberOfActors: 1},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "supervisor", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))

	second := mustCreate(t, svc, CreateInput{User: "bob", Role: "supervisor", Territory: "Zone-B"})
	require.NoError(t, svc.Activate(ctx, second.ID, "admin"))
}

func TestOverlapRejectedByOwnPolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"auditor":     {Role: "auditor", Overlappable: false},
		"sales-agent": {Role: "sales-agent", Overlappable: true},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))

	second := mustCreate(t, svc, CreateInput{User: "alice", Role: "auditor", Territory: "Zone-A"})
	require.ErrorIs(t, svc.Activate(ctx, second.ID, "admin"), policy.ErrOverlap)
}

func TestOverlapRejectedBySiblingPolicy(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"auditor":     {Role: "auditor", Overlappable: false},
		"sales-agent": {Role: "sales-agent", Overlappable: true},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "auditor", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))

	second := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.ErrorIs(t, svc.Activate(ctx, second.ID, "admin"), policy.ErrOverlap)
}

func TestOverlapAllowedWhenBothOverlappable(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"sales-agent": {Role: "sales-agent", Overlappable: true},
		"promoter":    {Role: "promoter", Overlappable: true},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))

	second := mustCreate(t, svc, CreateInput{User: "alice", Role: "promoter", Territory: "Zone-B"})
	require.NoError(t, svc.Activate(ctx, second.ID, "admin"))
}

func TestScopeRowsConstrainLinkedEntities(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"zone-agent": {Role: "zone-agent", Overlappable: true,
			ScopeRows: []policy.ScopeRef{{EntityType: policy.TerritoryEntity, EntityID: "Zone-A"}}},
	})
	ctx := context.Background()

	// Shop-1 links to Zone-A: allowed.
	ok := mustCreate(t, svc, CreateInput{User: "alice", Role: "zone-agent", Territory: "Zone-A",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet", EntityID: "Shop-1"}}})
	require.NoError(t, svc.Activate(ctx, ok.ID, "admin"))

	// Shop-2 links to Zone-B, which the scope rows do not permit.
	bad := mustCreate(t, svc, CreateInput{User: "bob", Role: "zone-agent", Territory: "Zone-A",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet", EntityID: "Shop-2"}}})
	require.ErrorIs(t, svc.Activate(ctx, bad.ID, "admin"), policy.ErrScopeViolation)

	got, _, err := svc.Get(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestScopeValidationTerritoryType(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"zone-agent": {Role: "zone-agent", Overlappable: true, TerritoryType: "Zone"},
	})
	ctx := context.Background()

	// Region-1 has territory_type Region, not Zone.
	a := mustCreate(t, svc, CreateInput{User: "alice", Role: "zone-agent", Territory: "Region-1"})
	require.ErrorIs(t, svc.Activate(ctx, a.ID, "admin"), policy.ErrScopeViolation)
}

func TestScopeValidationCoversDetailRows(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"zone-agent": {Role: "zone-agent", Overlappable: true, TerritoryType: "Zone",
			ScopeRows: []policy.ScopeRef{{EntityType: policy.TerritoryEntity, EntityID: "Zone-B"}}},
	})
	ctx := context.Background()

	// Outlet Shop-1 links to Zone-A while the policy only allows Zone-B.
	a := mustCreate(t, svc, CreateInput{
		User: "alice", Role: "zone-agent", Territory: "Zone-B",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet", EntityID: "Shop-1"}},
	})
	require.ErrorIs(t, svc.Activate(ctx, a.ID, "admin"), policy.ErrScopeViolation)
}

func TestRetractRemovesExactlyOwnRecords(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"sales-agent": {Role: "sales-agent", Overlappable: true},
	})
	ctx := context.Background()

	first := mustCreate(t, svc, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.NoError(t, svc.Activate(ctx, first.ID, "admin"))
	second := mustCreate(t, svc, CreateInput{User: "bob", Role: "sales-agent", Territory: "Zone-B"})
	require.NoError(t, svc.Activate(ctx, second.ID, "admin"))

	require.NoError(t, svc.Retract(ctx, first.ID, "admin"))

	gone, err := svc.Records(ctx, first.ID)
	require.NoError(t, err)
	require.Empty(t, gone)

	kept, err := svc.Records(ctx, second.ID)
	require.NoError(t, err)
	require.NotEmpty(t, kept)

	got, _, err := svc.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRetracted, got.Status)
}

func TestActivateRetractRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"sales-agent": {Role: "sales-agent", Overlappable: true},
	})
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{
		User: "alice", Role: "sales-agent", Territory: "Zone-A", Company: "Acme",
		DetailRows: []policy.ScopeRef{{EntityType: "Outlet", EntityID: "Shop-1"}},
	})
	require.NoError(t, svc.Activate(ctx, a.ID, "admin"))
	require.NoError(t, svc.Retract(ctx, a.ID, "admin"))

	require.Empty(t, repo.state.records)
}

func TestActivationFailureLeavesNoRecords(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo, map[string]policy.Policy{
		"zone-agent": {Role: "zone-agent", Overlappable: true, TerritoryType: "Zone"},
	})
	ctx := context.Background()

	a := mustCreate(t, svc, CreateInput{User: "alice", Role: "zone-agent", Territory: "Region-1"})
	err := svc.Activate(ctx, a.ID, "admin")
	require.Error(t, err)
	require.True(t, policy.IsViolation(err))

	require.Empty(t, repo.state.records)
	got, _, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

func TestLockFailureAbortsActivation(t *testing.T) {
	repo := newMemoryRepo()
	lockErr := errors.New("lease held elsewhere")
	svc := NewService(repo, stubPolicies{}, newTestDirectory(), failingLocker{err: lockErr}, nil, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateInput{User: "alice", Role: "sales-agent", Territory: "Zone-A"})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Activate(ctx, a.ID, "admin"), lockErr)

	got, _, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
}

type failingLocker struct {
	err error
}

func (l failingLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, l.err
}
