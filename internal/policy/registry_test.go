package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryPolicyRepo struct {
	policies map[string]Policy
	calls    int
}

func (r *memoryPolicyRepo) Get(ctx context.Context, role string) (Policy, error) {
	r.calls++
	pol, ok := r.policies[role]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return pol, nil
}

func TestRegistryGet(t *testing.T) {
	repo := &memoryPolicyRepo{policies: map[string]Policy{
		"sales-agent": {Role: "sales-agent", Overlappable: true, NumberOfActors: 2, TerritoryType: "Zone"},
	}}
	reg := NewRegistry(repo, nil, time.Minute, nil)
	ctx := context.Background()

	pol, found, err := reg.Get(ctx, "sales-agent")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, pol.NumberOfActors)

	_, found, err = reg.Get(ctx, "unknown-role")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = reg.Get(ctx, "")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRegistryCaches(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &memoryPolicyRepo{policies: map[string]Policy{
		"supervisor": {Role: "supervisor", NumberOfActors: 1},
	}}
	reg := NewRegistry(repo, client, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		pol, found, err := reg.Get(ctx, "supervisor")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 1, pol.NumberOfActors)
	}
	require.Equal(t, 1, repo.calls)

	// Absence is cached too.
	for i := 0; i < 2; i++ {
		_, found, err := reg.Get(ctx, "ghost")
		require.NoError(t, err)
		require.False(t, found)
	}
	require.Equal(t, 2, repo.calls)

	require.NoError(t, reg.Invalidate(ctx, "supervisor"))
	_, _, err := reg.Get(ctx, "supervisor")
	require.NoError(t, err)
	require.Equal(t, 3, repo.calls)
}

func TestAllowedValues(t *testing.T) {
	pol := Policy{
		TerritoryType: "Zone",
		ScopeRows: []ScopeRef{
			{EntityType: "Company", EntityID: "acme"},
			{EntityType: "Company", EntityID: "acme"},
			{EntityType: "Company", EntityID: "globex"},
		},
	}
	allowed := pol.AllowedValues()
	require.Equal(t, []string{"Zone"}, allowed[TerritoryTypeEntity])
	require.Equal(t, []string{"acme", "globex"}, allowed["Company"])

	require.Empty(t, Policy{}.AllowedValues())
}
