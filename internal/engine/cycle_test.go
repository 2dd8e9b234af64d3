package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
)

// =============================================================================
// CycleDetector Unit Tests
// =============================================================================

// containsMap answers containment from a fixed map[group]set-of-members.
type containsMap map[string]map[string]bool

func (c containsMap) IsExplodedMember(_ context.Context, groupID, memberID string) (bool, error) {
	return c[groupID][memberID], nil
}

func TestCycleDetector_SelfMembership(t *testing.T) {
	d := NewCycleDetector(containsMap{})
	g := model.Group{ID: "g1", Name: "g1"}

	got, err := d.Candidates(context.Background(), g, []model.Member{grp("g1")})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, got)
}

func TestCycleDetector_TransitiveContainment(t *testing.T) {
	d := NewCycleDetector(containsMap{"g2": {"g1": true}})
	g := model.Group{ID: "g1", Name: "g1"}

	got, err := d.Candidates(context.Background(), g, []model.Member{user("u1"), grp("g2"), grp("g3")})
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, got)
}

func TestCycleDetector_UsersNeverCycle(t *testing.T) {
	d := NewCycleDetector(containsMap{"u1": {"g1": true}})

	got, err := d.Candidates(context.Background(), model.Group{ID: "g1"}, []model.Member{user("u1")})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// Batch cycle rejection
// =============================================================================

func TestChangeMembers_MutualNestingRejectsBothGroups(t *testing.T) {
	f := newFixture(t)
	f.groups("g1", "g2")

	res, err := f.engine.ChangeMembers(f.ctx, Batch{
		"g1": {model.AddMember("g2", model.RoleGroupMember)},
		"g2": {model.AddMember("g1", model.RoleGroupMember)},
	}, f.engine.DefaultOptions())

	require.Error(t, err)
	assert.True(t, IsCycleError(err))
	require.NotNil(t, res)
	assert.True(t, res.Groups["g1"].Rejected)
	assert.True(t, res.Groups["g2"].Rejected)

	assert.Empty(t, f.direct("g1"))
	assert.Empty(t, f.direct("g2"))
	assert.Empty(t, f.backlog(store.BacklogFilter{}))

	for _, gid := range []string{"g1", "g2"} {
		entries, err := f.store.ActivityEntries(f.ctx, gid)
		require.NoError(t, err)
		require.Len(t, entries, 1, gid)
		assert.Equal(t, model.ActivityMemberChangeFailed, entries[0].Action)
		assert.Contains(t, entries[0].Detail, string(ErrCodeCycleDetected))
	}

	var me *MembershipError
	require.True(t, errors.As(err, &me))
	assert.NotEmpty(t, me.Candidates)
}

func TestChangeMembers_CycleSparesOtherGroups(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1", "g2", "g3")
	f.seed(Batch{"g1": {model.AddMember("g2", model.RoleGroupMember)}})

	res, err := f.engine.ChangeMembers(f.ctx, Batch{
		"g2": {model.AddMember("g1", model.RoleGroupMember)},
		"g3": {model.AddMember("u1", model.RoleGroupMember)},
	}, f.engine.DefaultOptions())

	assert.True(t, IsCycleError(err))
	assert.True(t, res.Groups["g2"].Rejected)
	assert.False(t, res.Groups["g3"].Rejected)
	assert.True(t, f.direct("g3").Has("u1"))
	assert.False(t, f.direct("g2").Has("g1"))

	require.Len(t, res.Records, 1)
	assert.Equal(t, "g3", res.Records[0].GroupID)
}

func TestChangeMembers_SelfNestingRejected(t *testing.T) {
	f := newFixture(t)
	f.groups("g1")

	_, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {model.AddMember("g1", model.RoleGroupMember)}}, f.engine.DefaultOptions())
	assert.True(t, IsCycleError(err))
	assert.Empty(t, f.direct("g1"))
}

func TestChangeMembers_RejectedGroupRestoresRemovals(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1", "g2")
	f.seed(Batch{
		"g1": {model.AddMember("g2", model.RoleGroupMember)},
		"g2": {model.AddMember("u1", model.RoleGroupManager)},
	})

	_, err := f.engine.ChangeMembers(f.ctx, Batch{"g2": {
		model.RemoveMember("u1"),
		model.AddMember("g1", model.RoleGroupMember),
	}}, f.engine.DefaultOptions())
	assert.True(t, IsCycleError(err))

	direct := f.direct("g2")
	require.True(t, direct.Has("u1"))
	assert.Equal(t, model.RoleGroupManager, direct["u1"].Role)
	assert.Equal(t, 1, f.group("g1").AccessibleUsers)
	assert.Empty(t, f.rec.Lines())
}
