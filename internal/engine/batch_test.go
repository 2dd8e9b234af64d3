package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/config"
	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/testutil"
)

// =============================================================================
// Adding and removing direct members
// =============================================================================

func TestChangeMembers_AddUserToEmptyGroup(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")

	res, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)

	assert.True(t, f.direct("g1").Has("u1"))
	assert.Equal(t, []string{"u1"}, f.exploded("g1").IDs())
	assert.Equal(t, 1, f.group("g1").AccessibleUsers)
	assert.Equal(t, []string{"u1"}, res.Groups["g1"].Added.IDs())
	assert.Equal(t, 1, res.Groups["g1"].AccessibleUsers)

	assert.Equal(t, []string{
		string(events.GroupAccessible),
		string(events.GroupMembersChanged),
		string(events.GroupMembershipChanged),
		string(events.BacklogObjectCreated),
	}, f.rec.Types())

	recs := f.backlog(store.BacklogFilter{GroupID: "g1"})
	require.Len(t, recs, 1)
	assert.Equal(t, model.SyncMemberAdd, recs[0].Operation)
	assert.Equal(t, docsync.ExternalGroupID("g1"), recs[0].ExternalGroupID)
	assert.Equal(t, model.SyncStatusInit, recs[0].StatusCode)
	require.Len(t, recs[0].Members, 1)
	assert.Equal(t, "u1", recs[0].Members[0].Member.ID)
	assert.Equal(t, model.RoleGroupMember, recs[0].Members[0].Role)

	assert.Equal(t, 1, f.drain())
	recs = f.backlog(store.BacklogFilter{GroupID: "g1"})
	assert.Equal(t, model.SyncStatusSuccess, recs[0].StatusCode)
	types := f.rec.Types()
	assert.Equal(t, testutil.TraceSyncReplayed, types[len(types)-1])
}

func TestChangeMembers_SameBatchTwiceIsIdempotent(t *testing.T) {
	f := hierarchyFixture(t)
	f.seed(Batch{"g1": {model.AddMember("u1", model.RoleGroupMember)}})

	res, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)

	assert.Empty(t, res.Groups["g1"].Added)
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Inline)
	assert.Empty(t, res.Background)
	assert.Empty(t, f.rec.Lines(), "no notification for an unchanged batch")
	assert.Zero(t, f.engine.Worker().Len(), "no background reindex queued")
	assert.Len(t, f.backlog(store.BacklogFilter{}), 1)

	f.drain()
	assert.Empty(t, f.rec.Lines())
}

func TestChangeMembers_AddThenRemoveRestoresClosure(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2")
	f.groups("g1", "g2")
	f.seed(Batch{"g1": {model.AddMember("g2", model.RoleGroupMember), model.AddMember("u2", model.RoleGroupMember)}})
	before := f.exploded("g1")

	_, err := f.engine.AddMembers(f.ctx, "g2", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)
	assert.True(t, f.exploded("g1").Has("u1"))

	_, err = f.engine.RemoveMembers(f.ctx, "g2", "u1")
	require.NoError(t, err)
	assert.True(t, before.Equal(f.exploded("g1")))
	assert.Equal(t, 1, f.group("g1").AccessibleUsers)
	assert.Equal(t, 0, f.group("g2").AccessibleUsers)
}

func TestChangeMembers_RemoveLastMemberOrphansGroup(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")
	f.seed(Batch{"g1": {model.AddMember("u1", model.RoleGroupMember)}})

	res, err := f.engine.RemoveMembers(f.ctx, "g1", "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"u1"}, res.Groups["g1"].Removed.IDs())
	assert.Equal(t, []string{
		string(events.GroupInaccessible),
		string(events.GroupMembersChanged),
		string(events.GroupMembershipChanged),
		string(events.GroupOrphaned),
		string(events.BacklogObjectCreated),
	}, f.rec.Types())

	recs := f.backlog(store.BacklogFilter{Operation: model.SyncMemberRemove})
	require.Len(t, recs, 1)
	assert.Equal(t, model.RoleNone, recs[0].Members[0].Role)
}

func TestChangeMembers_RoleChangeIsModify(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")
	f.seed(Batch{"g1": {model.AddMember("u1", model.RoleGroupMember)}})

	res, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupManager})
	require.NoError(t, err)

	gr := res.Groups["g1"]
	assert.Empty(t, gr.Added)
	assert.Equal(t, []string{"u1"}, gr.Modified.IDs())

	// A role change is a direct change but not an exploded one.
	assert.Equal(t, []string{
		string(events.GroupMembersChanged),
		string(events.BacklogObjectCreated),
	}, f.rec.Types())
	assert.Equal(t, []string{"u1=GROUP_MANAGER"}, f.rec.Lines()[0].Added)

	recs := f.backlog(store.BacklogFilter{Operation: model.SyncMemberModify})
	require.Len(t, recs, 1)
	assert.Equal(t, model.RoleGroupManager, recs[0].Members[0].Role)
}

func TestChangeMembers_RemoveAndReaddInOneBatchNetsOut(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")
	f.seed(Batch{"g1": {model.AddMember("u1", model.RoleGroupMember)}})

	res, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {
		model.RemoveMember("u1"),
		model.AddMember("u1", model.RoleGroupMember),
	}}, f.engine.DefaultOptions())
	require.NoError(t, err)

	gr := res.Groups["g1"]
	assert.Empty(t, gr.Added)
	assert.Empty(t, gr.Modified)
	assert.Empty(t, gr.Removed)
	assert.Empty(t, res.Records)
	assert.Empty(t, f.rec.Lines())
}

// =============================================================================
// Propagation through nested groups
// =============================================================================

func TestChangeMembers_PropagatesToAncestors(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1", "g2", "g3")
	f.seed(Batch{
		"g1": {model.AddMember("g2", model.RoleGroupMember)},
		"g2": {model.AddMember("g3", model.RoleGroupMember)},
	})

	res, err := f.engine.AddMembers(f.ctx, "g3", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)

	assert.Equal(t, []string{"g1", "g2", "g3"}, res.Affected)
	for _, gid := range []string{"g1", "g2", "g3"} {
		assert.True(t, f.exploded(gid).Has("u1"), gid)
		assert.Equal(t, 1, f.group(gid).AccessibleUsers, gid)
	}

	refs, err := f.store.BackReferences(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g3"}, refs)
	assert.Equal(t, 3, f.rec.Count(string(events.GroupAccessible)))

	// Only the changed group gets a direct-delta notification.
	assert.Equal(t, 1, f.rec.Count(string(events.GroupMembersChanged)))
}

func TestChangeMembers_EventsSeeCurrentAccessibleCount(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2", "u3")
	f.groups("g1", "g2")
	f.seed(Batch{"g1": {model.AddMember("g2", model.RoleGroupMember), model.AddMember("u3", model.RoleGroupMember)}})

	_, err := f.engine.AddMembers(f.ctx, "g2", map[string]model.Role{
		"u1": model.RoleGroupMember,
		"u2": model.RoleGroupMember,
	})
	require.NoError(t, err)

	for _, line := range f.rec.Lines() {
		if line.AccessibleUsers == nil {
			continue
		}
		assert.Equal(t, f.group(line.Group).AccessibleUsers, *line.AccessibleUsers,
			"%s for %s observed a stale count", line.Type, line.Group)
	}
	assert.Equal(t, 3, f.group("g1").AccessibleUsers)
}

func TestChangeMembers_ListenerReadsThroughBatchTx(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2")
	f.groups("g1", "g2")
	f.seed(Batch{"g1": {model.AddMember("g2", model.RoleGroupMember)}})

	seen := map[string]int{}
	var committed []string
	f.engine.Bus().Register(events.ListenerFunc(func(ctx context.Context, ev events.Event) {
		if ev.Type != events.GroupAccessible {
			return
		}
		tx, ok := store.TxFrom(ctx)
		if !assert.True(t, ok, "listener context carries the batch transaction") {
			return
		}
		g, err := tx.Group(ctx, ev.Group.ID)
		if !assert.NoError(t, err) {
			return
		}
		seen[g.ID] = g.AccessibleUsers
		tx.OnCommit(func(context.Context) { committed = append(committed, g.ID) })
	}))

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.AddMembers(f.ctx, "g2", map[string]model.Role{
			"u1": model.RoleGroupMember,
			"u2": model.RoleGroupMember,
		})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("batch blocked while a listener read the store")
	}

	assert.Equal(t, map[string]int{"g1": 2, "g2": 2}, seen)
	assert.ElementsMatch(t, []string{"g1", "g1", "g2", "g2"}, committed)
}

func TestChangeMembers_UserReachableTwiceStaysAccessible(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1", "g2")
	f.seed(Batch{
		"g1": {model.AddMember("g2", model.RoleGroupMember), model.AddMember("u1", model.RoleGroupMember)},
		"g2": {model.AddMember("u1", model.RoleGroupMember)},
	})

	_, err := f.engine.RemoveMembers(f.ctx, "g2", "u1")
	require.NoError(t, err)

	assert.True(t, f.exploded("g1").Has("u1"))
	assert.Equal(t, 1, f.group("g1").AccessibleUsers)
	assert.Equal(t, 1, f.rec.Count(string(events.GroupInaccessible)))
}

// =============================================================================
// Member resolution
// =============================================================================

func TestChangeMembers_ResolvesEveryLocator(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2", "u3")
	f.groups("g1", "g2", "g3")
	ctx := f.ctx
	require.NoError(t, f.store.CreateConversation(ctx, model.Conversation{ID: "c1"}))
	require.NoError(t, f.store.AddConversationMember(ctx, "c1", user("u2"), model.RoleMember))
	require.NoError(t, f.store.AddConversationMember(ctx, "c1", user("u3"), model.RoleMember))

	_, err := f.engine.ChangeMembers(ctx, Batch{"g1": {
		{UserName: "u1"},
		{GroupID: " g2 "},
		{GroupName: "g3"},
		{ConversationID: "c1", Role: model.RoleGroupManager},
	}}, f.engine.DefaultOptions())
	require.NoError(t, err)

	direct := f.direct("g1")
	assert.Equal(t, []string{"g2", "g3", "u1", "u2", "u3"}, direct.IDs())
	assert.Equal(t, model.RoleGroupMember, direct["u1"].Role)
	assert.Equal(t, model.RoleGroupManager, direct["u2"].Role)
}

func TestChangeMembers_UnknownUserNameCreatesShadow(t *testing.T) {
	f := newFixture(t)
	f.groups("g1")

	_, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {
		{UserName: "newcomer", UserRealmID: "realm-1", SendInvitation: true},
	}}, f.engine.DefaultOptions())
	require.NoError(t, err)

	u, err := f.store.UserByName(f.ctx, "newcomer")
	require.NoError(t, err)
	assert.True(t, u.Shadow)
	assert.True(t, f.direct("g1").Has(u.ID))
	assert.Equal(t, string(events.UserInvited), f.rec.Types()[0])
}

func TestChangeMembers_ResolutionErrors(t *testing.T) {
	tests := []struct {
		name string
		req  model.ChangeRequest
		code ErrorCode
	}{
		{"unknown member id", model.AddMember("nobody", model.RoleGroupMember), ErrCodeMemberNotFound},
		{"unknown group id", model.ChangeRequest{GroupID: "nope"}, ErrCodeGroupNotFound},
		{"unknown conversation", model.ChangeRequest{ConversationID: "nope"}, ErrCodeMemberNotFound},
		{"no locator", model.ChangeRequest{}, ErrCodeNoMemberLocator},
		{"remove by conversation", model.ChangeRequest{ConversationID: "c1", Delete: true}, ErrCodeNoMemberLocator},
		{"remove unknown user name", model.ChangeRequest{UserName: "ghost", Delete: true}, ErrCodeUserNotFound},
		{"outsider", model.AddMember("out", model.RoleGroupMember), ErrCodeOutsiderNotAllowed},
		{"disabled", model.AddMember("off", model.RoleGroupMember), ErrCodeMemberDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.groups("g1")
			require.NoError(t, f.store.CreateUser(f.ctx, model.User{ID: "out", Name: "out", Enabled: true, Outsider: true}))
			require.NoError(t, f.store.CreateUser(f.ctx, model.User{ID: "off", Name: "off", Enabled: false}))

			_, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {tt.req}}, f.engine.DefaultOptions())
			require.Error(t, err)
			assert.True(t, IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestChangeMembers_SyncAcceptsDisabledMembers(t *testing.T) {
	f := newFixture(t)
	f.groups("g1")
	require.NoError(t, f.store.CreateUser(f.ctx, model.User{ID: "off", Name: "off", Enabled: false}))

	_, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {model.AddMember("off", model.RoleGroupMember)}},
		Options{Sync: true, SyncGroupMembers: true})
	require.NoError(t, err)
	assert.True(t, f.direct("g1").Has("off"))
}

// =============================================================================
// Batch-level failures
// =============================================================================

func TestChangeMembers_FailureRollsBackWholeBatch(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1", "g2")

	_, err := f.engine.ChangeMembers(f.ctx, Batch{
		"g1": {model.AddMember("u1", model.RoleGroupMember)},
		"g2": {model.AddMember("nobody", model.RoleGroupMember)},
	}, f.engine.DefaultOptions())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeMemberNotFound))

	assert.Empty(t, f.direct("g1"))
	assert.Empty(t, f.backlog(store.BacklogFilter{}))
	assert.Zero(t, f.engine.Worker().Len())
}

func TestChangeMembers_SkipOnExceptionLogsAndContinues(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")

	res, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {
		model.AddMember("nobody", model.RoleGroupMember),
		model.AddMember("u1", model.RoleGroupMember),
	}}, Options{SkipOnException: true, SyncGroupMembers: true})
	require.NoError(t, err)

	gr := res.Groups["g1"]
	require.Len(t, gr.Failures, 1)
	assert.True(t, IsCode(gr.Failures[0].Err, ErrCodeMemberNotFound))
	assert.True(t, f.direct("g1").Has("u1"))

	entries, err := f.store.ActivityEntries(f.ctx, "g1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.ActivityMemberChangeFailed, entries[0].Action)
	assert.Contains(t, entries[0].Detail, "nobody")
	assert.Contains(t, entries[0].Stack, "engine.")
	assert.Equal(t, model.ActivityMemberAdded, entries[1].Action)
}

func TestChangeMembers_RejectsBadShapeAndMissingActor(t *testing.T) {
	f := newFixture(t)
	f.groups("g1", "g2")

	_, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": nil, "g2": nil}, Options{SyncGroupCreate: true})
	assert.True(t, IsCode(err, ErrCodeInvalidBatchShape))

	_, err = f.engine.ChangeMembers(context.Background(), Batch{"g1": nil}, Options{})
	assert.True(t, IsCode(err, ErrCodePrivilegeDenied))

	_, err = f.engine.ChangeMembers(f.ctx, Batch{"missing": nil}, Options{})
	assert.True(t, IsCode(err, ErrCodeGroupNotFound))
}

func TestChangeMembers_PrivilegeDenied(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u9")
	f.groups("g1")

	_, err := f.engine.AddMembers(f.asUser("u9"), "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodePrivilegeDenied))

	// Joining a public-open group yourself is allowed.
	_, err = f.engine.AddMembers(f.asUser("u9"), "g1", map[string]model.Role{"u9": model.RoleGroupMember})
	require.NoError(t, err)
}

// =============================================================================
// Backlog flags
// =============================================================================

func TestChangeMembers_GroupCreateCarriesFullMembership(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2")
	f.groups("g1")

	res, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {
		model.AddMember("u1", model.RoleGroupManager),
		model.AddMember("u2", model.RoleGroupMember),
	}}, Options{SyncGroupCreate: true, SyncGroupMembers: true})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, model.SyncCreate, res.Records[0].Operation)
	assert.Len(t, res.Records[0].Members, 2)

	f.drain()
	remote, err := f.docs.ViewGroupMembers(f.ctx, docsync.ExternalGroupID("g1"))
	require.NoError(t, err)
	assert.Equal(t, []docsync.RemoteMember{{Name: "u1", Role: "manager"}, {Name: "u2", Role: "downloader"}}, remote)
}

func TestChangeMembers_SyncGroupMembersGatesAddsOnly(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2")
	f.groups("g1")
	f.seed(Batch{"g1": {model.AddMember("u1", model.RoleGroupMember)}})

	res, err := f.engine.ChangeMembers(f.ctx, Batch{"g1": {
		model.AddMember("u2", model.RoleGroupMember),
		model.RemoveMember("u1"),
	}}, Options{})
	require.NoError(t, err)

	require.Len(t, res.Records, 1)
	assert.Equal(t, model.SyncMemberRemove, res.Records[0].Operation)
}

func TestChangeMembers_SyncDisabledWritesNoBacklog(t *testing.T) {
	cfg := config.Default()
	cfg.SyncEnabled = false
	f := newFixture(t, WithConfig(cfg))
	f.users("u1")
	f.groups("g1")

	res, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Empty(t, f.backlog(store.BacklogFilter{}))
	assert.True(t, f.direct("g1").Has("u1"))
}

func TestChangeMembers_ReplayOrder(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2", "u3")
	f.groups("g1", "g2")
	f.seed(Batch{
		"g1": {model.AddMember("u1", model.RoleGroupMember)},
		"g2": {model.AddMember("u2", model.RoleGroupMember)},
	})

	res, err := f.engine.ChangeMembers(f.ctx, Batch{
		"g1": {model.RemoveMember("u1"), model.AddMember("u3", model.RoleGroupMember)},
		"g2": {model.AddMember("u2", model.RoleGroupManager)},
	}, f.engine.DefaultOptions())
	require.NoError(t, err)

	var ops []model.SyncOperation
	for _, r := range res.Records {
		ops = append(ops, r.Operation)
	}
	assert.Equal(t, []model.SyncOperation{model.SyncMemberAdd, model.SyncMemberModify, model.SyncMemberRemove}, ops)
	for i := 1; i < len(res.Records); i++ {
		assert.Greater(t, res.Records[i].Seq, res.Records[i-1].Seq)
	}
}
