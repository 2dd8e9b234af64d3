package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
)

func TestBacklog_InsertAssignsSeqAndInitStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r1 := &model.SyncBacklogRecord{
		ID: "b1", GroupID: "g1", ExternalGroupID: "dGroupID:g1", Operation: model.SyncMemberAdd,
		Members:   []model.RoleAssignment{{Member: testUser("u2").Member(), Role: model.RoleMember}},
		GroupType: model.GroupTypePublicOpen, GroupName: "g1", CreatedAt: t0,
	}
	r2 := &model.SyncBacklogRecord{
		ID: "b2", GroupID: "g2", ExternalGroupID: "dGroupID:g2", Operation: model.SyncMemberRemove,
		Members:   []model.RoleAssignment{{Member: testUser("u3").Member(), Role: model.RoleNone}},
		GroupType: model.GroupTypeStatic, GroupName: "g2", CreatedAt: t0,
	}
	require.NoError(t, s.InsertBacklogRecord(ctx, r1))
	require.NoError(t, s.InsertBacklogRecord(ctx, r2))
	assert.Equal(t, int64(1), r1.Seq)
	assert.Equal(t, int64(2), r2.Seq)

	all, err := s.BacklogRecords(ctx, BacklogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.SyncStatusInit, all[0].StatusCode)
	assert.Equal(t, *r1, all[0])

	removes, err := s.BacklogRecords(ctx, BacklogFilter{Operation: model.SyncMemberRemove})
	require.NoError(t, err)
	require.Len(t, removes, 1)
	assert.Equal(t, "b2", removes[0].ID)
}

func TestBacklog_UpdateStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertBacklogRecord(ctx, &model.SyncBacklogRecord{
		ID: "b1", GroupID: "g1", Operation: model.SyncCreate, CreatedAt: t0,
	}))

	require.NoError(t, s.UpdateBacklogStatus(ctx, "b1", model.SyncStatusFailed, "remote down"))

	r, err := s.BacklogRecord(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, r.StatusCode)
	assert.Equal(t, "remote down", r.StatusMessage)

	failed, err := s.BacklogRecords(ctx, BacklogFilter{StatusCode: model.SyncStatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	assert.ErrorIs(t, s.UpdateBacklogStatus(ctx, "missing", model.SyncStatusSuccess, ""), ErrNotFound)
}

func TestActivity_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.AppendActivity(ctx, model.ActivityEntry{
		Action: model.ActivityMemberAdded, GroupID: "g1", MemberID: "u2", ActorID: "u1", At: t0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
	_, err = s.AppendActivity(ctx, model.ActivityEntry{
		Action: model.ActivityMemberChangeFailed, GroupID: "g2", Detail: "denied", Stack: "a<b", At: t0,
	})
	require.NoError(t, err)

	g1, err := s.ActivityEntries(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, g1, 1)
	assert.Equal(t, model.ActivityMemberAdded, g1[0].Action)
	assert.Equal(t, t0, g1[0].At)

	all, err := s.ActivityEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
