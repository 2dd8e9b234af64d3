package docsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
)

func TestMapping(t *testing.T) {
	assert.Equal(t, "dGroupID:g1", ExternalGroupID("g1"))
	id, ok := GroupIDFromExternal("dGroupID:g1")
	assert.True(t, ok)
	assert.Equal(t, "g1", id)
	_, ok = GroupIDFromExternal("g1")
	assert.False(t, ok)

	assert.Equal(t, "app_private", ExternalGroupType(model.GroupTypePrivateClosed))
	assert.Equal(t, "app_public_closed", ExternalGroupType(model.GroupTypePublicClosed))
	assert.Equal(t, "app_public_open", ExternalGroupType(model.GroupTypePublicOpen))
	assert.Equal(t, "static", ExternalGroupType(model.GroupTypeStatic))

	assert.Equal(t, "manager", ExternalRole(model.RoleGroupManager))
	assert.Equal(t, "downloader", ExternalRole(model.RoleManager))
	assert.Equal(t, "downloader", ExternalRole(model.RoleGroupMember))
	assert.Equal(t, model.RoleGroupManager, RoleFromExternal("manager"))
	assert.Equal(t, model.RoleGroupMember, RoleFromExternal("downloader"))

	assert.Equal(t, "GSg2", RemoteName(model.Member{ID: "g2", Kind: model.MemberKindGroup, Name: "eng"}))
	assert.Equal(t, "alice", RemoteName(model.Member{ID: "u1", Kind: model.MemberKindUser, Name: "alice"}))
}

func record(op model.SyncOperation, members ...model.RoleAssignment) model.SyncBacklogRecord {
	return model.SyncBacklogRecord{
		ID: string(op), GroupID: "g1", ExternalGroupID: ExternalGroupID("g1"),
		Operation: op, Members: members, GroupType: model.GroupTypePublicOpen, GroupName: "g1",
	}
}

func user(name string, role model.Role) model.RoleAssignment {
	return model.RoleAssignment{Member: model.Member{ID: "id-" + name, Kind: model.MemberKindUser, Name: name}, Role: role}
}

func TestMemory_DeliverSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, Deliver(ctx, m, record(model.SyncCreate, user("alice", model.RoleGroupManager))))
	require.NoError(t, Deliver(ctx, m, record(model.SyncMemberAdd, user("bob", model.RoleGroupMember))))
	require.NoError(t, Deliver(ctx, m, record(model.SyncMemberModify, user("bob", model.RoleGroupManager))))
	require.NoError(t, Deliver(ctx, m, record(model.SyncMemberRemove, user("alice", model.RoleNone))))

	members, err := m.ViewGroupMembers(ctx, ExternalGroupID("g1"))
	require.NoError(t, err)
	assert.Equal(t, []RemoteMember{{Name: "bob", Role: "manager"}}, members)

	require.NoError(t, m.RemoveGroupMembersByName(ctx, ExternalGroupID("g1"), []string{"bob"}))
	members, err = m.ViewGroupMembers(ctx, ExternalGroupID("g1"))
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.Error(t, Deliver(ctx, m, record("BOGUS")))
}

type fakeStatus struct {
	codes    map[string]string
	messages map[string]string
}

func (f *fakeStatus) UpdateBacklogStatus(_ context.Context, id, code, message string) error {
	f.codes[id] = code
	f.messages[id] = message
	return nil
}

type failingClient struct{ *Memory }

func (*failingClient) GroupMembershipRemoved(context.Context, model.SyncBacklogRecord) error {
	return errors.New("remote down")
}

func TestStatusRecorder(t *testing.T) {
	ctx := context.Background()
	status := &fakeStatus{codes: map[string]string{}, messages: map[string]string{}}
	rec := &StatusRecorder{Next: &failingClient{Memory: NewMemory()}, Status: status}

	require.NoError(t, Deliver(ctx, rec, record(model.SyncMemberAdd, user("bob", model.RoleGroupMember))))
	err := Deliver(ctx, rec, record(model.SyncMemberRemove, user("bob", model.RoleNone)))
	require.EqualError(t, err, "remote down")

	assert.Equal(t, model.SyncStatusSuccess, status.codes["MEMBER_ADD"])
	assert.Equal(t, model.SyncStatusFailed, status.codes["MEMBER_REMOVE"])
	assert.Equal(t, "remote down", status.messages["MEMBER_REMOVE"])
}
