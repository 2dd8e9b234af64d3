// Package docsync is the boundary to the external document-management
// system that mirrors group membership.
//
// The engine never talks to the remote system directly. It persists
// SyncBacklogRecords and, after commit, replays them through a Client.
// StatusRecorder moves each record to its terminal status.
package docsync

import (
	"context"
	"fmt"

	"github.com/roach88/memberprop/internal/model"
)

// Client delivers backlog records to the document system.
type Client interface {
	GroupCreated(ctx context.Context, r model.SyncBacklogRecord) error
	GroupMembershipAdded(ctx context.Context, r model.SyncBacklogRecord) error
	GroupMembershipModified(ctx context.Context, r model.SyncBacklogRecord) error
	GroupMembershipRemoved(ctx context.Context, r model.SyncBacklogRecord) error
}

// RemoteMember is one member as listed by the document system.
type RemoteMember struct {
	Name string
	Role string
}

// MemberLister is implemented by clients that can read remote membership.
type MemberLister interface {
	ViewGroupMembers(ctx context.Context, externalGroupID string) ([]RemoteMember, error)
	RemoveGroupMembersByName(ctx context.Context, externalGroupID string, names []string) error
}

// InitialSyncer makes sure a group has been through one external sync pass
// before it is nested in another group.
type InitialSyncer interface {
	EnsureSynced(ctx context.Context, g model.Group) error
}

// NopInitialSyncer treats every group as synced.
type NopInitialSyncer struct{}

// EnsureSynced implements InitialSyncer.
func (NopInitialSyncer) EnsureSynced(context.Context, model.Group) error { return nil }

// Deliver routes a record to the Client method for its operation.
func Deliver(ctx context.Context, c Client, r model.SyncBacklogRecord) error {
	switch r.Operation {
	case model.SyncCreate:
		return c.GroupCreated(ctx, r)
	case model.SyncMemberAdd:
		return c.GroupMembershipAdded(ctx, r)
	case model.SyncMemberModify:
		return c.GroupMembershipModified(ctx, r)
	case model.SyncMemberRemove:
		return c.GroupMembershipRemoved(ctx, r)
	default:
		return fmt.Errorf("unknown sync operation %q", r.Operation)
	}
}
