package docsync

import (
	"context"
	"log/slog"

	"github.com/roach88/memberprop/internal/model"
)

// StatusStore persists delivery outcomes. *store.Store implements it.
type StatusStore interface {
	UpdateBacklogStatus(ctx context.Context, id, code, message string) error
}

// StatusRecorder wraps a Client and records SUCCESS or FAILED on each
// backlog record after the delivery attempt. The delivery error is
// returned unchanged.
type StatusRecorder struct {
	Next   Client
	Status StatusStore
}

var _ Client = (*StatusRecorder)(nil)

// GroupCreated implements Client.
func (s *StatusRecorder) GroupCreated(ctx context.Context, r model.SyncBacklogRecord) error {
	return s.record(ctx, r, s.Next.GroupCreated(ctx, r))
}

// GroupMembershipAdded implements Client.
func (s *StatusRecorder) GroupMembershipAdded(ctx context.Context, r model.SyncBacklogRecord) error {
	return s.record(ctx, r, s.Next.GroupMembershipAdded(ctx, r))
}

// GroupMembershipModified implements Client.
func (s *StatusRecorder) GroupMembershipModified(ctx context.Context, r model.SyncBacklogRecord) error {
	return s.record(ctx, r, s.Next.GroupMembershipModified(ctx, r))
}

// GroupMembershipRemoved implements Client.
func (s *StatusRecorder) GroupMembershipRemoved(ctx context.Context, r model.SyncBacklogRecord) error {
	return s.record(ctx, r, s.Next.GroupMembershipRemoved(ctx, r))
}

func (s *StatusRecorder) record(ctx context.Context, r model.SyncBacklogRecord, deliveryErr error) error {
	code, msg := model.SyncStatusSuccess, ""
	if deliveryErr != nil {
		code, msg = model.SyncStatusFailed, deliveryErr.Error()
	}
	if err := s.Status.UpdateBacklogStatus(ctx, r.ID, code, msg); err != nil {
		slog.Error("failed to record backlog status",
			"record_id", r.ID,
			"status", code,
			"error", err,
		)
	}
	return deliveryErr
}
