package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/memberprop/internal/model"
)

// groupChange tracks one group's mutations within a batch.
type groupChange struct {
	group   model.Group
	initial model.RoleSet

	// added holds members granted an effective role in this batch, with
	// the role granted last.
	added model.RoleSet
	// removed holds members removed in this batch that were direct members
	// before it, with their pre-batch role.
	removed model.RoleSet

	activity []model.ActivityEntry
	undo     []undoStep
	failures []RequestFailure
	rejected bool
}

// undoStep restores one edge. A nil prev means the edge did not exist.
type undoStep struct {
	memberID string
	prev     *model.MembershipEdge
}

func newGroupChange(g model.Group, initial model.RoleSet) *groupChange {
	return &groupChange{
		group:   g,
		initial: initial,
		added:   make(model.RoleSet),
		removed: make(model.RoleSet),
	}
}

func (gc *groupChange) recordAdd(m model.Member, role model.Role) {
	delete(gc.removed, m.ID)
	gc.added.Put(m, role)
}

func (gc *groupChange) recordRemove(m model.Member) {
	delete(gc.added, m.ID)
	if prev, ok := gc.initial[m.ID]; ok {
		gc.removed.Put(m, prev.Role)
	}
}

// mutateGroup applies one group's requests in order. Without
// SkipOnException the first failure aborts the batch.
func (r *run) mutateGroup(ctx context.Context, gc *groupChange, reqs []model.ChangeRequest) error {
	for _, req := range reqs {
		err := r.apply(ctx, gc, req)
		if err == nil {
			continue
		}
		if !r.opts.SkipOnException {
			slog.Warn("member change failed",
				"batch", r.batchNo,
				"group_id", gc.group.ID,
				"request", req.String(),
				"error", err,
			)
			return err
		}
		if err := r.recordFailure(ctx, gc, req, err); err != nil {
			return err
		}
	}
	return nil
}

// recordFailure logs a skipped request and writes its CHANGE_FAILED entry
// straight away; the entry survives even if the group is later rejected.
func (r *run) recordFailure(ctx context.Context, gc *groupChange, req model.ChangeRequest, cause error) error {
	slog.Warn("skipping failed member change",
		"batch", r.batchNo,
		"group_id", gc.group.ID,
		"request", req.String(),
		"error", cause,
	)
	gc.failures = append(gc.failures, RequestFailure{Request: req, Err: cause})

	_, err := r.tx.AppendActivity(ctx, model.ActivityEntry{
		GroupID:  gc.group.ID,
		ActorID:  r.actor.ID,
		Action:   model.ActivityMemberChangeFailed,
		MemberID: req.MemberID,
		Detail:   fmt.Sprintf("%s: %v", req.String(), cause),
		Stack:    minifiedStack(1),
		At:       r.now,
	})
	return err
}

func (r *run) apply(ctx context.Context, gc *groupChange, req model.ChangeRequest) error {
	if req.Delete {
		return r.applyRemove(ctx, gc, req)
	}
	return r.applyAdd(ctx, gc, req)
}

func (r *run) applyAdd(ctx context.Context, gc *groupChange, req model.ChangeRequest) error {
	role := req.Role
	if role == "" {
		role = model.RoleGroupMember
	}

	assignments, err := r.resolveForAdd(ctx, gc.group, req, role)
	if err != nil {
		return err
	}

	for _, a := range assignments {
		m := a.Member
		if !r.opts.Sync && !m.Enabled {
			return &MembershipError{Code: ErrCodeMemberDisabled, Message: fmt.Sprintf("%s is disabled", m.Label()), GroupID: gc.group.ID, MemberID: m.ID}
		}
		if m.IsGroup() {
			nested, err := r.tx.Group(ctx, m.ID)
			if err != nil {
				return err
			}
			if err := r.e.initialSync.EnsureSynced(ctx, nested); err != nil {
				return fmt.Errorf("initial sync of group %s: %w", nested.ID, err)
			}
		}
		if !r.trusted {
			if err := r.e.checker.CheckAddMember(ctx, r.tx, r.actor, gc.group, m, a.Role); err != nil {
				return privilegeError(gc.group.ID, m.ID, err)
			}
		}

		effective, prev, err := r.tx.AddMember(ctx, gc.group.ID, m, a.Role, r.actor.ID, r.now)
		if err != nil {
			return err
		}
		if effective.IsNone() {
			continue
		}

		gc.undo = append(gc.undo, undoStep{memberID: m.ID, prev: prev})
		gc.activity = append(gc.activity, model.ActivityEntry{
			GroupID:  gc.group.ID,
			ActorID:  r.actor.ID,
			Action:   model.ActivityMemberAdded,
			MemberID: m.ID,
			Detail:   string(effective),
			At:       r.now,
		})
		gc.recordAdd(m, effective)
	}
	return nil
}

func (r *run) applyRemove(ctx context.Context, gc *groupChange, req model.ChangeRequest) error {
	m, err := r.resolveForRemove(ctx, gc.group, req)
	if err != nil {
		return err
	}
	if !r.trusted {
		if err := r.e.checker.CheckRemoveMember(ctx, r.tx, r.actor, gc.group, m); err != nil {
			return privilegeError(gc.group.ID, m.ID, err)
		}
	}

	edge, err := r.tx.RemoveMember(ctx, gc.group.ID, m.ID)
	if err != nil {
		return err
	}
	if edge == nil {
		return nil
	}

	gc.undo = append(gc.undo, undoStep{memberID: m.ID, prev: edge})
	gc.activity = append(gc.activity, model.ActivityEntry{
		GroupID:  gc.group.ID,
		ActorID:  r.actor.ID,
		Action:   model.ActivityMemberRemoved,
		MemberID: m.ID,
		Detail:   string(edge.Role),
		At:       r.now,
	})
	gc.recordRemove(edge.Member)
	return nil
}

// revert undoes the group's applied steps in reverse order.
func (r *run) revert(ctx context.Context, gc *groupChange) error {
	for i := len(gc.undo) - 1; i >= 0; i-- {
		step := gc.undo[i]
		var err error
		if step.prev != nil {
			err = r.tx.PutEdge(ctx, *step.prev)
		} else {
			err = r.tx.DeleteEdge(ctx, gc.group.ID, step.memberID)
		}
		if err != nil {
			return fmt.Errorf("revert %s in group %s: %w", step.memberID, gc.group.ID, err)
		}
	}
	gc.undo = nil
	gc.activity = nil
	gc.added = make(model.RoleSet)
	gc.removed = make(model.RoleSet)
	return nil
}
