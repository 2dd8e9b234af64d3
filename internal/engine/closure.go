package engine

import (
	"context"

	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
)

// updateClosure recomputes the exploded membership of every affected group.
//
// For each group, in ascending ID order:
//  1. the accessible-user count is stored
//  2. back-references follow the exploded delta and each user crossing the
//     boundary gets GroupAccessible or GroupInaccessible
//  3. the group's deferred GroupMembersChanged fires
//  4. GroupMembershipChanged fires when the user delta is non-empty,
//     followed by GroupOrphaned when nothing is left
//
// Events therefore never observe a stale count.
func (r *run) updateClosure(ctx context.Context) error {
	for _, gid := range r.affected {
		g, err := r.tx.Group(ctx, gid)
		if err != nil {
			return err
		}
		final, err := r.tx.ExplodedMembers(ctx, gid)
		if err != nil {
			return err
		}
		initial := r.initialExploded[gid]

		g.AccessibleUsers = len(final.Users())
		if err := r.tx.SetAccessibleUsers(ctx, gid, g.AccessibleUsers); err != nil {
			return err
		}
		r.groups[gid] = g

		addedUsers := make(model.RoleSet)
		for _, a := range final.Minus(initial).Sorted() {
			if err := r.tx.AddBackReference(ctx, a.Member.ID, gid); err != nil {
				return err
			}
			if a.Member.IsUser() {
				addedUsers[a.Member.ID] = a
				r.e.bus.Fire(ctx, events.Event{Type: events.GroupAccessible, Group: g, Member: a.Member})
			}
		}

		var removedUsers []model.Member
		for _, m := range initial.Minus(final).Members() {
			if err := r.tx.RemoveBackReference(ctx, m.ID, gid); err != nil {
				return err
			}
			if m.IsUser() {
				removedUsers = append(removedUsers, m)
				r.e.bus.Fire(ctx, events.Event{Type: events.GroupInaccessible, Group: g, Member: m})
			}
		}

		r.pending.FlushGroup(ctx, r.e.bus, g)

		if len(addedUsers) == 0 && len(removedUsers) == 0 {
			continue
		}
		r.e.bus.Fire(ctx, events.Event{
			Type:    events.GroupMembershipChanged,
			Group:   g,
			Added:   addedUsers,
			Removed: removedUsers,
		})
		if len(final) == 0 {
			r.e.bus.Fire(ctx, events.Event{Type: events.GroupOrphaned, Group: g})
		}
	}

	r.pending.FlushAll(ctx, r.e.bus)
	return nil
}
