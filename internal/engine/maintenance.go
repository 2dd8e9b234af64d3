package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
)

// ResetIndexingCounters zeroes the indexing-thread counters of every
// conversation scoped by the group or by a group containing it. It returns
// the reset conversation IDs. An unknown group is a no-op.
func (e *Engine) ResetIndexingCounters(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := e.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Group(ctx, groupID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				slog.Debug("reset indexing counters: group not found", "group_id", groupID)
				return nil
			}
			return err
		}

		ancestors, err := tx.Ancestors(ctx, groupID)
		if err != nil {
			return err
		}
		convs, err := tx.GroupConversations(ctx, append([]string{groupID}, ancestors...))
		if err != nil {
			return err
		}
		ids = conversationIDs(convs)
		return tx.ResetIndexingThreads(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("reset indexing counters", "group_id", groupID, "conversations", len(ids))
	return ids, nil
}

// ReconcileResult names the remote members a reconciliation changed.
type ReconcileResult struct {
	Added   []string
	Removed []string
}

// ReconcileGroup forces the document system's copy of a group to match its
// local direct membership. Missing members are pushed with a MEMBER_ADD
// delivery that is not recorded in the backlog; remote members unknown
// locally are removed by name. The configured client must implement
// docsync.MemberLister.
func (e *Engine) ReconcileGroup(ctx context.Context, groupID string) (*ReconcileResult, error) {
	lister, ok := e.docs.(docsync.MemberLister)
	if !ok {
		return nil, fmt.Errorf("docs sync client %T cannot list remote members", e.docs)
	}

	g, err := e.store.Group(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrCodeGroupNotFound, groupID, "group %s not found", groupID)
	}
	if err != nil {
		return nil, err
	}
	local, err := e.store.DirectMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	external := docsync.ExternalGroupID(g.GroupID)
	remote, err := lister.ViewGroupMembers(ctx, external)
	if err != nil {
		return nil, fmt.Errorf("list remote members of %s: %w", groupID, err)
	}
	remoteNames := make(map[string]bool, len(remote))
	for _, m := range remote {
		remoteNames[m.Name] = true
	}

	res := &ReconcileResult{}
	localNames := make(map[string]bool, len(local))
	missing := make(model.RoleSet)
	for _, a := range local.Sorted() {
		name := docsync.RemoteName(a.Member)
		localNames[name] = true
		if !remoteNames[name] {
			missing[a.Member.ID] = a
			res.Added = append(res.Added, name)
		}
	}
	for _, m := range remote {
		if !localNames[m.Name] {
			res.Removed = append(res.Removed, m.Name)
		}
	}
	sort.Strings(res.Removed)

	if len(missing) > 0 {
		actorID := ""
		if actor, ok := session.Actor(ctx); ok {
			actorID = actor.ID
		}
		rec := e.newRecord(actorID, g, model.SyncMemberAdd, missing)
		if err := e.docs.GroupMembershipAdded(ctx, rec); err != nil {
			return nil, fmt.Errorf("push missing members of %s: %w", groupID, err)
		}
	}
	if len(res.Removed) > 0 {
		if err := lister.RemoveGroupMembersByName(ctx, external, res.Removed); err != nil {
			return nil, fmt.Errorf("remove unknown members of %s: %w", groupID, err)
		}
	}

	slog.Info("reconciled group with docs system",
		"group_id", groupID,
		"added", len(res.Added),
		"removed", len(res.Removed),
	)
	return res, nil
}

// CanViewGroup reports whether the acting user may see the group.
func (e *Engine) CanViewGroup(ctx context.Context, groupID string) (bool, error) {
	actor, ok := session.Actor(ctx)
	if !ok {
		return false, nil
	}
	g, err := e.store.Group(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return false, newError(ErrCodeGroupNotFound, groupID, "group %s not found", groupID)
	}
	if err != nil {
		return false, err
	}
	return e.checker.CanViewGroup(ctx, e.store, actor, g)
}

// CheckGetGroup is CanViewGroup as an error: PRIVILEGE_DENIED when the
// acting user may not see the group.
func (e *Engine) CheckGetGroup(ctx context.Context, groupID string) error {
	ok, err := e.CanViewGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !ok {
		actorID := ""
		if actor, found := session.Actor(ctx); found {
			actorID = actor.ID
		}
		return &MembershipError{Code: ErrCodePrivilegeDenied, Message: fmt.Sprintf("%s may not view group %s", actorID, groupID), GroupID: groupID}
	}
	return nil
}
