package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
)

// DeprovisionUser removes a user from every group it belongs to and hands
// the groups it owns to an alternative owner, who joins them as
// GROUP_MANAGER.
//
// The alternative owner is optional; a name that resolves to nobody counts
// as absent. Owning any group without an alternative owner fails with
// DEPROVISION_INVALID. Privilege checks are skipped.
//
// Backlog records are written explicitly: MEMBER_ADD for the new owner on
// each transferred group and MEMBER_REMOVE wherever the removal took
// effect.
func (e *Engine) DeprovisionUser(ctx context.Context, userName, alternativeOwner string) (*BatchResult, error) {
	actor, ok := session.Actor(ctx)
	if !ok {
		return nil, newError(ErrCodePrivilegeDenied, "", "no acting user")
	}
	b := e.batches.Next()
	slog.Info("deprovisioning user", "batch", b, "user", userName, "alternative_owner", alternativeOwner)

	var result *BatchResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		dp, err := tx.UserByName(ctx, userName)
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrCodeUserNotFound, "", "user %q not found", userName)
		}
		if err != nil {
			return err
		}

		alt, err := alternativeOwnerFor(ctx, tx, dp, alternativeOwner)
		if err != nil {
			return err
		}

		memberOf, err := tx.ParentGroups(ctx, dp.ID)
		if err != nil {
			return err
		}
		owned, err := tx.GroupsOwnedBy(ctx, dp.ID)
		if err != nil {
			return err
		}
		ownedSet := make(map[string]bool, len(owned))
		for _, gid := range owned {
			ownedSet[gid] = true
		}
		groups := unionSorted(memberOf, owned)

		batch := make(Batch, len(groups))
		for _, gid := range groups {
			if ownedSet[gid] {
				if alt == nil {
					return newError(ErrCodeDeprovisionInvalid, gid, "group %s is owned by %s and no alternative owner was found", gid, dp.Name)
				}
				if err := tx.SetGroupOwner(ctx, gid, alt.ID); err != nil {
					return err
				}
				batch[gid] = append(batch[gid], model.AddMember(alt.ID, model.RoleGroupManager))
			}
			batch[gid] = append(batch[gid], model.RemoveMember(dp.ID))
		}

		r := e.newRun(tx, actor, Options{Sync: true}, b)
		r.trusted = true
		r.emitBacklog = false
		if _, err := r.execute(ctx, batch); err != nil {
			return err
		}
		result = r.result
		if !e.cfg.SyncEnabled {
			return nil
		}

		var records []model.SyncBacklogRecord
		for _, gid := range groups {
			g := r.groups[gid]
			if ownedSet[gid] {
				records = append(records, e.newRecord(actor.ID, g, model.SyncMemberAdd,
					model.NewRoleSet(model.RoleGroupManager, alt.Member())))
			}
			if r.changes[gid].removed.Has(dp.ID) {
				records = append(records, e.newRecord(actor.ID, g, model.SyncMemberRemove,
					model.NewRoleSet(model.RoleNone, dp.Member())))
			}
		}
		if err := e.persistRecords(ctx, tx, records, r.groups); err != nil {
			return err
		}
		result.Records = records
		e.scheduleReplay(tx, b, records)
		return nil
	})
	if err != nil {
		slog.Warn("deprovisioning aborted", "batch", b, "user", userName, "error", err)
		return nil, err
	}

	slog.Info("user deprovisioned", "batch", b, "user", userName, "groups", len(result.Groups), "records", len(result.Records))
	return result, nil
}

func alternativeOwnerFor(ctx context.Context, tx *store.Tx, dp model.User, name string) (*model.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	u, err := tx.UserByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("alternative owner not found", "name", name)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.ID == dp.ID {
		return nil, newError(ErrCodeDeprovisionInvalid, "", "alternative owner cannot be the deprovisioned user %s", dp.Name)
	}
	if !u.Enabled {
		return nil, &MembershipError{Code: ErrCodeMemberDisabled, Message: fmt.Sprintf("alternative owner %s is disabled", u.Name), MemberID: u.ID}
	}
	return &u, nil
}

func unionSorted(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}
