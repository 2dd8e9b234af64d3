package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/worker"
)

// emitBacklogRecords writes the batch's sync intents in replay order:
// CREATE, MEMBER_ADD, MEMBER_MODIFY, MEMBER_REMOVE. MEMBER_ADD records
// require SyncGroupMembers and skip the group whose CREATE already carries
// its members.
func (r *run) emitBacklogRecords(ctx context.Context) error {
	r.logDocsSync()

	var records []model.SyncBacklogRecord
	created := ""

	if r.opts.SyncGroupCreate {
		gid := r.order[0]
		if gc := r.changes[gid]; !gc.rejected {
			members, err := r.tx.DirectMembers(ctx, gid)
			if err != nil {
				return err
			}
			records = append(records, r.e.newRecord(r.actor.ID, r.groups[gid], model.SyncCreate, members))
			created = gid
		}
	}

	if r.opts.SyncGroupMembers {
		for _, gid := range r.order {
			if res := r.result.Groups[gid]; gid != created && len(res.Added) > 0 {
				records = append(records, r.e.newRecord(r.actor.ID, r.groups[gid], model.SyncMemberAdd, res.Added))
			}
		}
	}
	for _, gid := range r.order {
		if res := r.result.Groups[gid]; len(res.Modified) > 0 {
			records = append(records, r.e.newRecord(r.actor.ID, r.groups[gid], model.SyncMemberModify, res.Modified))
		}
	}
	for _, gid := range r.order {
		if res := r.result.Groups[gid]; len(res.Removed) > 0 {
			removed := make(model.RoleSet, len(res.Removed))
			for _, a := range res.Removed {
				removed.Put(a.Member, model.RoleNone)
			}
			records = append(records, r.e.newRecord(r.actor.ID, r.groups[gid], model.SyncMemberRemove, removed))
		}
	}

	if err := r.e.persistRecords(ctx, r.tx, records, r.groups); err != nil {
		return err
	}
	r.result.Records = records
	r.e.scheduleReplay(r.tx, r.batchNo, records)
	return nil
}

func (r *run) logDocsSync() {
	var adds, mods, removes strings.Builder
	for _, gid := range r.order {
		res := r.result.Groups[gid]
		if len(res.Added) > 0 {
			fmt.Fprintf(&adds, "%s:%d,", gid, len(res.Added))
		}
		if len(res.Modified) > 0 {
			fmt.Fprintf(&mods, "%s:%d,", gid, len(res.Modified))
		}
		if len(res.Removed) > 0 {
			fmt.Fprintf(&removes, "%s:%d,", gid, len(res.Removed))
		}
	}
	slog.Info("initiating docs sync",
		"batch", r.batchNo,
		"create", r.opts.SyncGroupCreate,
		"sync_members", r.opts.SyncGroupMembers,
		"adds", strings.TrimSuffix(adds.String(), ","),
		"modifies", strings.TrimSuffix(mods.String(), ","),
		"removes", strings.TrimSuffix(removes.String(), ","),
	)
}

// newRecord builds an INIT record. The store assigns Seq on insert.
func (e *Engine) newRecord(actorID string, g model.Group, op model.SyncOperation, members model.RoleSet) model.SyncBacklogRecord {
	return model.SyncBacklogRecord{
		ID:              e.ids.NewID(),
		ActorID:         actorID,
		GroupID:         g.ID,
		ExternalGroupID: docsync.ExternalGroupID(g.GroupID),
		Operation:       op,
		Members:         members.Sorted(),
		GroupType:       g.Type,
		GroupName:       g.Name,
		StatusCode:      model.SyncStatusInit,
		CreatedAt:       e.now(),
	}
}

// persistRecords inserts records in order and fires BacklogObjectCreated
// for each.
func (e *Engine) persistRecords(ctx context.Context, tx *store.Tx, records []model.SyncBacklogRecord, groups map[string]model.Group) error {
	for i := range records {
		if err := tx.InsertBacklogRecord(ctx, &records[i]); err != nil {
			return err
		}
		rec := records[i]
		e.bus.Fire(ctx, events.Event{
			Type:   events.BacklogObjectCreated,
			Group:  groups[rec.GroupID],
			Record: &rec,
		})
	}
	return nil
}

// scheduleReplay hands the records to the worker once the transaction has
// committed.
func (e *Engine) scheduleReplay(tx *store.Tx, batchNo int64, records []model.SyncBacklogRecord) {
	if len(records) == 0 {
		return
	}
	tx.OnCommit(func(ctx context.Context) {
		job := worker.Job{
			Name: fmt.Sprintf("batch %d: docs sync", batchNo),
			Run: func(ctx context.Context) error {
				return e.replay(ctx, batchNo, records)
			},
		}
		if err := e.worker.Submit(job); err != nil {
			slog.Error("failed to schedule docs sync", "batch", batchNo, "records", len(records), "error", err)
		}
	})
}

// replay delivers records in order. A failed delivery is logged and the
// remaining records are still attempted.
func (e *Engine) replay(ctx context.Context, batchNo int64, records []model.SyncBacklogRecord) error {
	client := e.statusClient()
	var errs []error
	for _, rec := range records {
		if err := docsync.Deliver(ctx, client, rec); err != nil {
			slog.Warn("docs sync delivery failed",
				"batch", batchNo,
				"record_id", rec.ID,
				"operation", rec.Operation,
				"group_id", rec.GroupID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
		}
	}
	return errors.Join(errs...)
}
