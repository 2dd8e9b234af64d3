package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/worker"
)

// IndexStore is the store access a ConversationIndexer needs. *store.Tx
// implements it.
type IndexStore interface {
	ConversationMembers(ctx context.Context, conversationID string) (model.RoleSet, error)
	HierarchyMembers(ctx context.Context, hierarchyID string) (model.RoleSet, error)
	ExplodedMembers(ctx context.Context, groupID string) (model.RoleSet, error)
	ReplaceConversationRoles(ctx context.Context, conversationID string, roles map[string]model.Role) error
}

// ConversationIndexer recomputes and stores the calculated user roles of a
// conversation, returning them.
type ConversationIndexer interface {
	Reindex(ctx context.Context, s IndexStore, c model.Conversation) (model.RoleSet, error)
}

// DefaultIndexer derives user roles from the conversation's direct members
// and its hierarchy members. A group member passes its role to every user
// it explodes to; the strongest role wins.
type DefaultIndexer struct{}

// Reindex implements ConversationIndexer.
func (DefaultIndexer) Reindex(ctx context.Context, s IndexStore, c model.Conversation) (model.RoleSet, error) {
	sources, err := s.ConversationMembers(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if c.HierarchyID != "" {
		inherited, err := s.HierarchyMembers(ctx, c.HierarchyID)
		if err != nil {
			return nil, err
		}
		for _, a := range inherited.Sorted() {
			sources.Raise(a.Member, a.Role)
		}
	}

	roles := make(model.RoleSet)
	for _, a := range sources.Sorted() {
		role := conversationRole(a.Role)
		if a.Member.IsUser() {
			roles.Raise(a.Member, role)
			continue
		}
		exploded, err := s.ExplodedMembers(ctx, a.Member.ID)
		if err != nil {
			return nil, err
		}
		for _, u := range exploded.Users().Sorted() {
			roles.Raise(u.Member, role)
		}
	}

	flat := make(map[string]model.Role, len(roles))
	for id, a := range roles {
		flat[id] = a.Role
	}
	if err := s.ReplaceConversationRoles(ctx, c.ID, flat); err != nil {
		return nil, err
	}
	return roles, nil
}

func conversationRole(r model.Role) model.Role {
	switch {
	case r.IsNone():
		return model.RoleNone
	case r.IsManager():
		return model.RoleManager
	default:
		return model.RoleMember
	}
}

// hierarchySource answers whether a hierarchy has members of its own.
type hierarchySource interface {
	HierarchyHasDirectMembers(ctx context.Context, hierarchyID string) (bool, error)
}

// partitionConversations splits conversations into those reindexed inside
// the transaction and those deferred to the background.
//
// Conversations without a hierarchy are inline. For a hierarchy with direct
// members, its lowest-ID conversation is inline and the rest go to the
// background. A hierarchy without direct members goes entirely to the
// background.
func partitionConversations(ctx context.Context, hs hierarchySource, convs []model.Conversation) (inline, background []model.Conversation, err error) {
	byHierarchy := make(map[string][]model.Conversation)
	for _, c := range convs {
		if c.HierarchyID == "" {
			inline = append(inline, c)
			continue
		}
		byHierarchy[c.HierarchyID] = append(byHierarchy[c.HierarchyID], c)
	}

	hids := make([]string, 0, len(byHierarchy))
	for id := range byHierarchy {
		hids = append(hids, id)
	}
	sort.Strings(hids)

	for _, hid := range hids {
		group := byHierarchy[hid]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

		has, err := hs.HierarchyHasDirectMembers(ctx, hid)
		if err != nil {
			return nil, nil, err
		}
		if has {
			inline = append(inline, group[0])
			group = group[1:]
		}
		background = append(background, group...)
	}

	sortConversations(inline)
	sortConversations(background)
	return inline, background, nil
}

// sortConversations orders scoping conversations first, then by ID.
func sortConversations(cs []model.Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Scoping != cs[j].Scoping {
			return cs[i].Scoping
		}
		return cs[i].ID < cs[j].ID
	})
}

func conversationIDs(cs []model.Conversation) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

// scheduleReindex reindexes the inline partition now and registers a commit
// hook that hands the background partition to the worker. A batch that left
// every direct membership unchanged reindexes nothing.
func (r *run) scheduleReindex(ctx context.Context) error {
	if !r.directChanged {
		slog.Debug("no direct membership change, skipping reindex", "batch", r.batchNo, "conversations", len(r.conversations))
		return nil
	}
	inline, background, err := partitionConversations(ctx, r.tx, r.conversations)
	if err != nil {
		return err
	}
	r.result.Inline = conversationIDs(inline)
	r.result.Background = conversationIDs(background)

	slog.Info("conversations to index",
		"batch", r.batchNo,
		"inline", len(inline),
		"background", len(background),
	)

	if err := r.e.indexConversations(session.WithIndexing(ctx), r.tx, inline, r.initialRoles, false); err != nil {
		return err
	}

	if len(background) == 0 {
		return nil
	}
	ids := r.result.Background
	actor := r.actor
	initial := r.initialRoles
	batchNo := r.batchNo
	r.tx.OnCommit(func(ctx context.Context) {
		job := worker.Job{
			Name: fmt.Sprintf("batch %d: reindex %d conversations", batchNo, len(ids)),
			Run: func(ctx context.Context) error {
				return r.e.reindexInBackground(session.WithActor(ctx, actor), batchNo, ids, initial)
			},
		}
		if err := r.e.worker.Submit(job); err != nil {
			slog.Error("failed to schedule background reindex", "batch", batchNo, "conversations", len(ids), "error", err)
		}
	})
	return nil
}

// indexConversations reindexes each conversation and fires
// ConversationReindexed with the user delta against initial. Conversations
// whose calculated roles did not change fire nothing. Inline failures
// abort; background failures are logged and skipped.
func (e *Engine) indexConversations(ctx context.Context, s IndexStore, convs []model.Conversation, initial map[string]map[string]model.Role, continueOnError bool) error {
	for _, c := range convs {
		roles, err := e.indexer.Reindex(ctx, s, c)
		if err != nil {
			if !continueOnError {
				return fmt.Errorf("reindex conversation %s: %w", c.ID, err)
			}
			slog.Error("failed to reindex conversation", "conversation_id", c.ID, "error", err)
			continue
		}

		before := initial[c.ID]
		added := make(model.RoleSet)
		for id, a := range roles {
			if _, ok := before[id]; !ok {
				added[id] = a
			}
		}
		var removed []model.Member
		for id := range before {
			if !roles.Has(id) {
				removed = append(removed, model.Member{ID: id, Kind: model.MemberKindUser})
			}
		}
		removed = model.SortMembers(removed)

		if len(added) == 0 && len(removed) == 0 && !rolesChanged(before, roles) {
			slog.Debug("conversation roles unchanged", "conversation_id", c.ID)
			continue
		}

		conv := c
		e.bus.Fire(ctx, events.Event{
			Type:                events.ConversationReindexed,
			Conversation:        &conv,
			Added:               added,
			Removed:             removed,
			SendMail:            e.cfg.MailOnGroupAddedConversations && len(added) > 0,
			ConsolidateFollowup: e.cfg.ConsolidateFollowupClosedEmail,
		})
	}
	return nil
}

// rolesChanged reports whether any user kept in the conversation has a
// different role than before.
func rolesChanged(before map[string]model.Role, after model.RoleSet) bool {
	for id, a := range after {
		if prev, ok := before[id]; ok && prev != a.Role {
			return true
		}
	}
	return false
}

// reindexInBackground brackets the reindex with indexing-thread counter
// updates, each in its own transaction. The decrement runs even when the
// reindex fails.
func (e *Engine) reindexInBackground(ctx context.Context, batchNo int64, ids []string, initial map[string]map[string]model.Role) error {
	if err := e.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return tx.AdjustIndexingThreads(ctx, ids, 1)
	}); err != nil {
		return fmt.Errorf("increment indexing threads: %w", err)
	}
	defer func() {
		err := e.store.InTx(context.WithoutCancel(ctx), func(ctx context.Context, tx *store.Tx) error {
			return tx.AdjustIndexingThreads(ctx, ids, -1)
		})
		if err != nil {
			slog.Error("failed to decrement indexing threads", "batch", batchNo, "error", err)
		}
	}()

	slog.Info("background reindex starting", "batch", batchNo, "conversations", len(ids))
	return e.store.InTx(session.WithIndexing(ctx), func(ctx context.Context, tx *store.Tx) error {
		convs := make([]model.Conversation, 0, len(ids))
		for _, id := range ids {
			c, err := tx.Conversation(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				slog.Warn("conversation vanished before background reindex", "batch", batchNo, "conversation_id", id)
				continue
			}
			if err != nil {
				return err
			}
			convs = append(convs, c)
		}
		sortConversations(convs)
		return e.indexConversations(ctx, tx, convs, initial, true)
	})
}
