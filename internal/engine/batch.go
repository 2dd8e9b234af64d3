package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
)

// Batch maps a group ID to the change requests for that group.
type Batch map[string][]model.ChangeRequest

// Options are the per-call flags of ChangeMembers.
type Options struct {
	// Sync marks a call from the directory sync process. It skips the
	// disabled-member check.
	Sync bool `yaml:"sync" json:"sync"`
	// SyncGroupCreate marks a batch that creates its single group; the
	// CREATE backlog record carries the full initial membership.
	SyncGroupCreate bool `yaml:"sync_group_create" json:"sync_group_create"`
	// SyncGroupMembers emits MEMBER_ADD backlog records.
	SyncGroupMembers bool `yaml:"sync_group_members" json:"sync_group_members"`
	// SkipOnException logs and skips a failing change request instead of
	// aborting the batch.
	SkipOnException bool `yaml:"skip_on_exception" json:"skip_on_exception"`
}

// RequestFailure is a change request skipped under SkipOnException.
type RequestFailure struct {
	Request model.ChangeRequest
	Err     error
}

// GroupResult is the outcome of one group's change requests.
type GroupResult struct {
	GroupID string
	// Added holds members that became direct members.
	Added model.RoleSet
	// Modified holds direct members whose role changed.
	Modified model.RoleSet
	// Removed holds members that stopped being direct members, with the
	// role they held before the batch.
	Removed         model.RoleSet
	AccessibleUsers int
	// Rejected is set when the group's changes were reverted because they
	// would have created a cycle.
	Rejected bool
	Failures []RequestFailure
}

// BatchResult is the outcome of a ChangeMembers call.
type BatchResult struct {
	Batch  int64
	Groups map[string]*GroupResult
	// Affected lists the changed groups and their ancestors.
	Affected []string
	// Inline and Background list the conversations reindexed in the
	// transaction and after commit, respectively.
	Inline     []string
	Background []string
	Records    []model.SyncBacklogRecord
}

// ChangeMembers applies a batch of membership changes in one transaction.
//
// The acting user comes from session.Actor(ctx). A batch-aborting error
// rolls everything back and is returned alone. Cycle rejections do not
// abort the batch: the offending groups are reverted, the rest commits, and
// the joined CYCLE_DETECTED errors are returned together with the result.
func (e *Engine) ChangeMembers(ctx context.Context, batch Batch, opts Options) (*BatchResult, error) {
	if opts.SyncGroupCreate && len(batch) != 1 {
		return nil, newError(ErrCodeInvalidBatchShape, "", "group-create sync requires exactly one group, got %d", len(batch))
	}
	actor, ok := session.Actor(ctx)
	if !ok {
		return nil, newError(ErrCodePrivilegeDenied, "", "no acting user")
	}

	start := time.Now()
	b := e.batches.Next()
	slog.Info("starting member changes",
		"batch", b,
		"groups", len(batch),
		"actor", actor.ID,
		"sync", opts.Sync,
		"sync_group_create", opts.SyncGroupCreate,
		"sync_group_members", opts.SyncGroupMembers,
		"skip_on_exception", opts.SkipOnException,
	)

	var result *BatchResult
	var cycleErr error
	err := e.store.InTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		r := e.newRun(tx, actor, opts, b)
		var err error
		cycleErr, err = r.execute(ctx, batch)
		result = r.result
		return err
	})
	if err != nil {
		slog.Warn("member changes aborted", "batch", b, "error", err)
		return nil, err
	}

	slog.Info("member changes committed",
		"batch", b,
		"records", len(result.Records),
		"inline_conversations", len(result.Inline),
		"background_conversations", len(result.Background),
		"duration", time.Since(start),
	)
	return result, cycleErr
}

// AddMembers adds members by ID with the given roles to one group.
func (e *Engine) AddMembers(ctx context.Context, groupID string, roles map[string]model.Role) (*BatchResult, error) {
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	reqs := make([]model.ChangeRequest, 0, len(ids))
	for _, id := range ids {
		reqs = append(reqs, model.AddMember(id, roles[id]))
	}
	return e.ChangeMembers(ctx, Batch{groupID: reqs}, e.DefaultOptions())
}

// RemoveMembers removes members by ID from one group.
func (e *Engine) RemoveMembers(ctx context.Context, groupID string, memberIDs ...string) (*BatchResult, error) {
	reqs := make([]model.ChangeRequest, 0, len(memberIDs))
	for _, id := range memberIDs {
		reqs = append(reqs, model.RemoveMember(id))
	}
	return e.ChangeMembers(ctx, Batch{groupID: reqs}, e.DefaultOptions())
}

// DefaultOptions returns the flags for an interactive change.
func (e *Engine) DefaultOptions() Options {
	return Options{SyncGroupMembers: e.cfg.SyncGroupMembers}
}

// run is the state of one batch inside its transaction.
type run struct {
	e       *Engine
	tx      *store.Tx
	actor   model.User
	opts    Options
	batchNo int64
	now     time.Time

	// trusted runs skip privilege checks.
	trusted bool
	// emitBacklog is cleared by callers that write their own records.
	emitBacklog bool

	changes         map[string]*groupChange
	order           []string
	affected        []string
	groups          map[string]model.Group
	initialExploded map[string]model.RoleSet
	conversations   []model.Conversation
	initialRoles    map[string]map[string]model.Role
	pending         *events.Pending
	result          *BatchResult

	// directChanged is set when an accepted group's direct membership
	// differs from its pre-batch state.
	directChanged bool
}

func (e *Engine) newRun(tx *store.Tx, actor model.User, opts Options, batchNo int64) *run {
	return &run{
		e:               e,
		tx:              tx,
		actor:           actor,
		opts:            opts,
		batchNo:         batchNo,
		now:             e.now(),
		emitBacklog:     true,
		changes:         make(map[string]*groupChange),
		groups:          make(map[string]model.Group),
		initialExploded: make(map[string]model.RoleSet),
		initialRoles:    make(map[string]map[string]model.Role),
		pending:         events.NewPending(),
		result:          &BatchResult{Batch: batchNo, Groups: make(map[string]*GroupResult)},
	}
}

// execute runs every phase in dependency order: snapshot, mutate, cycle
// check, direct deltas, closure, conversation reindex, backlog.
func (r *run) execute(ctx context.Context, batch Batch) (cycleErr error, err error) {
	if err := r.snapshot(ctx, batch); err != nil {
		return nil, err
	}

	for _, gid := range r.order {
		if err := r.mutateGroup(ctx, r.changes[gid], batch[gid]); err != nil {
			return nil, err
		}
	}
	slog.Debug("processed member changes", "batch", r.batchNo, "groups", len(r.order))

	cycleErr, err = r.rejectCycles(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.writeActivity(ctx); err != nil {
		return nil, err
	}
	if err := r.queueDirectDeltas(ctx); err != nil {
		return nil, err
	}
	slog.Debug("queued direct member deltas", "batch", r.batchNo, "pending_events", r.pending.Len(), "changed", r.directChanged)
	if err := r.updateClosure(ctx); err != nil {
		return nil, err
	}
	slog.Debug("processed exploded membership", "batch", r.batchNo, "affected_groups", len(r.affected))

	if err := r.scheduleReindex(ctx); err != nil {
		return nil, err
	}

	r.classify()
	if r.emitBacklog && r.e.cfg.SyncEnabled {
		if err := r.emitBacklogRecords(ctx); err != nil {
			return nil, err
		}
	}
	return cycleErr, nil
}

// snapshot loads the changed groups and captures pre-batch state: exploded
// membership of every affected group, the conversations reachable from them
// and those conversations' calculated roles.
func (r *run) snapshot(ctx context.Context, batch Batch) error {
	affected := make(map[string]bool)
	for gid := range batch {
		r.order = append(r.order, gid)
	}
	sort.Strings(r.order)

	for _, gid := range r.order {
		g, err := r.tx.Group(ctx, gid)
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrCodeGroupNotFound, gid, "group %s not found", gid)
		}
		if err != nil {
			return err
		}
		initial, err := r.tx.DirectMembers(ctx, gid)
		if err != nil {
			return err
		}
		r.changes[gid] = newGroupChange(g, initial)
		r.groups[gid] = g

		ancestors, err := r.tx.Ancestors(ctx, gid)
		if err != nil {
			return err
		}
		affected[gid] = true
		for _, a := range ancestors {
			affected[a] = true
		}
	}

	for gid := range affected {
		r.affected = append(r.affected, gid)
	}
	sort.Strings(r.affected)

	for _, gid := range r.affected {
		exploded, err := r.tx.ExplodedMembers(ctx, gid)
		if err != nil {
			return err
		}
		r.initialExploded[gid] = exploded
	}

	convs, err := r.tx.GroupConversations(ctx, r.affected)
	if err != nil {
		return err
	}
	r.conversations = convs
	for _, c := range convs {
		roles, err := r.tx.ConversationRoles(ctx, c.ID)
		if err != nil {
			return err
		}
		r.initialRoles[c.ID] = roles
	}

	r.result.Affected = r.affected
	slog.Debug("collected initial membership",
		"batch", r.batchNo,
		"affected_groups", len(r.affected),
		"conversations", len(convs),
	)
	return nil
}

// writeActivity persists the buffered activity of accepted groups.
func (r *run) writeActivity(ctx context.Context) error {
	for _, gid := range r.order {
		gc := r.changes[gid]
		if gc.rejected {
			continue
		}
		for _, entry := range gc.activity {
			if _, err := r.tx.AppendActivity(ctx, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

// queueDirectDeltas defers one GroupMembersChanged per changed group. The
// added side includes members whose role merely changed.
func (r *run) queueDirectDeltas(ctx context.Context) error {
	for _, gid := range r.order {
		gc := r.changes[gid]
		if gc.rejected {
			continue
		}
		final, err := r.tx.DirectMembers(ctx, gid)
		if err != nil {
			return err
		}

		added := final.Minus(gc.initial)
		for id := range gc.added {
			a, ok := final[id]
			if !ok {
				continue
			}
			if prev, was := gc.initial[id]; !was || prev.Role != a.Role {
				added[id] = a
			}
		}
		removed := gc.initial.Minus(final).Members()

		if len(added) > 0 || len(removed) > 0 {
			r.directChanged = true
			r.pending.Defer(gid, events.Event{
				Type:    events.GroupMembersChanged,
				Group:   gc.group,
				Added:   added,
				Removed: removed,
			})
		}
	}
	return nil
}

// classify splits each accepted group's net changes into added, modified
// and removed sets. A granted member counts as modified iff it was a
// direct member before the batch and its role differs from the initial one.
func (r *run) classify() {
	for _, gid := range r.order {
		gc := r.changes[gid]
		res := &GroupResult{
			GroupID:         gid,
			Added:           make(model.RoleSet),
			Modified:        make(model.RoleSet),
			Removed:         make(model.RoleSet),
			AccessibleUsers: r.groups[gid].AccessibleUsers,
			Rejected:        gc.rejected,
			Failures:        gc.failures,
		}
		r.result.Groups[gid] = res
		if gc.rejected {
			continue
		}
		for id, a := range gc.added {
			prev, wasDirect := gc.initial[id]
			switch {
			case !wasDirect:
				res.Added[id] = a
			case prev.Role != a.Role:
				res.Modified[id] = a
			}
		}
		for id, a := range gc.removed {
			res.Removed[id] = a
		}
	}
}
