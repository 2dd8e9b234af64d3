package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/memberprop/internal/model"
)

// Containment answers transitive membership questions against the current
// (possibly uncommitted) graph. *store.Tx implements it.
type Containment interface {
	IsExplodedMember(ctx context.Context, groupID, memberID string) (bool, error)
}

// CycleDetector finds groups that would contain themselves.
//
// Cycles are checked after every group of a batch has been mutated, so the
// check sees the post-batch graph:
//
//	g1 ⊇ g2 (added in this batch)
//	g2 ⊇ g1 (added in this batch)
//	→ both g1 and g2 are offenders
//
// A group G offends when some group C added to it in this batch is G
// itself or already contains G transitively.
type CycleDetector struct {
	graph Containment
}

// NewCycleDetector creates a detector over graph.
func NewCycleDetector(graph Containment) *CycleDetector {
	return &CycleDetector{graph: graph}
}

// Candidates returns the names of the added groups that close a cycle
// through g, in the order given.
func (d *CycleDetector) Candidates(ctx context.Context, g model.Group, added []model.Member) ([]string, error) {
	var out []string
	for _, m := range added {
		if !m.IsGroup() {
			continue
		}
		if m.ID == g.ID {
			out = append(out, m.Name)
			continue
		}
		contains, err := d.graph.IsExplodedMember(ctx, m.ID, g.ID)
		if err != nil {
			return nil, err
		}
		if contains {
			out = append(out, m.Name)
		}
	}
	return out, nil
}

// rejectCycles reverts every offending group and repeats until no accepted
// group offends. All offenders of a round are found before any is
// reverted, so mutually cyclic groups fail together. It returns the joined
// CYCLE_DETECTED errors, or nil.
func (r *run) rejectCycles(ctx context.Context) (error, error) {
	detector := NewCycleDetector(r.tx)
	var cycleErrs []error

	for {
		var offenders []*groupChange
		var errs []*MembershipError
		for _, gid := range r.order {
			gc := r.changes[gid]
			if gc.rejected {
				continue
			}
			candidates, err := detector.Candidates(ctx, gc.group, gc.added.Members())
			if err != nil {
				return nil, err
			}
			if len(candidates) > 0 {
				offenders = append(offenders, gc)
				errs = append(errs, NewCycleError(gc.group, candidates))
			}
		}
		if len(offenders) == 0 {
			break
		}

		for i, gc := range offenders {
			if err := r.reject(ctx, gc, errs[i]); err != nil {
				return nil, err
			}
			cycleErrs = append(cycleErrs, errs[i])
		}
	}

	if len(cycleErrs) == 0 {
		return nil, nil
	}
	return joinErrors(cycleErrs), nil
}

func (r *run) reject(ctx context.Context, gc *groupChange, cause *MembershipError) error {
	slog.Warn("rejecting group changes: cycle detected",
		"batch", r.batchNo,
		"group_id", gc.group.ID,
		"candidates", cause.Candidates,
	)
	if err := r.revert(ctx, gc); err != nil {
		return err
	}
	gc.rejected = true

	_, err := r.tx.AppendActivity(ctx, model.ActivityEntry{
		Action:  model.ActivityMemberChangeFailed,
		GroupID: gc.group.ID,
		ActorID: r.actor.ID,
		Detail:  cause.Error(),
		At:      r.now,
	})
	return err
}
