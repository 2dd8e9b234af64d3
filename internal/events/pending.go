package events

import (
	"context"
	"sort"

	"github.com/roach88/memberprop/internal/model"
)

// Pending holds notifications that must not fire until a later phase of the
// batch has run. Events are accumulated per group during mutation and
// flushed once the group's accessible-user count is current.
//
// Pending is not safe for concurrent use; one batch owns one Pending.
type Pending struct {
	byGroup map[string][]Event
}

// NewPending creates an empty queue.
func NewPending() *Pending {
	return &Pending{byGroup: make(map[string][]Event)}
}

// Defer queues ev for groupID.
func (p *Pending) Defer(groupID string, ev Event) {
	p.byGroup[groupID] = append(p.byGroup[groupID], ev)
}

// Len returns the number of queued events across all groups.
func (p *Pending) Len() int {
	n := 0
	for _, evs := range p.byGroup {
		n += len(evs)
	}
	return n
}

// Flush fires and drops the events queued for groupID, in queue order.
func (p *Pending) Flush(ctx context.Context, bus *Bus, groupID string) int {
	evs := p.byGroup[groupID]
	delete(p.byGroup, groupID)
	for _, ev := range evs {
		bus.Fire(ctx, ev)
	}
	return len(evs)
}

// FlushGroup is Flush with each event's Group replaced by g, so listeners
// see the group as it is after recomputation.
func (p *Pending) FlushGroup(ctx context.Context, bus *Bus, g model.Group) int {
	evs := p.byGroup[g.ID]
	for i := range evs {
		evs[i].Group = g
	}
	return p.Flush(ctx, bus, g.ID)
}

// FlushAll fires every remaining event, groups in ascending ID order.
func (p *Pending) FlushAll(ctx context.Context, bus *Bus) int {
	ids := make([]string, 0, len(p.byGroup))
	for id := range p.byGroup {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := 0
	for _, id := range ids {
		n += p.Flush(ctx, bus, id)
	}
	return n
}
