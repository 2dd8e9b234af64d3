package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
)

type collector struct {
	events []Event
}

func (c *collector) OnEvent(_ context.Context, ev Event) { c.events = append(c.events, ev) }

func (c *collector) types() []EventType {
	out := make([]EventType, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Type
	}
	return out
}

func TestBus_FiresInRegistrationOrder(t *testing.T) {
	var order []string
	bus := NewBus(ListenerFunc(func(context.Context, Event) { order = append(order, "a") }))
	bus.Register(ListenerFunc(func(context.Context, Event) { order = append(order, "b") }))

	bus.Fire(context.Background(), Event{Type: GroupOrphaned})

	assert.Equal(t, []string{"a", "b"}, order)
}

func TestPending_FlushPerGroup(t *testing.T) {
	c := &collector{}
	bus := NewBus(c)
	ctx := context.Background()

	p := NewPending()
	p.Defer("g2", Event{Type: GroupMembersChanged, Group: model.Group{ID: "g2"}})
	p.Defer("g1", Event{Type: GroupMembersChanged, Group: model.Group{ID: "g1"}})
	p.Defer("g1", Event{Type: GroupOrphaned, Group: model.Group{ID: "g1"}})
	require.Equal(t, 3, p.Len())

	assert.Empty(t, c.events, "deferred events do not fire early")

	assert.Equal(t, 2, p.Flush(ctx, bus, "g1"))
	assert.Equal(t, []EventType{GroupMembersChanged, GroupOrphaned}, c.types())

	assert.Equal(t, 0, p.Flush(ctx, bus, "g1"), "flush drops the events")
	assert.Equal(t, 1, p.FlushAll(ctx, bus))
	assert.Equal(t, 0, p.Len())
}

func TestPending_FlushAllOrdersByGroup(t *testing.T) {
	c := &collector{}
	bus := NewBus(c)

	p := NewPending()
	for _, id := range []string{"g3", "g1", "g2"} {
		p.Defer(id, Event{Type: GroupMembersChanged, Group: model.Group{ID: id}})
	}
	assert.Equal(t, 3, p.FlushAll(context.Background(), bus))

	require.Len(t, c.events, 3)
	assert.Equal(t, "g1", c.events[0].Group.ID)
	assert.Equal(t, "g2", c.events[1].Group.ID)
	assert.Equal(t, "g3", c.events[2].Group.ID)
}

func TestPending_FlushGroupStampsCurrentGroup(t *testing.T) {
	c := &collector{}
	bus := NewBus(c)
	p := NewPending()

	p.Defer("g1", Event{Type: GroupMembersChanged, Group: model.Group{ID: "g1", AccessibleUsers: 0}})
	n := p.FlushGroup(context.Background(), bus, model.Group{ID: "g1", AccessibleUsers: 3})

	require.Equal(t, 1, n)
	assert.Equal(t, 3, c.events[0].Group.AccessibleUsers)
	assert.Zero(t, p.Len())
}
