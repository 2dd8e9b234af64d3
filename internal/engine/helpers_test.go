package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/testutil"
)

// fixture is an engine over a fresh store with a recording bus and an
// in-memory document system. ctx carries an admin actor.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Store
	engine *Engine
	rec    *testutil.Recorder
	docs   *docsync.Memory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := testutil.OpenStore(t)
	rec := testutil.NewRecorder()
	docs := docsync.NewMemory()
	clock := testutil.NewDeterministicClock()

	base := []Option{
		WithBus(events.NewBus(rec)),
		WithDocSync(rec.Client(docs)),
		WithIDGenerator(model.NewSequenceGenerator("rec")),
		WithNow(clock.Now),
	}
	e := New(s, append(base, opts...)...)

	admin := model.User{ID: "admin", Name: "admin", Enabled: true, Admin: true}
	require.NoError(t, s.CreateUser(context.Background(), admin))

	return &fixture{
		t:      t,
		ctx:    session.WithActor(context.Background(), admin),
		store:  s,
		engine: e,
		rec:    rec,
		docs:   docs,
	}
}

func (f *fixture) users(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		require.NoError(f.t, f.store.CreateUser(f.ctx, model.User{ID: id, Name: id, Enabled: true}))
	}
}

func (f *fixture) groups(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		require.NoError(f.t, f.store.CreateGroup(f.ctx, model.Group{ID: id, GroupID: id, Name: id, Type: model.GroupTypePublicOpen, Enabled: true}))
	}
}

// seed applies a batch as admin, drains the worker and clears the trace.
func (f *fixture) seed(batch Batch) {
	f.t.Helper()
	_, err := f.engine.ChangeMembers(f.ctx, batch, f.engine.DefaultOptions())
	require.NoError(f.t, err)
	f.drain()
	f.rec.Reset()
}

func (f *fixture) drain() int {
	return f.engine.Worker().RunPending(f.ctx)
}

func (f *fixture) direct(groupID string) model.RoleSet {
	f.t.Helper()
	s, err := f.store.DirectMembers(f.ctx, groupID)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) exploded(groupID string) model.RoleSet {
	f.t.Helper()
	s, err := f.store.ExplodedMembers(f.ctx, groupID)
	require.NoError(f.t, err)
	return s
}

func (f *fixture) group(id string) model.Group {
	f.t.Helper()
	g, err := f.store.Group(f.ctx, id)
	require.NoError(f.t, err)
	return g
}

func (f *fixture) backlog(filter store.BacklogFilter) []model.SyncBacklogRecord {
	f.t.Helper()
	recs, err := f.store.BacklogRecords(f.ctx, filter)
	require.NoError(f.t, err)
	return recs
}

func (f *fixture) asUser(id string) context.Context {
	f.t.Helper()
	u, err := f.store.User(f.ctx, id)
	require.NoError(f.t, err)
	return session.WithActor(context.Background(), u)
}

func user(id string) model.Member {
	return model.Member{ID: id, Kind: model.MemberKindUser, Name: id, Enabled: true}
}

func grp(id string) model.Member {
	return model.Member{ID: id, Kind: model.MemberKindGroup, Name: id, Enabled: true}
}
