package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/config"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/testutil"
	"github.com/roach88/memberprop/internal/worker"
)

func TestNew_Defaults(t *testing.T) {
	s := testutil.OpenStore(t)
	e := New(s)

	assert.Same(t, s, e.Store())
	assert.NotNil(t, e.Bus())
	assert.NotNil(t, e.Worker())
	assert.Equal(t, config.Default(), e.cfg)
	assert.Equal(t, Options{SyncGroupMembers: true}, e.DefaultOptions())
}

func TestNew_OptionsOverrideDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.SyncGroupMembers = false
	w := worker.New(1)

	e := New(testutil.OpenStore(t), WithConfig(cfg), WithWorker(w))
	assert.Same(t, w, e.Worker())
	assert.Equal(t, Options{}, e.DefaultOptions())
}

func TestEngine_RunDrainsReplayAfterStop(t *testing.T) {
	f := newFixture(t)
	f.users("u1")
	f.groups("g1")

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	_, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)
	f.engine.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	recs := f.backlog(store.BacklogFilter{GroupID: "g1"})
	require.Len(t, recs, 1)
	assert.Equal(t, model.SyncStatusSuccess, recs[0].StatusCode)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := New(testutil.OpenStore(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
