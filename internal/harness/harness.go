package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/memberprop/internal/config"
	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/engine"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/session"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/testutil"
)

// AdminID is the scenario administrator. It is created for every scenario
// and acts for setup and for steps without an explicit actor.
const AdminID = "admin"

// Harness is the scenario execution engine.
// It runs scenarios against a real engine with a deterministic clock and
// sequential IDs, so identical scenarios produce identical traces.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	rec    *testutil.Recorder
	admin  model.User
	logger *slog.Logger
}

// Option configures a Harness run.
type Option func(*runOptions)

type runOptions struct {
	cfg    config.Config
	logger *slog.Logger
}

// WithConfig runs the scenario under cfg instead of config.Default().
func WithConfig(cfg config.Config) Option {
	return func(o *runOptions) { o.cfg = cfg }
}

// WithLogger sets the harness logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and engine
// 2. Seed users, groups, hierarchies and conversations
// 3. Apply setup memberships as admin, drain the worker, clear the trace
// 4. Apply each step and drain the worker
// 5. Evaluate assertions against the trace and final state
//
// A returned error means the scenario could not be executed at all; step
// and assertion failures are reported on the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	ro := runOptions{
		cfg:    config.Default(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	for _, opt := range opts {
		opt(&ro)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewDeterministicClock()
	rec := testutil.NewRecorder()
	eng := engine.New(st,
		engine.WithConfig(ro.cfg),
		engine.WithBus(events.NewBus(rec)),
		engine.WithDocSync(rec.Client(docsync.NewMemory())),
		engine.WithIDGenerator(model.NewSequenceGenerator("rec")),
		engine.WithNow(clock.Now),
	)

	h := &Harness{
		store:  st,
		engine: eng,
		rec:    rec,
		admin:  model.User{ID: AdminID, Name: AdminID, Enabled: true, Admin: true},
		logger: ro.logger,
	}

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}
	result.Trace = rec.Lines()

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSetup seeds the directory and applies setup memberships.
func (h *Harness) executeSetup(ctx context.Context, setup Setup) error {
	if err := h.store.CreateUser(ctx, h.admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	if err := Seed(ctx, h.engine, h.admin, setup); err != nil {
		return err
	}
	n := h.engine.Worker().RunPending(ctx)
	h.logger.Debug("setup complete", "background_jobs", n, "trace_lines", len(h.rec.Lines()))
	h.rec.Reset()
	return nil
}

// executeStep applies one step and compares its outcome with ExpectError.
// Mismatches are recorded on the result; only infrastructure failures are
// returned.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	actor := h.admin
	if step.Actor != "" && step.Actor != AdminID {
		u, err := h.store.User(ctx, step.Actor)
		if err != nil {
			return fmt.Errorf("actor %s: %w", step.Actor, err)
		}
		actor = u
	}
	actx := session.WithActor(ctx, actor)

	var (
		res *engine.BatchResult
		err error
	)
	if step.Deprovision != nil {
		res, err = h.engine.DeprovisionUser(actx, step.Deprovision.User, step.Deprovision.AlternativeOwner)
	} else {
		opts := h.engine.DefaultOptions()
		if step.Options != nil {
			opts = *step.Options
		}
		res, err = h.engine.ChangeMembers(actx, engine.Batch(step.Changes), opts)
	}
	jobs := h.engine.Worker().RunPending(ctx)

	sr := StepResult{Name: step.Name}
	if err != nil {
		sr.Error = err.Error()
	}
	result.Steps = append(result.Steps, sr)
	if res != nil {
		result.Records = append(result.Records, res.Records...)
	}
	h.logger.Info("step applied", "step", i, "name", step.Name, "actor", actor.ID, "background_jobs", jobs, "error", sr.Error)

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", i, step.Name, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", i, step.Name, step.ExpectError))
	case step.ExpectError != "" && !engine.IsCode(err, engine.ErrorCode(step.ExpectError)):
		result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got: %v", i, step.Name, step.ExpectError, err))
	}
	return nil
}
