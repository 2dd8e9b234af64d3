package engine

import (
	"context"
	"time"

	"github.com/roach88/memberprop/internal/config"
	"github.com/roach88/memberprop/internal/docsync"
	"github.com/roach88/memberprop/internal/events"
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/policy"
	"github.com/roach88/memberprop/internal/store"
	"github.com/roach88/memberprop/internal/worker"
)

// Engine applies membership change batches and propagates them.
//
// Each ChangeMembers call runs inside one store transaction on the caller's
// goroutine. Background reindexing and external sync replay are registered
// as commit hooks that hand jobs to the Worker; nothing after the commit
// barrier can observe a rolled-back state.
//
// Thread-safety model:
//   - ChangeMembers and the other operations may be called concurrently;
//     the store serializes writers
//   - the Worker's Run loop must be started by the owner of the Engine (or
//     drained with RunPending)
type Engine struct {
	store       *store.Store
	bus         *events.Bus
	checker     policy.Checker
	docs        docsync.Client
	initialSync docsync.InitialSyncer
	worker      *worker.Worker
	indexer     ConversationIndexer
	ids         model.IDGenerator
	now         func() time.Time
	batches     *Clock
	cfg         config.Config
}

// Option allows configuration of engine collaborators.
type Option func(*Engine)

// WithBus sets the event bus. Default: an empty bus.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithChecker sets the privilege checker. Default: policy.Default.
func WithChecker(c policy.Checker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithDocSync sets the external document-system client. Default: an
// in-memory remote.
func WithDocSync(c docsync.Client) Option {
	return func(e *Engine) { e.docs = c }
}

// WithInitialSyncer sets the initial-sync collaborator for nested groups.
func WithInitialSyncer(s docsync.InitialSyncer) Option {
	return func(e *Engine) { e.initialSync = s }
}

// WithWorker sets the background worker. Default: a new worker sized by
// the config's queue size.
func WithWorker(w *worker.Worker) Option {
	return func(e *Engine) { e.worker = w }
}

// WithIndexer replaces the conversation indexer.
func WithIndexer(ix ConversationIndexer) Option {
	return func(e *Engine) { e.indexer = ix }
}

// WithIDGenerator sets the generator for shadow entities and backlog records.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithNow sets the wall clock used for edge and record timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConfig sets engine settings. Default: config.Default().
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// New creates an Engine over the given store.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		bus:         events.NewBus(),
		checker:     policy.Default{},
		docs:        docsync.NewMemory(),
		initialSync: docsync.NopInitialSyncer{},
		indexer:     DefaultIndexer{},
		ids:         model.UUIDv7Generator{},
		now:         time.Now,
		batches:     NewClock(),
		cfg:         config.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.worker == nil {
		e.worker = worker.New(e.cfg.WorkerQueueSize)
	}
	return e
}

// Store returns the engine's store.
func (e *Engine) Store() *store.Store { return e.store }

// Bus returns the engine's event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Worker returns the background worker.
func (e *Engine) Worker() *worker.Worker { return e.worker }

// Run starts the background worker loop. Blocks until ctx is cancelled or
// Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	return e.worker.Run(ctx)
}

// Stop shuts the background worker down once queued jobs finish.
func (e *Engine) Stop() {
	e.worker.Stop()
}

// statusClient wraps the document-system client so that every delivery
// records its outcome on the backlog record.
func (e *Engine) statusClient() docsync.Client {
	return &docsync.StatusRecorder{Next: e.docs, Status: e.store}
}
