// Package engine wires the durable queue, the per-thread worker and the
// event processors into the public Run surface. One Engine serves many
// concurrent runs; distinct threads advance in parallel while a single
// thread is always strictly serial.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/events"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/processor"
	"github.com/copilotz/copilotz/pkg/queue"
	"github.com/copilotz/copilotz/pkg/services"
	"github.com/copilotz/copilotz/pkg/tools"
)

// Options carries the collaborators an Engine is built from. Config and
// DB are required; nil optional fields get working defaults.
type Options struct {
	Config *config.Config
	DB     *database.Client

	// Agents is the read-only agent catalog. Nil builds one from
	// Config.Agents.
	Agents *config.AgentRegistry

	// Tools is the tool registry. Nil means an empty registry.
	Tools *tools.Registry

	// LLM maps provider enums to constructed clients. Nil means no
	// providers; every LLM_CALL then fails with ProviderError.
	LLM *llm.Registry

	// Assets resolves asset:// refs. Nil disables asset storage;
	// binary parts stay inline.
	Assets *assets.Resolver

	// Processors handles event types. Nil registers the built-ins.
	Processors *processor.Registry

	// Broadcaster receives every emitted and terminal event for
	// WebSocket fan-out. Nil disables fan-out.
	Broadcaster *events.Broadcaster
}

// Engine is the conversation runtime. Construct with New, start the
// background sweeper with Start, release with Close.
//
// Engine implements tools.Runtime so thread-management tools can call
// back into it.
type Engine struct {
	cfg        *config.Config
	db         *database.Client
	ops        *queue.Ops
	threads    *services.ThreadService
	messages   *services.MessageService
	assets     *assets.Resolver
	agents     *config.AgentRegistry
	tools      *tools.Registry
	llms       *llm.Registry
	builder    *llm.Builder
	processors *processor.Registry
	broadcast  *events.Broadcaster
	sweeper    *queue.Sweeper
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	runs   sync.WaitGroup
}

var _ tools.Runtime = (*Engine)(nil)

// New builds an engine from the options. The sweeper is created but not
// started.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("engine: database client is required")
	}

	agents := opts.Agents
	if agents == nil {
		agents = config.NewAgentRegistry(opts.Config.Agents)
	}
	toolReg := opts.Tools
	if toolReg == nil {
		toolReg = tools.NewRegistry()
	}
	llms := opts.LLM
	if llms == nil {
		llms = llm.NewRegistry()
	}
	resolver := opts.Assets
	if resolver == nil {
		resolver = assets.NewResolver(nil)
	}
	processors := opts.Processors
	if processors == nil {
		processors = processor.NewRegistry()
	}

	threads := services.NewThreadService(opts.DB)
	messages := services.NewMessageService(opts.DB)
	ops := queue.NewOps(opts.DB)

	qcfg := opts.Config.Queue
	builder := llm.NewBuilder(threads, messages, resolver, qcfg.HistoryLimit, qcfg.HistoryDepth)

	sweeper := queue.NewSweeper(ops, queue.SweeperConfig{
		Interval:       qcfg.SweepInterval,
		IntervalJitter: qcfg.SweepJitter,
		Batch:          qcfg.SweepBatch,
	})

	return &Engine{
		cfg:        opts.Config,
		db:         opts.DB,
		ops:        ops,
		threads:    threads,
		messages:   messages,
		assets:     resolver,
		agents:     agents,
		tools:      toolReg,
		llms:       llms,
		builder:    builder,
		processors: processors,
		broadcast:  opts.Broadcaster,
		sweeper:    sweeper,
		logger:     slog.With("component", "engine"),
	}, nil
}

// Start launches the background expiry sweeper.
func (e *Engine) Start() {
	e.sweeper.Start()
}

// Close stops accepting runs, waits for in-flight runs to drain and
// stops the sweeper. The database handle is the caller's to close.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.runs.Wait()
	e.sweeper.Stop()
	e.logger.Info("Engine closed")
}

// Ops exposes the queue operations, mainly for the HTTP API's event
// listing endpoints.
func (e *Engine) Ops() *queue.Ops {
	return e.ops
}

// Threads exposes the thread service.
func (e *Engine) Threads() *services.ThreadService {
	return e.threads
}

// Messages exposes the message service.
func (e *Engine) Messages() *services.MessageService {
	return e.messages
}

// depsFor assembles the per-event processor dependencies with the
// event's thread resolved.
func (e *Engine) depsFor(ctx context.Context, threadID string, emit processor.EmitFunc) (*processor.Deps, error) {
	thread, err := e.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to load event thread")
	}
	return &processor.Deps{
		Ops:      e.ops,
		DB:       e.db,
		Threads:  e.threads,
		Messages: e.messages,
		Assets:   e.assets,
		Agents:   e.agents,
		Tools:    e.tools,
		LLM:      e.llms,
		Builder:  e.builder,
		Runtime:  e,
		Thread:   thread,
		Emit:     emit,
	}, nil
}

// dispatcherFor builds the worker dispatch function for one run: the
// override hook first, then the registered processor.
func (e *Engine) dispatcherFor(emit processor.EmitFunc, hook OverrideFunc) queue.DispatchFunc {
	return func(ctx context.Context, event *models.Event) ([]models.ProducedEvent, error) {
		if hook != nil {
			override := applyHook(ctx, hook, event, e.logger)
			switch {
			case override == nil:
				// Default path.
			case override.Drop:
				if err := e.ops.MarkOverwritten(ctx, event.ID); err != nil {
					return nil, models.WrapRunError(models.KindStorageError, err, "failed to mark event overwritten")
				}
				return nil, queue.ErrSuperseded
			case len(override.Produced) > 0:
				if err := e.ops.MarkOverwritten(ctx, event.ID); err != nil {
					return nil, models.WrapRunError(models.KindStorageError, err, "failed to mark event overwritten")
				}
				for _, p := range override.Produced {
					targetThread := p.ThreadID
					if targetThread == "" {
						targetThread = event.ThreadID
					}
					if _, err := e.ops.Add(ctx, targetThread, p.Spec); err != nil {
						return nil, models.WrapRunError(models.KindStorageError, err, "failed to enqueue replacement event")
					}
				}
				return nil, queue.ErrSuperseded
			case override.Event != nil:
				event = override.Event
			}
		}

		deps, err := e.depsFor(ctx, event.ThreadID, emit)
		if err != nil {
			return nil, err
		}

		proc, ok := e.processors.Get(event.Type)
		if !ok {
			e.logger.Warn("No processor for event type, completing as no-op",
				"event_id", event.ID, "event_type", event.Type)
			return nil, nil
		}
		if !proc.ShouldProcess(ctx, event, deps) {
			return nil, nil
		}
		return proc.Process(ctx, event, deps)
	}
}
