package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/processor"
	"github.com/copilotz/copilotz/pkg/queue"
	"github.com/copilotz/copilotz/pkg/services"
)

// AckMode controls when Run returns relative to thread completion.
type AckMode string

const (
	// AckImmediate returns the handle as soon as the initial event is
	// enqueued. The default.
	AckImmediate AckMode = "immediate"
	// AckOnComplete blocks Run until the thread drains or fails.
	AckOnComplete AckMode = "onComplete"
)

// RunMessage is the inbound message of a run request.
type RunMessage struct {
	Content   models.Content     `json:"content"`
	Sender    models.Sender      `json:"sender"`
	Thread    *models.ThreadSpec `json:"thread,omitempty"`
	ToolCalls []models.ToolCall  `json:"toolCalls,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// RunOptions tunes one run.
type RunOptions struct {
	// Stream enables event delivery on the handle's Events channel,
	// including per-token TOKEN events.
	Stream bool `json:"stream,omitempty"`
	// QueueTTLMs is the time-to-live applied to every event this run
	// enqueues. Zero falls back to the configured default; events are
	// indefinite when both are zero.
	QueueTTLMs int64 `json:"queueTtl,omitempty"`
	// AckMode defaults to AckImmediate.
	AckMode AckMode `json:"ackMode,omitempty"`
	// OnEvent is the override hook (never serialized).
	OnEvent OverrideFunc `json:"-"`
}

// RunRequest is the public input of the engine.
type RunRequest struct {
	Message RunMessage `json:"message"`
	Options RunOptions `json:"options"`
}

// RunHandle is the caller's view of one run. Events is populated only
// for streaming runs; Done fires for every run.
type RunHandle struct {
	// QueueID is the id of the initial NEW_MESSAGE event.
	QueueID string `json:"queueId"`
	// ThreadID is the resolved thread.
	ThreadID string `json:"threadId"`
	// Status is always "queued" at creation time.
	Status string `json:"status"`

	streaming bool
	events    chan *models.Event
	done      chan struct{}
	cancel    context.CancelFunc

	mu  sync.Mutex
	err error

	finishOnce sync.Once
}

// Events returns the run's ordered event feed: terminal transitions
// plus TOKEN and ASSET_CREATED emissions. Closed when the run finishes.
// Non-streaming runs get an empty, already-drained feed.
func (h *RunHandle) Events() <-chan *models.Event {
	return h.events
}

// Done is closed when the worker drains the thread or fails. Check Err
// afterwards.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the run's failure, or nil. Valid after Done closes.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel requests cooperative cancellation. Already-persisted events
// and already-emitted tokens stand.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Wait blocks until the run finishes or ctx is cancelled.
func (h *RunHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return models.WrapRunError(models.KindCancelled, ctx.Err(), "wait cancelled")
	case <-h.done:
		return h.Err()
	}
}

// emit delivers one event to the handle's feed. Blocks when the buffer
// is full; events are never dropped.
func (h *RunHandle) emit(event *models.Event) {
	if !h.streaming {
		return
	}
	select {
	case h.events <- event:
	case <-h.done:
	}
}

func (h *RunHandle) finish(err error) {
	h.finishOnce.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		close(h.events)
	})
}

// Run validates the request, resolves the thread, enqueues the initial
// NEW_MESSAGE and starts a worker for the thread. The returned handle
// is live immediately; with AckOnComplete it is already finished.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunHandle, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, models.NewRunError(models.KindInvalidInput, "engine is closed")
	}
	e.runs.Add(1)
	e.mu.Unlock()

	handle, err := e.startRun(ctx, req)
	if err != nil {
		e.runs.Done()
		return nil, err
	}

	if req.Options.AckMode == AckOnComplete {
		if err := handle.Wait(ctx); err != nil {
			return handle, err
		}
	}
	return handle, nil
}

func (e *Engine) startRun(ctx context.Context, req RunRequest) (*RunHandle, error) {
	thread, err := e.resolveThread(ctx, &req)
	if err != nil {
		return nil, err
	}

	ttl := req.Options.QueueTTLMs
	if ttl == 0 {
		ttl = e.cfg.Queue.DefaultTTLMs
	}

	spec := models.EventSpec{
		Type: models.EventNewMessage,
		Payload: models.NewMessagePayload{
			Content:   req.Message.Content,
			Sender:    req.Message.Sender,
			ToolCalls: req.Message.ToolCalls,
			Metadata:  req.Message.Metadata,
		},
		TraceID: uuid.New().String(),
		TTLMs:   ttl,
	}

	event, err := e.ops.Add(ctx, thread.ID, spec)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to enqueue run event")
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &RunHandle{
		QueueID:   event.ID,
		ThreadID:  thread.ID,
		Status:    "queued",
		streaming: req.Options.Stream,
		events:    make(chan *models.Event, e.handleBuffer()),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	go e.drive(runCtx, cancel, thread.ID, handle, req.Options)
	return handle, nil
}

// drive runs the worker loop for one thread and finishes the handle.
func (e *Engine) drive(ctx context.Context, cancel context.CancelFunc, threadID string, handle *RunHandle, opts RunOptions) {
	defer e.runs.Done()
	defer cancel()

	emit := e.emitterFor(handle)
	worker := queue.NewWorker(e.ops, e.dispatcherFor(emit, opts.OnEvent), e.terminalFor(handle))
	err := worker.RunThread(ctx, threadID)
	handle.finish(err)
}

// emitterFor routes stream-only events (TOKEN, ASSET_CREATED) to the
// handle and the broadcaster.
func (e *Engine) emitterFor(handle *RunHandle) processor.EmitFunc {
	if e.broadcast == nil && (handle == nil || !handle.streaming) {
		return nil
	}
	return func(event *models.Event) {
		if e.broadcast != nil {
			e.broadcast.Publish(event)
		}
		if handle != nil {
			handle.emit(event)
		}
	}
}

// terminalFor routes terminal transitions to the handle and the
// broadcaster, in thread order.
func (e *Engine) terminalFor(handle *RunHandle) queue.TerminalFunc {
	return func(event *models.Event) {
		if e.broadcast != nil {
			e.broadcast.Publish(event)
		}
		if handle != nil {
			handle.emit(event)
		}
	}
}

func (e *Engine) handleBuffer() int {
	if e.cfg.Queue.HandleBuffer > 0 {
		return e.cfg.Queue.HandleBuffer
	}
	return 64
}

// resolveThread finds the run's thread by id or external id, creating
// it from the spec when no match exists.
func (e *Engine) resolveThread(ctx context.Context, req *RunRequest) (*models.Thread, error) {
	spec := models.ThreadSpec{}
	if req.Message.Thread != nil {
		spec = *req.Message.Thread
	}

	if spec.ID != "" {
		thread, err := e.threads.GetThread(ctx, spec.ID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, services.ErrNotFound) {
			return nil, models.WrapRunError(models.KindStorageError, err, "failed to look up thread")
		}
	}
	if spec.ExternalID != "" {
		thread, err := e.threads.GetThreadByExternalID(ctx, spec.ExternalID)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, services.ErrNotFound) {
			return nil, models.WrapRunError(models.KindStorageError, err, "failed to look up thread")
		}
	}

	spec.Participants = e.defaultParticipants(spec.Participants, req.Message.Sender)
	thread, err := e.threads.CreateThread(ctx, spec)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to create thread")
	}
	e.logger.Info("Thread created", "thread_id", thread.ID, "participants", thread.Participants)
	return thread, nil
}

// defaultParticipants fills an empty participant list for a user-sent
// message: the sender plus every configured agent.
func (e *Engine) defaultParticipants(participants []string, sender models.Sender) []string {
	if len(participants) > 0 || sender.Type != models.SenderUser {
		return participants
	}
	names := e.agents.Names()
	result := make([]string, 0, len(names)+1)
	senderName := sender.DisplayName()
	if senderName != "" {
		result = append(result, senderName)
	}
	for _, name := range names {
		if !slices.Contains(result, name) {
			result = append(result, name)
		}
	}
	return result
}

func validateRequest(req *RunRequest) error {
	if !models.ValidSenderType(req.Message.Sender.Type) {
		return models.NewRunError(models.KindInvalidInput,
			"unknown sender type %q", req.Message.Sender.Type)
	}
	if req.Message.Sender.DisplayName() == "" {
		return models.NewRunError(models.KindInvalidInput, "sender needs a name or id")
	}
	if req.Message.Content.IsEmpty() && len(req.Message.ToolCalls) == 0 {
		return models.NewRunError(models.KindInvalidInput, "message needs content or toolCalls")
	}
	for i, call := range req.Message.ToolCalls {
		if call.Function.Name == "" {
			return models.NewRunError(models.KindInvalidInput, "toolCalls[%d] is missing a function name", i)
		}
	}
	switch req.Options.AckMode {
	case "", AckImmediate, AckOnComplete:
	default:
		return models.NewRunError(models.KindInvalidInput, "unknown ackMode %q", req.Options.AckMode)
	}
	return nil
}
