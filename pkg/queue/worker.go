package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

// DispatchFunc handles one claimed event and returns the events to
// enqueue after it. The engine supplies a dispatcher that applies the
// override hook and the per-type processors.
type DispatchFunc func(ctx context.Context, event *models.Event) ([]models.ProducedEvent, error)

// TerminalFunc observes events as they transition into completed or
// failed, in thread order. Used to feed run handles.
type TerminalFunc func(event *models.Event)

// ErrSuperseded is returned by a dispatcher that already transitioned the
// event itself (the override hook replaced or dropped it). The worker
// records no terminal status of its own and moves to the next event.
var ErrSuperseded = errors.New("event superseded")

// Worker drives single threads to quiescence. Distinct threads may be
// driven by distinct workers in parallel; one thread is always strictly
// serial because only one event per thread is ever claimed at a time.
type Worker struct {
	ops        *Ops
	dispatch   DispatchFunc
	onTerminal TerminalFunc
	logger     *slog.Logger
}

// NewWorker creates a worker. onTerminal may be nil.
func NewWorker(ops *Ops, dispatch DispatchFunc, onTerminal TerminalFunc) *Worker {
	return &Worker{
		ops:        ops,
		dispatch:   dispatch,
		onTerminal: onTerminal,
		logger:     slog.With("component", "worker"),
	}
}

// RunThread processes the thread's pending events in queue order until
// none remain, then returns. Returns immediately when another consumer
// already holds an event in processing. A processor error fails the
// current event and stops the loop; cancellation stops the loop before
// the next dequeue.
func (w *Worker) RunThread(ctx context.Context, threadID string) error {
	log := w.logger.With("thread_id", threadID)

	inFlight, err := w.ops.GetProcessing(ctx, threadID)
	if err != nil {
		return models.WrapRunError(models.KindStorageError, err, "failed to check in-flight event")
	}
	if inFlight != nil {
		log.Debug("Thread already has an in-flight event, yielding", "event_id", inFlight.ID)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return models.WrapRunError(models.KindCancelled, err, "run cancelled")
		}

		event, err := w.ops.NextPending(ctx, threadID)
		if err != nil {
			return models.WrapRunError(models.KindStorageError, err, "failed to dequeue next event")
		}
		if event == nil {
			return nil
		}

		if err := w.ops.Claim(ctx, event.ID); err != nil {
			if errors.Is(err, services.ErrStaleStatus) {
				// Someone else transitioned the row. If a competing
				// worker now owns the thread, yield; otherwise retry.
				inFlight, checkErr := w.ops.GetProcessing(ctx, threadID)
				if checkErr != nil {
					return models.WrapRunError(models.KindStorageError, checkErr, "failed to check in-flight event")
				}
				if inFlight != nil {
					return nil
				}
				continue
			}
			return models.WrapRunError(models.KindStorageError, err, "failed to claim event")
		}
		event.Status = models.StatusProcessing
		log.Debug("Event claimed", "event_id", event.ID, "event_type", event.Type)

		produced, dispatchErr := w.dispatch(ctx, event)
		if errors.Is(dispatchErr, ErrSuperseded) {
			event.Status = models.StatusOverwritten
			event.UpdatedAt = time.Now().UTC()
			if w.onTerminal != nil {
				w.onTerminal(event)
			}
			log.Debug("Event superseded by override", "event_id", event.ID, "event_type", event.Type)
			continue
		}
		if dispatchErr != nil {
			w.finish(event, models.StatusFailed)
			log.Warn("Event failed", "event_id", event.ID, "event_type", event.Type, "error", dispatchErr)
			return dispatchErr
		}

		for _, p := range produced {
			targetThread := p.ThreadID
			if targetThread == "" {
				targetThread = threadID
			}
			if _, err := w.ops.Add(ctx, targetThread, p.Spec); err != nil {
				w.finish(event, models.StatusFailed)
				return models.WrapRunError(models.KindStorageError, err, "failed to enqueue produced event")
			}
		}

		w.finish(event, models.StatusCompleted)
		log.Debug("Event completed", "event_id", event.ID, "event_type", event.Type, "produced", len(produced))
	}
}

// finish persists the terminal status and notifies the observer. Runs on
// a background context so a cancelled run still records the outcome.
func (w *Worker) finish(event *models.Event, status models.EventStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.ops.UpdateStatus(ctx, event.ID, status); err != nil {
		w.logger.Error("Failed to persist terminal event status",
			"event_id", event.ID, "status", status, "error", err)
	}
	event.Status = status
	event.UpdatedAt = time.Now().UTC()
	if w.onTerminal != nil {
		w.onTerminal(event)
	}
}
