package engine

import (
	"context"
	"log/slog"

	"github.com/copilotz/copilotz/pkg/models"
)

// Override is an onEvent hook's decision about one queue event. At most
// one field may be set; precedence when several are is Drop, then
// Produced, then Event.
type Override struct {
	// Produced replaces the event: it is marked overwritten and these
	// are enqueued in its place. The default processor never runs.
	Produced []models.ProducedEvent

	// Drop marks the event overwritten with nothing enqueued.
	Drop bool

	// Event substitutes the default processor's input. The original
	// queue row still completes normally.
	Event *models.Event
}

// OverrideFunc observes each non-stream event before its default
// processor runs. Returning nil (or an error) leaves the default path
// untouched; hook errors and panics are swallowed.
type OverrideFunc func(ctx context.Context, event *models.Event) (*Override, error)

// applyHook invokes the hook defensively: a copy of the event goes in,
// errors and panics come back as nil decisions.
func applyHook(ctx context.Context, hook OverrideFunc, event *models.Event, logger *slog.Logger) (override *Override) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Override hook panicked, running default path",
				"event_id", event.ID, "event_type", event.Type, "panic", r)
			override = nil
		}
	}()

	eventCopy := *event
	decision, err := hook(ctx, &eventCopy)
	if err != nil {
		logger.Warn("Override hook failed, running default path",
			"event_id", event.ID, "event_type", event.Type, "error", err)
		return nil
	}
	return decision
}
