// Package processor implements the per-event-type handlers the worker
// dispatches to: NEW_MESSAGE persists a message and decides the next
// turn, LLM_CALL streams one provider request, TOOL_CALL executes one
// tool. Custom event types register alongside the built-ins.
package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/queue"
	"github.com/copilotz/copilotz/pkg/services"
	"github.com/copilotz/copilotz/pkg/tools"
)

// EmitFunc delivers a stream-only event (TOKEN, ASSET_CREATED) to the
// run handle. Never enqueued.
type EmitFunc func(event *models.Event)

// Deps carries everything a processor may need for one event. The
// dispatcher builds it per event with Thread resolved.
type Deps struct {
	Ops      *queue.Ops
	DB       *database.Client
	Threads  *services.ThreadService
	Messages *services.MessageService
	Assets   *assets.Resolver
	Agents   *config.AgentRegistry
	Tools    *tools.Registry
	LLM      *llm.Registry
	Builder  *llm.Builder
	Runtime  tools.Runtime

	// Thread is the event's thread, looked up by the dispatcher.
	Thread *models.Thread

	// Emit publishes stream-only events on the run handle; nil when no
	// handle is attached (background threads).
	Emit EmitFunc
}

// emit delivers a stream-only event when a handle is attached.
func (d *Deps) emit(threadID string, eventType models.EventType, payload any) {
	if d.Emit == nil {
		return
	}
	now := time.Now().UTC()
	event := &models.Event{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      eventType,
		Status:    models.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if payload != nil {
		if data, err := encodePayload(payload); err == nil {
			event.Payload = data
		}
	}
	d.Emit(event)
}

// EmitToken publishes one TOKEN event.
func (d *Deps) EmitToken(threadID, agentName, token string, complete bool) {
	d.emit(threadID, models.EventToken, models.TokenPayload{
		ThreadID:   threadID,
		AgentName:  agentName,
		Token:      token,
		IsComplete: complete,
	})
}

// EmitAssetCreated publishes one ASSET_CREATED event per stored asset.
func (d *Deps) EmitAssetCreated(threadID, by, tool, toolCallID string, created []assets.CreatedAsset) {
	for _, c := range created {
		d.emit(threadID, models.EventAssetCreated, models.AssetCreatedPayload{
			AssetID:    c.Asset.ID,
			Ref:        c.Ref,
			Mime:       c.Asset.MimeType,
			By:         by,
			Tool:       tool,
			ToolCallID: toolCallID,
		})
	}
}

func encodePayload(payload any) (json.RawMessage, error) {
	return json.Marshal(payload)
}

// Processor handles one event type.
type Processor interface {
	// Type is the event type this processor consumes.
	Type() models.EventType

	// ShouldProcess gates Process; returning false completes the event
	// as a no-op.
	ShouldProcess(ctx context.Context, event *models.Event, deps *Deps) bool

	// Process handles the event and returns the events to enqueue after
	// it completes.
	Process(ctx context.Context, event *models.Event, deps *Deps) ([]models.ProducedEvent, error)
}

// Registry maps event types to processors. Custom types may be
// registered by callers before the engine starts.
type Registry struct {
	processors map[models.EventType]Processor
}

// NewRegistry returns a registry with the built-in processors.
func NewRegistry() *Registry {
	r := &Registry{processors: make(map[models.EventType]Processor)}
	r.Register(&NewMessageProcessor{})
	r.Register(&LLMCallProcessor{})
	r.Register(&ToolCallProcessor{})
	return r
}

// Register adds or replaces the processor for its event type.
func (r *Registry) Register(p Processor) {
	r.processors[p.Type()] = p
}

// Get returns the processor for an event type.
func (r *Registry) Get(eventType models.EventType) (Processor, bool) {
	p, ok := r.processors[eventType]
	return p, ok
}
