// Package queue implements the durable event queue: persistence and
// pending-order dequeue (with TTL expiry) plus the per-thread worker
// loop that drives threads to quiescence.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

// DefaultSweepBatch bounds how many expired rows one sweep marks, so a
// dequeue is never stalled behind an unbounded cleanup.
const DefaultSweepBatch = 50

// nextPendingBatch is how many pending candidates one dequeue round
// inspects before re-querying.
const nextPendingBatch = 5

// Ops exposes the queue operations over the shared database handle.
type Ops struct {
	client     *database.Client
	sweepBatch int
	logger     *slog.Logger
}

// NewOps creates queue operations with the default sweep bound.
func NewOps(client *database.Client) *Ops {
	return &Ops{
		client:     client,
		sweepBatch: DefaultSweepBatch,
		logger:     slog.With("component", "queue"),
	}
}

const eventColumns = `id, thread_id, event_type, payload, parent_event_id, trace_id, priority, ttl_ms, expires_at, status, metadata, created_at, updated_at`

// Add persists one event with status pending (unless the spec carries an
// explicit status). TTLMs derives ExpiresAt when no explicit deadline is
// set; an explicit ExpiresAt always wins. Each call also opportunistically
// sweeps a bounded batch of long-expired rows.
func (o *Ops) Add(ctx context.Context, threadID string, spec models.EventSpec) (*models.Event, error) {
	if threadID == "" {
		return nil, services.NewValidationError("threadId", "required")
	}
	if spec.Type == "" {
		return nil, services.NewValidationError("type", "required")
	}
	if !spec.Type.Enqueueable() {
		return nil, fmt.Errorf("%w: event type %s is stream-only and cannot be enqueued",
			services.ErrInvalidInput, spec.Type)
	}

	now := time.Now().UTC()
	status := spec.Status
	if status == "" {
		status = models.StatusPending
	}
	expiresAt := spec.ExpiresAt
	if expiresAt == nil && spec.TTLMs > 0 {
		t := now.Add(time.Duration(spec.TTLMs) * time.Millisecond)
		expiresAt = &t
	}

	payload, err := encodePayload(spec.Payload)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeMetadata(spec.Metadata)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		ID:            uuid.New().String(),
		ThreadID:      threadID,
		Type:          spec.Type,
		Payload:       payload,
		ParentEventID: spec.ParentEventID,
		TraceID:       spec.TraceID,
		Priority:      spec.Priority,
		TTLMs:         spec.TTLMs,
		ExpiresAt:     expiresAt,
		Status:        status,
		Metadata:      spec.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}
	var payloadCol any
	if len(payload) > 0 {
		payloadCol = string(payload)
	}

	_, err = o.client.DB().ExecContext(ctx, `
		INSERT INTO queue_events (id, thread_id, event_type, payload, parent_event_id, trace_id, priority, ttl_ms, expires_at, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		event.ID,
		event.ThreadID,
		string(event.Type),
		payloadCol,
		nullable(event.ParentEventID),
		nullable(event.TraceID),
		event.Priority,
		event.TTLMs,
		expires,
		string(event.Status),
		metadata,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}

	if swept, err := o.SweepExpired(ctx, o.sweepBatch); err != nil {
		o.logger.Warn("Opportunistic expiry sweep failed", "error", err)
	} else if swept > 0 {
		o.logger.Debug("Swept expired events", "count", swept)
	}
	return event, nil
}

// Get retrieves one event by id.
func (o *Ops) Get(ctx context.Context, eventID string) (*models.Event, error) {
	row := o.client.DB().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM queue_events WHERE id = $1`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, services.ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

// GetProcessing returns the thread's single in-flight event, or nil when
// the thread is idle.
func (o *Ops) GetProcessing(ctx context.Context, threadID string) (*models.Event, error) {
	row := o.client.DB().QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM queue_events WHERE thread_id = $1 AND status = $2 LIMIT 1`,
		threadID, string(models.StatusProcessing))
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// NextPending returns the highest-ranked live pending event for the
// thread: priority descending, then createdAt ascending, then id
// ascending. Candidates whose deadline has passed are marked expired and
// skipped. Returns nil when no live candidate remains.
func (o *Ops) NextPending(ctx context.Context, threadID string) (*models.Event, error) {
	for {
		rows, err := o.client.DB().QueryContext(ctx,
			`SELECT `+eventColumns+` FROM queue_events
			 WHERE thread_id = $1 AND status = $2
			 ORDER BY priority DESC, created_at ASC, id ASC
			 LIMIT $3`,
			threadID, string(models.StatusPending), nextPendingBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to query pending events: %w", err)
		}

		batch, err := collectEvents(rows)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, nil
		}

		now := time.Now().UTC()
		expired := 0
		for _, event := range batch {
			if event.Expired(now) {
				if err := o.markExpired(ctx, event.ID); err != nil {
					return nil, err
				}
				expired++
				continue
			}
			return event, nil
		}
		// Whole batch was expired; a shorter batch means the queue is
		// drained, otherwise re-query for fresh candidates.
		if expired < nextPendingBatch {
			return nil, nil
		}
	}
}

// Claim transitions an event from pending to processing. Returns
// services.ErrStaleStatus when another worker (or the sweeper) got to
// the row first.
func (o *Ops) Claim(ctx context.Context, eventID string) error {
	res, err := o.client.DB().ExecContext(ctx,
		`UPDATE queue_events SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(models.StatusProcessing), time.Now().UTC(), eventID, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to claim event: %w", err)
	}
	if affected == 0 {
		return services.ErrStaleStatus
	}
	return nil
}

// UpdateStatus transitions an event's status unconditionally. Legality
// of the transition is the worker's concern, not enforced here.
func (o *Ops) UpdateStatus(ctx context.Context, eventID string, status models.EventStatus) error {
	res, err := o.client.DB().ExecContext(ctx,
		`UPDATE queue_events SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if affected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// MarkOverwritten preempts a not-yet-terminal event on behalf of the
// override hook.
func (o *Ops) MarkOverwritten(ctx context.Context, eventID string) error {
	res, err := o.client.DB().ExecContext(ctx,
		`UPDATE queue_events SET status = $1, updated_at = $2
		 WHERE id = $3 AND status IN ($4, $5)`,
		string(models.StatusOverwritten), time.Now().UTC(), eventID,
		string(models.StatusPending), string(models.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to mark event overwritten: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark event overwritten: %w", err)
	}
	if affected == 0 {
		return services.ErrStaleStatus
	}
	return nil
}

// markExpired moves a pending event to expired, tolerating races where
// another worker already transitioned it.
func (o *Ops) markExpired(ctx context.Context, eventID string) error {
	_, err := o.client.DB().ExecContext(ctx,
		`UPDATE queue_events SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(models.StatusExpired), time.Now().UTC(), eventID, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to mark event expired: %w", err)
	}
	return nil
}

// SweepExpired marks up to limit long-expired pending events as expired
// and reports how many rows it touched.
func (o *Ops) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	now := time.Now().UTC()
	rows, err := o.client.DB().QueryContext(ctx,
		`SELECT id FROM queue_events
		 WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		 ORDER BY expires_at ASC
		 LIMIT $3`,
		string(models.StatusPending), now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired events: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("failed to read expired events: %w", err)
	}
	rows.Close()

	swept := 0
	for _, id := range ids {
		if err := o.markExpired(ctx, id); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// ListThreadEvents returns a thread's events newest first. A limit of 0
// returns all of them.
func (o *Ops) ListThreadEvents(ctx context.Context, threadID string, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM queue_events WHERE thread_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := o.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread events: %w", err)
	}
	return collectEvents(rows)
}

// CountPending reports how many pending events the thread has.
func (o *Ops) CountPending(ctx context.Context, threadID string) (int, error) {
	var count int
	err := o.client.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_events WHERE thread_id = $1 AND status = $2`,
		threadID, string(models.StatusPending)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return count, nil
}
