// Package services provides thread and message persistence over the
// shared database handle.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/models"
)

// ThreadService manages conversation threads
type ThreadService struct {
	client *database.Client
}

// NewThreadService creates a new ThreadService
func NewThreadService(client *database.Client) *ThreadService {
	return &ThreadService{client: client}
}

const threadColumns = `id, external_id, name, description, participants, mode, status, summary, parent_id, metadata, created_at, updated_at`

// CreateThread creates a new thread from a spec. Missing mode defaults
// to immediate; new threads start active.
func (s *ThreadService) CreateThread(ctx context.Context, spec models.ThreadSpec) (*models.Thread, error) {
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	}
	mode := spec.Mode
	if mode == "" {
		mode = models.ThreadModeImmediate
	}

	now := time.Now().UTC()
	thread := &models.Thread{
		ID:           id,
		ExternalID:   spec.ExternalID,
		Name:         spec.Name,
		Description:  spec.Description,
		Participants: append([]string(nil), spec.Participants...),
		Mode:         mode,
		Status:       models.ThreadStatusActive,
		ParentID:     spec.ParentID,
		Metadata:     spec.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	participants, err := encodeJSON(thread.Participants)
	if err != nil {
		return nil, err
	}
	metadata, err := encodeJSON(thread.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.client.DB().ExecContext(ctx, `
		INSERT INTO threads (id, external_id, name, description, participants, mode, status, summary, parent_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		thread.ID,
		nullString(thread.ExternalID),
		thread.Name,
		thread.Description,
		participants,
		string(thread.Mode),
		string(thread.Status),
		thread.Summary,
		nullString(thread.ParentID),
		metadata,
		thread.CreatedAt,
		thread.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	return thread, nil
}

// GetThread retrieves a thread by id
func (s *ThreadService) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	if id == "" {
		return nil, NewValidationError("id", "required")
	}
	row := s.client.DB().QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = $1`, id)
	return scanThread(row)
}

// GetThreadByExternalID retrieves a thread by its externally-assigned id
func (s *ThreadService) GetThreadByExternalID(ctx context.Context, externalID string) (*models.Thread, error) {
	if externalID == "" {
		return nil, NewValidationError("externalId", "required")
	}
	row := s.client.DB().QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE external_id = $1`, externalID)
	return scanThread(row)
}

// AddParticipants appends the given names to the thread's participant
// set, skipping names already present.
func (s *ThreadService) AddParticipants(ctx context.Context, id string, names ...string) (*models.Thread, error) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	for _, name := range names {
		if name == "" || thread.HasParticipant(name) {
			continue
		}
		thread.Participants = append(thread.Participants, name)
		changed = true
	}
	if !changed {
		return thread, nil
	}

	participants, err := encodeJSON(thread.Participants)
	if err != nil {
		return nil, err
	}
	thread.UpdatedAt = time.Now().UTC()
	_, err = s.client.DB().ExecContext(ctx,
		`UPDATE threads SET participants = $1, updated_at = $2 WHERE id = $3`,
		participants, thread.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update participants: %w", err)
	}
	return thread, nil
}

// MergeMetadata overlays entries onto the thread's metadata map.
func (s *ThreadService) MergeMetadata(ctx context.Context, id string, entries map[string]any) (*models.Thread, error) {
	if len(entries) == 0 {
		return s.GetThread(ctx, id)
	}
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread.Metadata == nil {
		thread.Metadata = make(map[string]any, len(entries))
	}
	for k, v := range entries {
		thread.Metadata[k] = v
	}

	metadata, err := encodeJSON(thread.Metadata)
	if err != nil {
		return nil, err
	}
	thread.UpdatedAt = time.Now().UTC()
	_, err = s.client.DB().ExecContext(ctx,
		`UPDATE threads SET metadata = $1, updated_at = $2 WHERE id = $3`,
		metadata, thread.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update thread metadata: %w", err)
	}
	return thread, nil
}

// ArchiveThread marks the thread archived and records its summary.
func (s *ThreadService) ArchiveThread(ctx context.Context, id, summary string) error {
	res, err := s.client.DB().ExecContext(ctx,
		`UPDATE threads SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(models.ThreadStatusArchived), summary, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to archive thread: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to archive thread: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AncestorChain returns the thread followed by its ancestors, nearest
// first, walking parent ids up to maxDepth hops. Broken parent links end
// the walk instead of failing.
func (s *ThreadService) AncestorChain(ctx context.Context, id string, maxDepth int) ([]*models.Thread, error) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	chain := []*models.Thread{thread}
	for depth := 0; depth < maxDepth && thread.ParentID != ""; depth++ {
		parent, err := s.GetThread(ctx, thread.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, parent)
		thread = parent
	}
	return chain, nil
}

func scanThread(row *sql.Row) (*models.Thread, error) {
	var t models.Thread
	var externalID, summary, parentID sql.NullString
	var participants, metadata sql.NullString
	var mode, status string

	err := row.Scan(&t.ID, &externalID, &t.Name, &t.Description, &participants,
		&mode, &status, &summary, &parentID, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	t.ExternalID = stringOr(externalID)
	t.Summary = stringOr(summary)
	t.ParentID = stringOr(parentID)
	t.Mode = models.ThreadMode(mode)
	t.Status = models.ThreadStatus(status)
	if err := decodeJSON(participants, &t.Participants); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &t.Metadata); err != nil {
		return nil, err
	}
	return &t, nil
}
