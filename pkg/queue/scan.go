package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/copilotz/copilotz/pkg/models"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var e models.Event
	var payload, parentID, traceID, metadata sql.NullString
	var expiresAt sql.NullTime
	var eventType, status string

	err := row.Scan(&e.ID, &e.ThreadID, &eventType, &payload, &parentID,
		&traceID, &e.Priority, &e.TTLMs, &expiresAt, &status, &metadata,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.Type = models.EventType(eventType)
	e.Status = models.EventStatus(status)
	if payload.Valid && payload.String != "" {
		e.Payload = json.RawMessage(payload.String)
	}
	if parentID.Valid {
		e.ParentEventID = parentID.String
	}
	if traceID.Valid {
		e.TraceID = traceID.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		e.ExpiresAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}
	return &e, nil
}

func collectEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer rows.Close()
	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// encodePayload marshals an event payload for storage. A payload that is
// already raw JSON passes through unchanged.
func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}
	return data, nil
}

func encodeMetadata(md map[string]any) (any, error) {
	if md == nil {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event metadata: %w", err)
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
