// Package models provides the domain types shared across the engine:
// threads, messages, queue events and their payloads.
package models

import "time"

// ThreadMode controls whether a run blocks until the thread drains.
type ThreadMode string

const (
	ThreadModeImmediate  ThreadMode = "immediate"
	ThreadModeBackground ThreadMode = "background"
)

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadStatusActive   ThreadStatus = "active"
	ThreadStatusInactive ThreadStatus = "inactive"
	ThreadStatusArchived ThreadStatus = "archived"
)

// Thread is a conversation scope: a participant set plus an append-only
// message log. Threads are never deleted; ending a conversation archives
// the thread with a summary.
type Thread struct {
	ID           string         `json:"id"`
	ExternalID   string         `json:"externalId,omitempty"`
	Name         string         `json:"name,omitempty"`
	Description  string         `json:"description,omitempty"`
	Participants []string       `json:"participants"`
	Mode         ThreadMode     `json:"mode"`
	Status       ThreadStatus   `json:"status"`
	Summary      string         `json:"summary,omitempty"`
	ParentID     string         `json:"parentId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// HasParticipant reports whether name is in the thread's participant set.
func (t *Thread) HasParticipant(name string) bool {
	for _, p := range t.Participants {
		if p == name {
			return true
		}
	}
	return false
}

// ThreadSpec carries caller-supplied thread fields on a run request.
// A matching thread is looked up by ID or ExternalID; otherwise a new
// thread is created from the spec.
type ThreadSpec struct {
	ID           string         `json:"id,omitempty"`
	ExternalID   string         `json:"externalId,omitempty"`
	Name         string         `json:"name,omitempty"`
	Description  string         `json:"description,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Mode         ThreadMode     `json:"mode,omitempty"`
	ParentID     string         `json:"parentId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
