package models

import (
	"encoding/json"
	"time"
)

// EventType discriminates queue events. NEW_MESSAGE, LLM_CALL and
// TOOL_CALL are processed from the queue; TOKEN and ASSET_CREATED are
// stream-only signals and are never enqueued.
type EventType string

const (
	EventNewMessage   EventType = "NEW_MESSAGE"
	EventLLMCall      EventType = "LLM_CALL"
	EventToolCall     EventType = "TOOL_CALL"
	EventToken        EventType = "TOKEN"
	EventAssetCreated EventType = "ASSET_CREATED"
)

// Enqueueable reports whether events of type t may be persisted to the
// queue. Stream-only types are emitted on run handles instead.
func (t EventType) Enqueueable() bool {
	return t != EventToken && t != EventAssetCreated
}

// EventStatus is the queue status machine. Legal transitions:
// pending -> processing -> completed|failed, pending -> expired (sweeper),
// pending -> overwritten (override hook).
type EventStatus string

const (
	StatusPending     EventStatus = "pending"
	StatusProcessing  EventStatus = "processing"
	StatusCompleted   EventStatus = "completed"
	StatusFailed      EventStatus = "failed"
	StatusExpired     EventStatus = "expired"
	StatusOverwritten EventStatus = "overwritten"
)

// Terminal reports whether s is a final status.
func (s EventStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusOverwritten:
		return true
	}
	return false
}

// Event is one unit of work in the durable queue. Payload is typed by
// Type; decode it with one of the payload types below.
type Event struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"threadId"`
	Type          EventType       `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	ParentEventID string          `json:"parentEventId,omitempty"`
	TraceID       string          `json:"traceId,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	TTLMs         int64           `json:"ttlMs,omitempty"`
	ExpiresAt     *time.Time      `json:"expiresAt,omitempty"`
	Status        EventStatus     `json:"status"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Expired reports whether the event's deadline has passed at now.
func (e *Event) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// DecodePayload unmarshals the event payload into v.
func (e *Event) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// EventSpec describes an event to enqueue. Zero-value Status means
// pending. If TTLMs > 0 and ExpiresAt is unset, the queue derives
// ExpiresAt = now + TTLMs; an explicit ExpiresAt always wins.
type EventSpec struct {
	Type          EventType      `json:"type"`
	Payload       any            `json:"payload,omitempty"`
	ParentEventID string         `json:"parentEventId,omitempty"`
	TraceID       string         `json:"traceId,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	TTLMs         int64          `json:"ttlMs,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	Status        EventStatus    `json:"status,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ProducedEvent is an event a processor wants enqueued after the current
// one completes. An empty ThreadID targets the source event's thread.
type ProducedEvent struct {
	ThreadID string    `json:"threadId,omitempty"`
	Spec     EventSpec `json:"spec"`
}

// NewMessagePayload is the NEW_MESSAGE event payload: the data needed to
// materialize one message and decide what happens next.
type NewMessagePayload struct {
	Content   Content        `json:"content"`
	Sender    Sender         `json:"sender"`
	Thread    *ThreadSpec    `json:"thread,omitempty"`
	ToolCalls []ToolCall     `json:"toolCalls,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LLMCallPayload is a prepared provider request for one agent turn.
type LLMCallPayload struct {
	AgentName string           `json:"agentName"`
	AgentID   string           `json:"agentId,omitempty"`
	Messages  []ChatMessage    `json:"messages"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
	Config    LLMConfig        `json:"config"`
}

// ToolCallPayload is one tool invocation scheduled for execution.
type ToolCallPayload struct {
	AgentName  string     `json:"agentName"`
	SenderID   string     `json:"senderId,omitempty"`
	SenderType SenderType `json:"senderType"`
	Call       ToolCall   `json:"call"`
}

// TokenPayload is a streaming token signal. TOKEN events are emitted on
// run handles only and never enqueued.
type TokenPayload struct {
	ThreadID   string `json:"threadId"`
	AgentName  string `json:"agentName"`
	Token      string `json:"token"`
	IsComplete bool   `json:"isComplete"`
}

// AssetCreatedPayload announces that a processor stored a new asset.
type AssetCreatedPayload struct {
	AssetID    string `json:"assetId"`
	Ref        string `json:"ref"`
	Mime       string `json:"mime,omitempty"`
	By         string `json:"by"`
	Tool       string `json:"tool,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Base64     string `json:"base64,omitempty"`
	DataURL    string `json:"dataUrl,omitempty"`
}
