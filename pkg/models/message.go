package models

import (
	"encoding/json"
	"time"
)

// SenderType classifies who produced a message.
type SenderType string

const (
	SenderUser   SenderType = "user"
	SenderAgent  SenderType = "agent"
	SenderTool   SenderType = "tool"
	SenderSystem SenderType = "system"
)

// ValidSenderType reports whether t is one of the known sender types.
func ValidSenderType(t SenderType) bool {
	switch t {
	case SenderUser, SenderAgent, SenderTool, SenderSystem:
		return true
	}
	return false
}

// Sender identifies the author of an incoming message.
type Sender struct {
	Type       SenderType     `json:"type"`
	ID         string         `json:"id,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DisplayName returns the participant name used for this sender in
// thread membership and @mention matching.
func (s Sender) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return s.ExternalID
}

// FunctionCall is the name/arguments pair of a tool invocation.
// Arguments is a JSON-encoded object.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall describes one tool invocation requested by an agent. IDs are
// assigned synthetically (<name>_<index>) when the provider omits them.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// ToolCallRecord is the executed form of a tool call kept under message
// metadata: the call plus its normalized output and terminal status.
type ToolCallRecord struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args,omitempty"`
	Output any             `json:"output,omitempty"`
	Status string          `json:"status"`
}

// Message is one append-only entry in a thread's log. Corrections are
// expressed as new messages, never as updates.
type Message struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"threadId"`
	SenderID   string         `json:"senderId"`
	SenderType SenderType     `json:"senderType"`
	UserID     string         `json:"userId,omitempty"`
	Content    Content        `json:"content"`
	ToolCalls  []ToolCall     `json:"toolCalls,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Attachments decodes the attachments list from message metadata, or nil.
func (m *Message) Attachments() []Attachment {
	if m.Metadata == nil {
		return nil
	}
	raw, ok := m.Metadata["attachments"]
	if !ok {
		return nil
	}
	// Metadata round-trips through JSON, so the list may arrive either
	// typed or as []any of maps.
	if atts, ok := raw.([]Attachment); ok {
		return atts
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var atts []Attachment
	if err := json.Unmarshal(data, &atts); err != nil {
		return nil
	}
	return atts
}
