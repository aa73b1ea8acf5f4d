package models

import "encoding/json"

// ChatRole is the role of one chat turn sent to a provider.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleTool      ChatRole = "tool"
)

// ChatMessage is one provider-neutral chat turn. Content carries the
// plain text; Parts carries multimodal segments when attachments were
// resolved into inline data.
type ChatMessage struct {
	Role       ChatRole      `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"toolCalls,omitempty"`
	ToolCallID string        `json:"toolCallId,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// FunctionDefinition describes one callable function for the provider.
// Parameters is a JSON-schema object.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolDefinition is the provider-facing tool descriptor.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// NewToolDefinition builds a function-typed tool definition.
func NewToolDefinition(name, description string, parameters json.RawMessage) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: FunctionDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Provider identifies an LLM provider family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// LLMConfig is the per-call provider configuration carried on an
// LLM_CALL payload: provider and model selection plus sampling knobs.
type LLMConfig struct {
	Provider         Provider `json:"provider"`
	Model            string   `json:"model"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxTokens        int      `json:"maxTokens,omitempty"`
	MaxHistoryTokens int      `json:"maxHistoryTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ReasoningEffort  string   `json:"reasoningEffort,omitempty"`
	JSONResponse     bool     `json:"jsonResponse,omitempty"`
	BaseURL          string   `json:"baseUrl,omitempty"`
}

// Usage reports provider token accounting for one call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}
