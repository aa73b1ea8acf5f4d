// Package tools defines the uniform tool capability the engine executes:
// a keyed registry over native, user-provided, OpenAPI-derived and remote
// tools, with JSON-schema input validation and near-miss suggestions.
package tools

import (
	"context"
	"encoding/json"

	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/models"
)

// Runtime exposes the engine capabilities thread-management tools need.
// The engine implements it; tools that never touch threads ignore it.
type Runtime interface {
	// CreateThread creates a thread (usually a child via spec.ParentID)
	// and returns it.
	CreateThread(ctx context.Context, spec models.ThreadSpec) (*models.Thread, error)

	// AskAgent creates a child thread for {askingAgent, targetAgent},
	// posts the question, drives the child to quiescence and returns the
	// target agent's first reply.
	AskAgent(ctx context.Context, parentThreadID, askingAgent, targetAgent, question string) (string, error)

	// StartBackgroundTask creates a background child thread seeded with
	// the task description and returns its id without waiting.
	StartBackgroundTask(ctx context.Context, parentThreadID, agentName, description string) (string, error)

	// ArchiveThread archives a thread with the given summary.
	ArchiveThread(ctx context.Context, threadID, summary string) error
}

// ExecContext carries per-call dependencies into a tool executor.
type ExecContext struct {
	ThreadID   string
	AgentName  string
	TraceID    string
	ToolCallID string
	Assets     *assets.Resolver
	DB         *database.Client
	Runtime    Runtime
}

// ExecuteFunc runs one tool call. Arguments arrive already decoded from
// the call's JSON string. The returned value is normalized and JSON
// encoded into the tool-result message.
type ExecuteFunc func(ctx context.Context, args map[string]any, ec *ExecContext) (any, error)

// Tool is one named capability callable from agent responses.
type Tool struct {
	// Key is the stable name used in tool calls.
	Key         string
	Description string
	// InputSchema validates arguments when non-empty (JSON schema).
	InputSchema json.RawMessage
	// OutputSchema documents the result shape; not enforced.
	OutputSchema json.RawMessage
	Execute      ExecuteFunc
	// SuppressFollowUp marks tools whose result message must not
	// trigger an automatic follow-up LLM call (the turn pauses until
	// the next incoming message).
	SuppressFollowUp bool
}

// Definition returns the provider-facing descriptor for the tool.
func (t *Tool) Definition() models.ToolDefinition {
	return models.NewToolDefinition(t.Key, t.Description, t.InputSchema)
}
