package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
)

// ParsedResponse is the outcome of parsing one raw provider response.
type ParsedResponse struct {
	// Visible is the assistant's text with <tool_calls> blocks removed.
	Visible string
	// ToolCalls are the calls parsed from the blocks, ids filled in.
	ToolCalls []models.ToolCall
	// ParseError describes a malformed block. The visible text is still
	// usable; the caller attaches the error to message metadata so the
	// agent sees the feedback on its next turn.
	ParseError string
}

// ParseResponse splits a raw response into visible text and tool calls.
// Each <tool_calls> block holds one or more JSON objects of the form
// {"function":{"name":..., "arguments":"<json string>"}}, one per line
// or as a JSON array. Calls without an id get <name>_<index>.
func ParseResponse(raw string) *ParsedResponse {
	resp := &ParsedResponse{}
	var visible strings.Builder
	var blocks []string

	rest := raw
	for {
		open := strings.Index(rest, toolCallsOpenTag)
		if open < 0 {
			visible.WriteString(rest)
			break
		}
		visible.WriteString(rest[:open])
		rest = rest[open+len(toolCallsOpenTag):]

		closeIdx := strings.Index(rest, toolCallsCloseTag)
		if closeIdx < 0 {
			// Unclosed block: elide the remainder and report it.
			resp.ParseError = "unclosed <tool_calls> block"
			break
		}
		blocks = append(blocks, rest[:closeIdx])
		rest = rest[closeIdx+len(toolCallsCloseTag):]
	}
	resp.Visible = strings.TrimSpace(visible.String())

	if resp.ParseError != "" {
		return resp
	}
	for _, block := range blocks {
		calls, err := parseToolCallBlock(block)
		if err != nil {
			resp.ParseError = err.Error()
			resp.ToolCalls = nil
			return resp
		}
		resp.ToolCalls = append(resp.ToolCalls, calls...)
	}
	for i := range resp.ToolCalls {
		if resp.ToolCalls[i].ID == "" {
			resp.ToolCalls[i].ID = fmt.Sprintf("%s_%d", resp.ToolCalls[i].Function.Name, i)
		}
	}
	return resp
}

// parseToolCallBlock decodes the body of one block: either a JSON array
// of call objects or one object per line.
func parseToolCallBlock(block string) ([]models.ToolCall, error) {
	trimmed := strings.TrimSpace(block)
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var calls []models.ToolCall
		if err := json.Unmarshal([]byte(trimmed), &calls); err != nil {
			return nil, fmt.Errorf("invalid tool_calls array: %v", err)
		}
		return validateCalls(calls)
	}

	var calls []models.ToolCall
	dec := json.NewDecoder(strings.NewReader(trimmed))
	for dec.More() {
		var call models.ToolCall
		if err := dec.Decode(&call); err != nil {
			return nil, fmt.Errorf("invalid tool call object: %v", err)
		}
		calls = append(calls, call)
	}
	return validateCalls(calls)
}

func validateCalls(calls []models.ToolCall) ([]models.ToolCall, error) {
	for i, call := range calls {
		if call.Function.Name == "" {
			return nil, fmt.Errorf("tool call %d is missing function.name", i)
		}
		if call.Function.Arguments == "" {
			calls[i].Function.Arguments = "{}"
		}
	}
	return calls, nil
}
