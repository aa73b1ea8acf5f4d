package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/copilotz/copilotz/pkg/tools"
)

// Tools discovers every connected server's tools and lowers them into
// registry tools keyed <server>_<tool>. Servers that fail discovery are
// skipped; partial tools are better than none.
func (m *Manager) Tools(ctx context.Context) []*tools.Tool {
	m.mu.RLock()
	servers := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		servers = append(servers, name)
	}
	m.mu.RUnlock()

	var out []*tools.Tool
	for _, server := range servers {
		discovered, err := m.ListTools(ctx, server)
		if err != nil {
			m.logger.Warn("Failed to list tools from MCP server",
				"server", server, "error", err)
			continue
		}
		for _, tool := range discovered {
			out = append(out, m.lowerTool(server, tool))
		}
	}
	return out
}

// lowerTool wraps one remote tool as a registry tool.
func (m *Manager) lowerTool(server string, tool *mcpsdk.Tool) *tools.Tool {
	toolName := tool.Name
	return &tools.Tool{
		Key:         ToolKey(server, toolName),
		Description: tool.Description,
		InputSchema: marshalSchema(tool.InputSchema),
		Execute: func(ctx context.Context, args map[string]any, _ *tools.ExecContext) (any, error) {
			result, err := m.CallTool(ctx, server, toolName, args)
			if err != nil {
				return nil, err
			}
			content := extractTextContent(result)
			if result.IsError {
				return nil, fmt.Errorf("%s", content)
			}
			if result.StructuredContent != nil {
				return result.StructuredContent, nil
			}
			// Many servers return JSON as text; surface it decoded.
			var decoded any
			if json.Unmarshal([]byte(content), &decoded) == nil {
				return decoded, nil
			}
			return map[string]any{"content": content}, nil
		},
	}
}

// ToolKey builds the registry key for a server's tool.
func ToolKey(server, tool string) string {
	return server + "_" + tool
}

// SplitToolKey splits a registry key back into server and tool names.
// Server names may not contain underscores; tool names may.
func SplitToolKey(key string) (server, tool string, err error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("tool key %q is not of the form <server>_<tool>", key)
	}
	return parts[0], parts[1], nil
}

// extractTextContent concatenates the text items of a call result.
// Non-text content (images, embedded resources) is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("Skipping non-text MCP content", "type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// marshalSchema serializes a tool's input schema for the registry.
func marshalSchema(schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		slog.Debug("Failed to marshal tool input schema", "error", err)
		return nil
	}
	return data
}
