package llm

import (
	"fmt"
	"strings"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/models"
)

// toolCallingPreamble describes the inline tool-call text protocol. It
// is appended to every agent's system turn when tools are available.
const toolCallingPreamble = `## Calling tools

To call one or more tools, emit a <tool_calls> block anywhere in your reply:

<tool_calls>
{"function":{"name":"<tool>","arguments":"<json-encoded object>"}}
</tool_calls>

Rules:
- "arguments" is a JSON-encoded string, e.g. "{\"city\":\"Paris\"}". Use "{}" when the tool takes no input.
- One JSON object per line for multiple calls.
- Everything inside the block is hidden from the user; put any visible text outside it.
- After calling tools, wait for their results before answering.`

// ComposeSystem builds the system turn for an agent: persona and
// instructions, then the peer and tool allowlists, then the tool-call
// protocol preamble when tools are available.
func ComposeSystem(agent *config.AgentConfig, peers []string, tools []models.ToolDefinition) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s", agent.Name)
	if agent.Role != "" {
		fmt.Fprintf(&sb, ", %s", agent.Role)
	}
	sb.WriteString(".")
	if agent.Personality != "" {
		sb.WriteString("\n\nPersonality: " + agent.Personality)
	}
	if agent.Instructions != "" {
		sb.WriteString("\n\n" + agent.Instructions)
	}

	if len(peers) > 0 {
		sb.WriteString("\n\n## Participants\n\nYou can address these participants with @Name:\n")
		for _, peer := range peers {
			sb.WriteString("- " + peer + "\n")
		}
	}

	if len(tools) > 0 {
		sb.WriteString("\n## Available tools\n\n")
		for _, tool := range tools {
			sb.WriteString("- " + tool.Function.Name)
			if tool.Function.Description != "" {
				sb.WriteString(": " + tool.Function.Description)
			}
			sb.WriteByte('\n')
		}
		sb.WriteString("\n" + toolCallingPreamble)
	}
	return sb.String()
}
