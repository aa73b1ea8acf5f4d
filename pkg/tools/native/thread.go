package native

import (
	"context"
	"fmt"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/tools"
)

func requireRuntime(ec *tools.ExecContext) (tools.Runtime, error) {
	if ec == nil || ec.Runtime == nil {
		return nil, fmt.Errorf("thread tools are not available in this context")
	}
	return ec.Runtime, nil
}

type askQuestionArgs struct {
	Agent    string `json:"agent" jsonschema:"required,description=Name of the agent to ask"`
	Question string `json:"question" jsonschema:"required,description=The question to ask"`
}

func newAskQuestion() *tools.Tool {
	return &tools.Tool{
		Key:         "ask_question",
		Description: "Ask another agent a question in a private side conversation and get its answer.",
		InputSchema: mustSchema[askQuestionArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			rt, err := requireRuntime(ec)
			if err != nil {
				return nil, err
			}
			a, err := decodeArgs[askQuestionArgs](args)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(a.Agent) == "" || strings.TrimSpace(a.Question) == "" {
				return nil, fmt.Errorf("agent and question are required")
			}
			answer, err := rt.AskAgent(ctx, ec.ThreadID, ec.AgentName, a.Agent, a.Question)
			if err != nil {
				return nil, fmt.Errorf("ask %s: %w", a.Agent, err)
			}
			return map[string]any{"agent": a.Agent, "answer": answer}, nil
		},
	}
}

type createThreadArgs struct {
	Name         string   `json:"name,omitempty" jsonschema:"description=Human-readable thread name"`
	Description  string   `json:"description,omitempty" jsonschema:"description=What the thread is for"`
	Participants []string `json:"participants,omitempty" jsonschema:"description=Participant names; defaults to the calling agent"`
}

func newCreateThread() *tools.Tool {
	return &tools.Tool{
		Key:         "create_thread",
		Description: "Create a child conversation thread and return its id.",
		InputSchema: mustSchema[createThreadArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			rt, err := requireRuntime(ec)
			if err != nil {
				return nil, err
			}
			a, err := decodeArgs[createThreadArgs](args)
			if err != nil {
				return nil, err
			}
			participants := a.Participants
			if len(participants) == 0 {
				participants = []string{ec.AgentName}
			}
			thread, err := rt.CreateThread(ctx, models.ThreadSpec{
				Name:         a.Name,
				Description:  a.Description,
				Participants: participants,
				ParentID:     ec.ThreadID,
			})
			if err != nil {
				return nil, fmt.Errorf("create thread: %w", err)
			}
			return map[string]any{"threadId": thread.ID}, nil
		},
	}
}

type endThreadArgs struct {
	Summary string `json:"summary,omitempty" jsonschema:"description=Short summary of how the conversation concluded"`
}

func newEndThread() *tools.Tool {
	return &tools.Tool{
		Key:         "end_thread",
		Description: "Archive the current conversation thread; no further responses follow.",
		InputSchema: mustSchema[endThreadArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			rt, err := requireRuntime(ec)
			if err != nil {
				return nil, err
			}
			a, err := decodeArgs[endThreadArgs](args)
			if err != nil {
				return nil, err
			}
			if err := rt.ArchiveThread(ctx, ec.ThreadID, a.Summary); err != nil {
				return nil, fmt.Errorf("archive thread: %w", err)
			}
			return map[string]any{"status": "archived"}, nil
		},
		SuppressFollowUp: true,
	}
}

type createTaskArgs struct {
	Agent       string `json:"agent,omitempty" jsonschema:"description=Agent to run the task; defaults to the calling agent"`
	Description string `json:"description" jsonschema:"required,description=What the background task should do"`
}

func newCreateTask() *tools.Tool {
	return &tools.Tool{
		Key:         "create_task",
		Description: "Start a background task in its own thread without waiting for it to finish.",
		InputSchema: mustSchema[createTaskArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			rt, err := requireRuntime(ec)
			if err != nil {
				return nil, err
			}
			a, err := decodeArgs[createTaskArgs](args)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(a.Description) == "" {
				return nil, fmt.Errorf("description is required")
			}
			agent := a.Agent
			if agent == "" {
				agent = ec.AgentName
			}
			taskThreadID, err := rt.StartBackgroundTask(ctx, ec.ThreadID, agent, a.Description)
			if err != nil {
				return nil, fmt.Errorf("start task: %w", err)
			}
			return map[string]any{"taskThreadId": taskThreadID, "agent": agent}, nil
		},
	}
}
