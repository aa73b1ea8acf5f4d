package engine

import (
	"context"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/queue"
)

// The engine is the tools.Runtime: thread-management tools call back
// into it through the ExecContext.

// CreateThread creates a thread from the spec, usually a child of the
// calling tool's thread.
func (e *Engine) CreateThread(ctx context.Context, spec models.ThreadSpec) (*models.Thread, error) {
	thread, err := e.threads.CreateThread(ctx, spec)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to create thread")
	}
	return thread, nil
}

// AskAgent creates a child thread for the asking and target agents,
// posts the question there, drives the child to quiescence and returns
// the target agent's first reply. Blocks for the child's whole run; the
// caller's context bounds it.
func (e *Engine) AskAgent(ctx context.Context, parentThreadID, askingAgent, targetAgent, question string) (string, error) {
	if _, ok := e.agents.Get(targetAgent); !ok {
		return "", models.NewRunError(models.KindInvalidInput, "unknown agent %q", targetAgent)
	}

	child, err := e.threads.CreateThread(ctx, models.ThreadSpec{
		Name:         askingAgent + " asks " + targetAgent,
		Participants: []string{askingAgent, targetAgent},
		ParentID:     parentThreadID,
	})
	if err != nil {
		return "", models.WrapRunError(models.KindStorageError, err, "failed to create question thread")
	}

	// The mention routes the question; a plain agent message would not
	// schedule the target's turn.
	spec := models.EventSpec{
		Type: models.EventNewMessage,
		Payload: models.NewMessagePayload{
			Content: models.Content{Text: "@" + targetAgent + " " + question},
			Sender:  models.Sender{Type: models.SenderAgent, Name: askingAgent},
		},
		TTLMs: e.cfg.Queue.DefaultTTLMs,
	}
	if _, err := e.ops.Add(ctx, child.ID, spec); err != nil {
		return "", models.WrapRunError(models.KindStorageError, err, "failed to enqueue question")
	}

	worker := queue.NewWorker(e.ops, e.dispatcherFor(e.emitterFor(nil), nil), nil)
	if err := worker.RunThread(ctx, child.ID); err != nil {
		return "", err
	}

	messages, err := e.messages.GetThreadMessages(ctx, child.ID, 0)
	if err != nil {
		return "", models.WrapRunError(models.KindStorageError, err, "failed to read question thread")
	}
	for _, msg := range messages {
		if msg.SenderType == models.SenderAgent && msg.SenderID == targetAgent {
			return msg.Content.Flatten(), nil
		}
	}
	return "", models.NewRunError(models.KindExecutionError, "%s did not answer", targetAgent)
}

// StartBackgroundTask creates a detached child thread seeded with the
// task description and returns its id without waiting. The task runs on
// the engine's lifetime, not the caller's.
func (e *Engine) StartBackgroundTask(ctx context.Context, parentThreadID, agentName, description string) (string, error) {
	if _, ok := e.agents.Get(agentName); !ok {
		return "", models.NewRunError(models.KindInvalidInput, "unknown agent %q", agentName)
	}

	child, err := e.threads.CreateThread(ctx, models.ThreadSpec{
		Name:         "task for " + agentName,
		Participants: []string{"task", agentName},
		Mode:         models.ThreadModeBackground,
		ParentID:     parentThreadID,
	})
	if err != nil {
		return "", models.WrapRunError(models.KindStorageError, err, "failed to create task thread")
	}

	spec := models.EventSpec{
		Type: models.EventNewMessage,
		Payload: models.NewMessagePayload{
			Content: models.Content{Text: description},
			Sender:  models.Sender{Type: models.SenderUser, Name: "task"},
		},
		TTLMs: e.cfg.Queue.DefaultTTLMs,
	}
	if _, err := e.ops.Add(ctx, child.ID, spec); err != nil {
		return "", models.WrapRunError(models.KindStorageError, err, "failed to enqueue task")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", models.NewRunError(models.KindInvalidInput, "engine is closed")
	}
	e.runs.Add(1)
	e.mu.Unlock()

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.runs.Done()
		worker := queue.NewWorker(e.ops, e.dispatcherFor(e.emitterFor(nil), nil), nil)
		if err := worker.RunThread(taskCtx, child.ID); err != nil {
			e.logger.Warn("Background task failed", "thread_id", child.ID, "agent", agentName, "error", err)
		}
	}()

	return child.ID, nil
}

// ArchiveThread archives the thread with the given summary.
func (e *Engine) ArchiveThread(ctx context.Context, threadID, summary string) error {
	if err := e.threads.ArchiveThread(ctx, threadID, summary); err != nil {
		return models.WrapRunError(models.KindStorageError, err, "failed to archive thread")
	}
	return nil
}
