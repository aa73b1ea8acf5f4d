package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

// Metadata keys carried on tool-result messages so the follow-up
// decision survives the round trip through the queue.
const (
	metaAgentName        = "agentName"
	metaSuppressFollowUp = "suppressFollowUp"
	metaAttachments      = "attachments"
	metaToolCalls        = "toolCalls"
)

// NewMessageProcessor persists one incoming message and decides what the
// engine does next: fan out tool calls, schedule an agent turn, or
// pause.
type NewMessageProcessor struct{}

func (p *NewMessageProcessor) Type() models.EventType { return models.EventNewMessage }

// ShouldProcess skips messages for archived threads.
func (p *NewMessageProcessor) ShouldProcess(ctx context.Context, event *models.Event, deps *Deps) bool {
	return deps.Thread == nil || deps.Thread.Status != models.ThreadStatusArchived
}

func (p *NewMessageProcessor) Process(ctx context.Context, event *models.Event, deps *Deps) ([]models.ProducedEvent, error) {
	var payload models.NewMessagePayload
	if err := event.DecodePayload(&payload); err != nil {
		return nil, models.WrapRunError(models.KindInvalidInput, err, "malformed NEW_MESSAGE payload")
	}
	if payload.Content.IsEmpty() && len(payload.ToolCalls) == 0 {
		return nil, models.NewRunError(models.KindInvalidInput, "message needs content or tool calls")
	}
	if deps.Thread == nil {
		return nil, models.NewRunError(models.KindStorageError, "thread %s not found", event.ThreadID)
	}

	log := slog.With("component", "new_message", "thread_id", event.ThreadID)

	// Inline binary in the content becomes asset refs; each stored
	// asset is announced on the run stream.
	content, attachments, created, err := deps.Assets.NormalizeContent(ctx, payload.Content)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to normalize message content")
	}
	deps.EmitAssetCreated(event.ThreadID, string(payload.Sender.Type), "", "", created)

	metadata := cloneMetadata(payload.Metadata)
	if len(attachments) > 0 {
		metadata[metaAttachments] = attachments
	}

	// Tool-result messages may carry binary inside their recorded
	// outputs too.
	if payload.Sender.Type == models.SenderTool {
		if err := p.normalizeToolOutputs(ctx, event.ThreadID, metadata, deps); err != nil {
			return nil, err
		}
	}

	// The sender always ends up in the participant set.
	senderName := payload.Sender.DisplayName()
	if senderName != "" && !deps.Thread.HasParticipant(senderName) {
		updated, err := deps.Threads.AddParticipants(ctx, deps.Thread.ID, senderName)
		if err != nil {
			return nil, models.WrapRunError(models.KindStorageError, err, "failed to add sender to participants")
		}
		deps.Thread = updated
	}

	msg, err := deps.Messages.CreateMessage(ctx, createRequest(event.ThreadID, &payload, content, metadata))
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to persist message")
	}
	log.Debug("Message persisted", "message_id", msg.ID, "sender", senderName, "sender_type", payload.Sender.Type)

	// Tool calls on the message take precedence over any responder.
	if len(payload.ToolCalls) > 0 {
		return p.fanOutToolCalls(event, &payload), nil
	}

	responder := p.chooseResponder(deps, &payload, metadata)
	if responder == "" {
		log.Debug("No responder selected, thread pauses")
		return nil, nil
	}

	agent, ok := deps.Agents.Get(responder)
	if !ok {
		// Mentioning a human participant is fine; only agents respond.
		log.Debug("Responder is not a configured agent", "responder", responder)
		return nil, nil
	}

	defs := deps.Tools.Definitions(agent.AllowedTools)
	llmPayload, err := deps.Builder.Build(ctx, deps.Thread, agent, defs)
	if err != nil {
		return nil, models.WrapRunError(models.KindStorageError, err, "failed to build LLM call for %s", agent.Name)
	}

	return []models.ProducedEvent{{
		Spec: models.EventSpec{
			Type:          models.EventLLMCall,
			Payload:       llmPayload,
			ParentEventID: event.ID,
			TraceID:       event.TraceID,
		},
	}}, nil
}

// normalizeToolOutputs replaces binary inside metadata.toolCalls[*]
// outputs with asset refs.
func (p *NewMessageProcessor) normalizeToolOutputs(ctx context.Context, threadID string, metadata map[string]any, deps *Deps) error {
	raw, ok := metadata[metaToolCalls]
	if !ok {
		return nil
	}
	records, err := decodeToolCallRecords(raw)
	if err != nil || len(records) == 0 {
		return nil
	}
	for i := range records {
		if records[i].Output == nil {
			continue
		}
		normalized, created, err := deps.Assets.NormalizeValue(ctx, records[i].Output)
		if err != nil {
			return models.WrapRunError(models.KindStorageError, err, "failed to normalize tool output")
		}
		records[i].Output = normalized
		deps.EmitAssetCreated(threadID, string(models.SenderTool), records[i].Name, records[i].ID, created)
	}
	metadata[metaToolCalls] = records
	return nil
}

// chooseResponder picks which participant, if any, takes the next turn.
func (p *NewMessageProcessor) chooseResponder(deps *Deps, payload *models.NewMessagePayload, metadata map[string]any) string {
	thread := deps.Thread

	// A tool result goes back to the agent whose call produced it,
	// unless the tool suppressed the follow-up.
	if payload.Sender.Type == models.SenderTool {
		if suppressed, _ := metadata[metaSuppressFollowUp].(bool); suppressed {
			return ""
		}
		if agent, _ := metadata[metaAgentName].(string); agent != "" {
			return agent
		}
		return ""
	}

	sender := payload.Sender.DisplayName()
	others := make([]string, 0, len(thread.Participants))
	for _, name := range thread.Participants {
		if name != sender {
			others = append(others, name)
		}
	}

	if mentioned := findMention(payload.Content.Flatten(), others); mentioned != "" {
		// An agent may only address peers on its allowlist.
		if payload.Sender.Type == models.SenderAgent {
			if senderAgent, ok := deps.Agents.Get(sender); ok && !senderAgent.AllowsAgent(mentioned) {
				return ""
			}
		}
		return mentioned
	}
	// The pair fallback covers one human plus one agent. It must not
	// apply to agent senders or two agents would volley forever.
	if payload.Sender.Type != models.SenderAgent && len(thread.Participants) == 2 && len(others) == 1 {
		return others[0]
	}
	// An agent speaking plain text without a mention ends its turn.
	return ""
}

// fanOutToolCalls enqueues one TOOL_CALL per requested call, in order.
func (p *NewMessageProcessor) fanOutToolCalls(event *models.Event, payload *models.NewMessagePayload) []models.ProducedEvent {
	produced := make([]models.ProducedEvent, 0, len(payload.ToolCalls))
	for i, call := range payload.ToolCalls {
		if call.ID == "" {
			call.ID = fmt.Sprintf("%s_%d", call.Function.Name, i)
		}
		produced = append(produced, models.ProducedEvent{
			Spec: models.EventSpec{
				Type: models.EventToolCall,
				Payload: models.ToolCallPayload{
					AgentName:  payload.Sender.DisplayName(),
					SenderID:   payload.Sender.ID,
					SenderType: payload.Sender.Type,
					Call:       call,
				},
				ParentEventID: event.ID,
				TraceID:       event.TraceID,
			},
		})
	}
	return produced
}

var mentionRe = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// findMention returns the first @mentioned name that matches a
// candidate, longest candidate first so "@Ann-Marie" beats "@Ann".
func findMention(text string, candidates []string) string {
	if text == "" || len(candidates) == 0 {
		return ""
	}
	sorted := append([]string(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	for _, match := range mentionRe.FindAllStringSubmatch(text, -1) {
		mentioned := match[1]
		for _, name := range sorted {
			if strings.EqualFold(mentioned, name) {
				return name
			}
		}
	}
	return ""
}

func createRequest(threadID string, payload *models.NewMessagePayload, content models.Content, metadata map[string]any) services.CreateMessageRequest {
	req := services.CreateMessageRequest{
		ThreadID:   threadID,
		SenderID:   payload.Sender.DisplayName(),
		SenderType: payload.Sender.Type,
		Content:    content,
		ToolCalls:  payload.ToolCalls,
	}
	if len(metadata) > 0 {
		req.Metadata = metadata
	}
	if payload.Sender.Type == models.SenderUser {
		req.UserID = payload.Sender.ID
	}
	if payload.Sender.Type == models.SenderTool {
		if id, _ := metadata["toolCallId"].(string); id != "" {
			req.ToolCallID = id
		}
	}
	return req
}

func cloneMetadata(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, val := range metadata {
		out[key] = val
	}
	return out
}

// decodeToolCallRecords accepts the typed list or its JSON round-trip
// form.
func decodeToolCallRecords(raw any) ([]models.ToolCallRecord, error) {
	if records, ok := raw.([]models.ToolCallRecord); ok {
		return records, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var records []models.ToolCallRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
