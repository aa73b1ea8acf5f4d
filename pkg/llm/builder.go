package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

// Builder prepares LLM_CALL payloads: it gathers an agent's message
// history across the thread and its ancestors, converts messages to
// provider-neutral chat turns, inlines asset-backed attachments, and
// prepends the composed system turn.
type Builder struct {
	threads  *services.ThreadService
	messages *services.MessageService
	resolver *assets.Resolver

	// historyLimit caps how many messages one call gathers;
	// historyDepth bounds the ancestor walk.
	historyLimit int
	historyDepth int

	logger *slog.Logger
}

// NewBuilder creates a builder over the persistence services. limit and
// depth fall back to the defaults in config.DefaultQueueConfig.
func NewBuilder(threads *services.ThreadService, messages *services.MessageService, resolver *assets.Resolver, limit, depth int) *Builder {
	defaults := config.DefaultQueueConfig()
	if limit <= 0 {
		limit = defaults.HistoryLimit
	}
	if depth <= 0 {
		depth = defaults.HistoryDepth
	}
	return &Builder{
		threads:      threads,
		messages:     messages,
		resolver:     resolver,
		historyLimit: limit,
		historyDepth: depth,
		logger:       slog.With("component", "llm_builder"),
	}
}

// Build assembles the LLM_CALL payload for one agent turn on a thread.
// The tool definitions are resolved by the caller from the agent's
// allowlist.
func (b *Builder) Build(ctx context.Context, thread *models.Thread, agent *config.AgentConfig, tools []models.ToolDefinition) (*models.LLMCallPayload, error) {
	history, err := b.gatherHistory(ctx, thread, agent)
	if err != nil {
		return nil, err
	}

	turns := make([]models.ChatMessage, 0, len(history)+1)
	turns = append(turns, models.ChatMessage{
		Role:    models.RoleSystem,
		Content: ComposeSystem(agent, b.peers(thread, agent), tools),
	})
	for _, msg := range history {
		turn, err := b.toTurn(ctx, msg, agent)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}

	if agent.LLM.MaxHistoryTokens > 0 {
		counter, err := NewTokenCounter(agent.LLM.Model)
		if err != nil {
			b.logger.Warn("Token counter unavailable, skipping truncation",
				"model", agent.LLM.Model, "error", err)
		} else {
			turns = counter.TruncateHistory(turns, agent.LLM.MaxHistoryTokens)
		}
	}

	return &models.LLMCallPayload{
		AgentName: agent.Name,
		AgentID:   agent.ID,
		Messages:  turns,
		Tools:     tools,
		Config:    agent.LLM,
	}, nil
}

// historyEntry pairs a message with its thread's ancestor depth so ties
// on creation time sort parents first.
type historyEntry struct {
	msg   *models.Message
	depth int
}

// gatherHistory collects the agent's recent messages across the thread
// and its ancestors. Ancestor threads contribute only when the agent is
// a participant there; the current thread always contributes.
func (b *Builder) gatherHistory(ctx context.Context, thread *models.Thread, agent *config.AgentConfig) ([]*models.Message, error) {
	chain, err := b.threads.AncestorChain(ctx, thread.ID, b.historyDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to walk thread ancestry: %w", err)
	}

	var entries []historyEntry
	for depth, t := range chain {
		if depth > 0 && !t.HasParticipant(agent.Name) {
			continue
		}
		msgs, err := b.messages.GetRecentMessages(ctx, t.ID, b.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load thread history: %w", err)
		}
		for _, msg := range msgs {
			entries = append(entries, historyEntry{msg: msg, depth: depth})
		}
	}

	// Strict creation order; ancestors (greater depth) first on ties.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].msg.CreatedAt.Equal(entries[j].msg.CreatedAt) {
			return entries[i].depth > entries[j].depth
		}
		return entries[i].msg.CreatedAt.Before(entries[j].msg.CreatedAt)
	})

	if len(entries) > b.historyLimit {
		entries = entries[len(entries)-b.historyLimit:]
	}
	msgs := make([]*models.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.msg
	}
	return msgs, nil
}

// peers lists the thread participants the agent may address.
func (b *Builder) peers(thread *models.Thread, agent *config.AgentConfig) []string {
	var peers []string
	for _, p := range thread.Participants {
		if p == agent.Name || !agent.AllowsAgent(p) {
			continue
		}
		peers = append(peers, p)
	}
	return peers
}

// toTurn converts one stored message to a chat turn. The agent's own
// messages become assistant turns; peers and users become prefixed user
// turns; tool results become "[Tool Result]:" user turns.
func (b *Builder) toTurn(ctx context.Context, msg *models.Message, agent *config.AgentConfig) (models.ChatMessage, error) {
	text := msg.Content.Flatten()

	var turn models.ChatMessage
	switch {
	case msg.SenderType == models.SenderAgent && msg.SenderID == agent.Name:
		turn = models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: msg.ToolCalls,
		}
	case msg.SenderType == models.SenderTool:
		turn = models.ChatMessage{
			Role:       models.RoleUser,
			Content:    "[Tool Result]: " + text,
			ToolCallID: msg.ToolCallID,
		}
	default:
		sender := msg.SenderID
		if sender == "" {
			sender = string(msg.SenderType)
		}
		turn = models.ChatMessage{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("[%s]: %s", sender, text),
		}
	}

	parts, err := b.attachmentParts(ctx, msg)
	if err != nil {
		return models.ChatMessage{}, err
	}
	turn.Parts = parts
	return turn, nil
}

// attachmentParts converts a message's attachments into multimodal
// parts, substituting asset refs with provider-appropriate inline data.
func (b *Builder) attachmentParts(ctx context.Context, msg *models.Message) ([]models.ContentPart, error) {
	atts := msg.Attachments()
	if len(atts) == 0 {
		return nil, nil
	}

	var parts []models.ContentPart
	for _, att := range atts {
		part := models.ContentPart{
			Type:     models.PartType(att.Kind),
			MimeType: att.MimeType,
			FileName: att.FileName,
			AssetRef: att.AssetRef,
			DataURL:  att.DataURL,
		}
		if part.AssetRef != "" && b.resolver.Enabled() {
			resolved, err := b.resolver.InlinePart(ctx, part)
			if err != nil {
				b.logger.Warn("Failed to inline asset, passing ref through",
					"asset_ref", part.AssetRef, "error", err)
			} else {
				part = resolved
			}
		}
		parts = append(parts, part)
	}
	return parts, nil
}
