package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
)

// anthropicDefaultMaxTokens applies when the call config sets no limit;
// the Anthropic API requires max_tokens on every request.
const anthropicDefaultMaxTokens = 4096

// Anthropic streams messages from the Anthropic API.
type Anthropic struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropic builds the adapter from provider config.
func NewAnthropic(cfg config.ProviderConfig) *Anthropic {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

// Close implements llm.Client; the SDK holds no persistent resources.
func (p *Anthropic) Close() error { return nil }

// Stream sends the request and emits chunks until the stream ends.
func (p *Anthropic) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	maxTokens := int64(req.Config.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  p.convertMessages(req.Messages),
	}
	if system := systemText(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Config.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		params.TopP = anthropic.Float(*req.Config.TopP)
	}
	if len(req.Config.StopSequences) > 0 {
		params.StopSequences = req.Config.StopSequences
	}
	if len(req.Tools) > 0 {
		params.Tools = p.convertTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan llm.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *Anthropic) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- llm.Chunk) {
	defer close(chunks)
	defer stream.Close()

	var currentCall *models.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int

	for stream.Next() {
		select {
		case <-ctx.Done():
			chunks <- &llm.ErrorChunk{Err: ctx.Err()}
			return
		default:
		}

		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage := event.AsMessageStart().Message.Usage
			inputTokens = int(usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{
					ID:       toolUse.ID,
					Function: models.FunctionCall{Name: toolUse.Name},
				}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &llm.TextChunk{Content: delta.Text}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				args := currentInput.String()
				if args == "" {
					args = "{}"
				}
				chunks <- &llm.ToolCallChunk{
					ID:        currentCall.ID,
					Name:      currentCall.Function.Name,
					Arguments: args,
				}
				currentCall = nil
			}

		case "message_delta":
			outputTokens = int(event.AsMessageDelta().Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.ErrorChunk{Err: err, Message: err.Error()}
		return
	}
	chunks <- &llm.UsageChunk{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}
}

// systemText joins system turns; Anthropic takes them separately from
// the messages array.
func systemText(messages []models.ChatMessage) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == models.RoleSystem && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (p *Anthropic) convertMessages(messages []models.ChatMessage) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, part := range msg.Parts {
			switch {
			case part.Type == models.PartText && part.Text != "":
				content = append(content, anthropic.NewTextBlock(part.Text))
			case part.Type == models.PartImage:
				b64 := part.DataBase64
				mime := part.MimeType
				if b64 == "" && part.DataURL != "" {
					mime, b64, _ = models.ParseDataURL(part.DataURL)
				}
				if b64 != "" {
					content = append(content, anthropic.NewImageBlockBase64(mime, b64))
				}
			case part.Type == models.PartJSON:
				content = append(content, anthropic.NewTextBlock(string(part.JSON)))
			}
		}
		for _, call := range msg.ToolCalls {
			var input any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func (p *Anthropic) convertTools(tools []models.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param := anthropic.ToolParam{
			Name:        tool.Function.Name,
			InputSchema: anthropic.ToolInputSchemaParam{},
		}
		if tool.Function.Description != "" {
			param.Description = anthropic.String(tool.Function.Description)
		}
		if len(tool.Function.Parameters) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(tool.Function.Parameters, &schema); err == nil {
				if props, ok := schema["properties"]; ok {
					param.InputSchema.Properties = props
				}
				if req, ok := schema["required"].([]any); ok {
					for _, r := range req {
						if s, ok := r.(string); ok {
							param.InputSchema.Required = append(param.InputSchema.Required, s)
						}
					}
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
