// Package providers implements the llm.Client interface for the
// supported LLM providers: OpenAI-compatible endpoints, Anthropic and
// Gemini.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
)

// OpenAI streams chat completions from OpenAI or any OpenAI-compatible
// endpoint (OpenRouter, Groq, Ollama) selected via base URL.
type OpenAI struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAI builds the adapter from provider config.
func NewOpenAI(cfg config.ProviderConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
	}
}

// Close implements llm.Client; the SDK holds no persistent resources.
func (p *OpenAI) Close() error { return nil }

// Stream sends the request and emits chunks until the stream ends.
func (p *OpenAI) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      p.convertMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.Config.Temperature != nil {
		chatReq.Temperature = float32(*req.Config.Temperature)
	}
	if req.Config.TopP != nil {
		chatReq.TopP = float32(*req.Config.TopP)
	}
	if req.Config.MaxTokens > 0 {
		chatReq.MaxTokens = req.Config.MaxTokens
	}
	if len(req.Config.StopSequences) > 0 {
		chatReq.Stop = req.Config.StopSequences
	}
	if req.Config.JSONResponse {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, models.WrapRunError(models.KindProviderError, err, "openai stream failed").
			WithMeta("provider", string(models.ProviderOpenAI)).
			WithMeta("model", model)
	}

	chunks := make(chan llm.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAI) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- llm.Chunk) {
	defer close(chunks)
	defer stream.Close()

	// Tool calls arrive incrementally keyed by index; accumulate until
	// the stream ends.
	pending := make(map[int]*models.ToolCall)
	var order []int

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				chunks <- &llm.ErrorChunk{Err: ctx.Err()}
				return
			}
			chunks <- &llm.ErrorChunk{Err: err, Message: err.Error()}
			return
		}

		if resp.Usage != nil {
			chunks <- &llm.UsageChunk{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &llm.TextChunk{Content: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &models.ToolCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
	}

	for _, idx := range order {
		call := pending[idx]
		chunks <- &llm.ToolCallChunk{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
}

func (p *OpenAI) convertMessages(messages []models.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			ToolCallID: msg.ToolCallID,
		}
		if parts := p.convertParts(msg); len(parts) > 0 {
			m.MultiContent = parts
		} else {
			m.Content = msg.Content
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

// convertParts maps multimodal parts to the multi-content form. Only
// messages that actually carry non-text parts use it; plain text stays
// in Content.
func (p *OpenAI) convertParts(msg models.ChatMessage) []openai.ChatMessagePart {
	if len(msg.Parts) == 0 {
		return nil
	}
	var parts []openai.ChatMessagePart
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, part := range msg.Parts {
		switch part.Type {
		case models.PartText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case models.PartImage:
			url := part.DataURL
			if url == "" && part.DataBase64 != "" {
				url = models.DataURL(part.MimeType, part.DataBase64)
			}
			if url == "" {
				continue
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		case models.PartJSON:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: string(part.JSON),
			})
		default:
			// Audio and file parts have no chat-completions slot; name
			// them so the model knows something was attached.
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: "[attachment: " + part.MimeType + "]",
			})
		}
	}
	return parts
}

func (p *OpenAI) convertTools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		def := &openai.FunctionDefinition{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		}
		if len(tool.Function.Parameters) > 0 {
			def.Parameters = json.RawMessage(tool.Function.Parameters)
		}
		out = append(out, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}
	return out
}
