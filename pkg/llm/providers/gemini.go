package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
)

// Gemini streams generations from the Gemini API.
type Gemini struct {
	client       *genai.Client
	defaultModel string
}

// NewGemini builds the adapter from provider config.
func NewGemini(ctx context.Context, cfg config.ProviderConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, defaultModel: cfg.DefaultModel}, nil
}

// Close implements llm.Client; the SDK holds no persistent resources.
func (p *Gemini) Close() error { return nil }

// Stream sends the request and emits chunks until the stream ends.
func (p *Gemini) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	contents := p.convertMessages(req.Messages)
	genCfg := p.buildConfig(req)

	chunks := make(chan llm.Chunk)
	go func() {
		defer close(chunks)

		var usage *llm.UsageChunk
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, genCfg) {
			select {
			case <-ctx.Done():
				chunks <- &llm.ErrorChunk{Err: ctx.Err()}
				return
			default:
			}
			if err != nil {
				chunks <- &llm.ErrorChunk{Err: err, Message: err.Error()}
				return
			}
			if resp == nil {
				continue
			}

			if resp.UsageMetadata != nil {
				usage = &llm.UsageChunk{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						chunks <- &llm.TextChunk{Content: part.Text}
					}
					if part.FunctionCall != nil {
						args, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							args = []byte("{}")
						}
						chunks <- &llm.ToolCallChunk{
							Name:      part.FunctionCall.Name,
							Arguments: string(args),
						}
					}
				}
			}
		}
		if usage != nil {
			chunks <- usage
		}
	}()
	return chunks, nil
}

func (p *Gemini) buildConfig(req *llm.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system := systemText(req.Messages); system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Config.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Config.Temperature))
	}
	if req.Config.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*req.Config.TopP))
	}
	if req.Config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Config.MaxTokens)
	}
	if len(req.Config.StopSequences) > 0 {
		cfg.StopSequences = req.Config.StopSequences
	}
	if req.Config.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
			}
			if len(tool.Function.Parameters) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(tool.Function.Parameters, &schema); err == nil {
					decl.ParametersJsonSchema = schema
				}
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

func (p *Gemini) convertMessages(messages []models.ChatMessage) []*genai.Content {
	var out []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, part := range msg.Parts {
			switch {
			case part.Type == models.PartText && part.Text != "":
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			case part.Type == models.PartImage || part.Type == models.PartAudio:
				b64 := part.DataBase64
				mime := part.MimeType
				if b64 == "" && part.DataURL != "" {
					mime, b64, _ = models.ParseDataURL(part.DataURL)
				}
				if data, err := decodeBase64(b64); err == nil && len(data) > 0 {
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{MIMEType: mime, Data: data},
					})
				}
			case part.Type == models.PartJSON:
				content.Parts = append(content.Parts, &genai.Part{Text: string(part.JSON)})
			}
		}
		for _, call := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: call.Function.Name, Args: args},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}
