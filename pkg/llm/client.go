// Package llm defines the provider-neutral streaming client interface,
// the request builder that prepares LLM_CALL payloads, and the stream
// filter/parser for the inline tool-call text protocol.
package llm

import (
	"context"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
)

// Request is one provider-neutral chat completion request.
type Request struct {
	Model    string
	Messages []models.ChatMessage
	Tools    []models.ToolDefinition
	Config   models.LLMConfig
}

// Client is the streaming interface every provider adapter implements.
type Client interface {
	// Stream sends the request and returns a channel of chunks. The
	// channel is closed when the stream completes; provider failures
	// are delivered as ErrorChunk values.
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)

	// Close releases provider resources.
	Close() error
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() ChunkType
}

// ChunkType identifies the kind of streaming chunk.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// TextChunk is a delta of the assistant's text response.
type TextChunk struct{ Content string }

// ToolCallChunk is a complete native tool call from providers that
// support structured function calling.
type ToolCallChunk struct{ ID, Name, Arguments string }

// UsageChunk reports token consumption for the call.
type UsageChunk struct{ InputTokens, OutputTokens, TotalTokens int }

// ErrorChunk signals a provider failure mid-stream.
type ErrorChunk struct {
	Message string
	Err     error
}

func (c *TextChunk) chunkType() ChunkType     { return ChunkTypeText }
func (c *ToolCallChunk) chunkType() ChunkType { return ChunkTypeToolCall }
func (c *UsageChunk) chunkType() ChunkType    { return ChunkTypeUsage }
func (c *ErrorChunk) chunkType() ChunkType    { return ChunkTypeError }

// Response holds the fully-collected result of one streaming call.
type Response struct {
	// Raw is the accumulated text exactly as the provider produced it,
	// including any <tool_calls> blocks.
	Raw string
	// ToolCalls are native (structured) tool calls; inline text-protocol
	// calls are parsed from Raw separately.
	ToolCalls []models.ToolCall
	Usage     *models.Usage
}

// TextCallback observes visible text deltas during collection.
type TextCallback func(delta string)

// Collect drains a chunk channel into a Response. The filter elides
// <tool_calls> blocks from the deltas passed to cb while Raw accumulates
// everything. cb may be nil.
func Collect(stream <-chan Chunk, filter *StreamFilter, cb TextCallback) (*Response, error) {
	resp := &Response{}
	var raw strings.Builder

	for chunk := range stream {
		switch c := chunk.(type) {
		case *TextChunk:
			raw.WriteString(c.Content)
			visible := c.Content
			if filter != nil {
				visible = filter.Write(c.Content)
			}
			if cb != nil && visible != "" {
				cb(visible)
			}
		case *ToolCallChunk:
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID: c.ID,
				Function: models.FunctionCall{
					Name:      c.Name,
					Arguments: c.Arguments,
				},
			})
		case *UsageChunk:
			resp.Usage = &models.Usage{
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				TotalTokens:  c.TotalTokens,
			}
		case *ErrorChunk:
			if c.Err != nil {
				return nil, c.Err
			}
			return nil, models.NewRunError(models.KindProviderError, "%s", c.Message)
		}
	}

	if filter != nil {
		if tail := filter.Flush(); tail != "" && cb != nil {
			cb(tail)
		}
	}
	resp.Raw = raw.String()
	return resp, nil
}
