package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/copilotz/copilotz/pkg/models"
)

// TokenCounter counts tokens with the encoding of a specific model,
// falling back to cl100k_base for models tiktoken does not know.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// NewTokenCounter returns a counter for the model, caching encodings
// process-wide because initialization loads BPE tables.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if cached, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: cached}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load token encoding: %w", err)
		}
	}
	encodingCache[model] = encoding
	return &TokenCounter{encoding: encoding}, nil
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// messageOverhead approximates per-turn formatting tokens (role markers
// and separators) on top of the content itself.
const messageOverhead = 4

// CountMessage returns the token cost of one chat turn.
func (tc *TokenCounter) CountMessage(msg models.ChatMessage) int {
	n := messageOverhead + tc.Count(msg.Content)
	for _, part := range msg.Parts {
		if part.Type == models.PartText {
			n += tc.Count(part.Text)
		}
	}
	for _, call := range msg.ToolCalls {
		n += tc.Count(call.Function.Name) + tc.Count(call.Function.Arguments)
	}
	return n
}

// TruncateHistory drops the oldest non-system turns until the total
// fits the budget. The system turn always survives; a budget of zero
// disables truncation.
func (tc *TokenCounter) TruncateHistory(messages []models.ChatMessage, budget int) []models.ChatMessage {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}

	total := 0
	for _, msg := range messages {
		total += tc.CountMessage(msg)
	}
	if total <= budget {
		return messages
	}

	start := 0
	var system []models.ChatMessage
	if messages[0].Role == models.RoleSystem {
		system = messages[:1]
		total -= tc.CountMessage(messages[0])
		budget -= tc.CountMessage(messages[0])
		start = 1
	}

	rest := messages[start:]
	for len(rest) > 1 && total > budget {
		total -= tc.CountMessage(rest[0])
		rest = rest[1:]
	}
	return append(append([]models.ChatMessage(nil), system...), rest...)
}
