package llm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

func TestTokenCounter(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	t.Run("count grows with text", func(t *testing.T) {
		assert.Zero(t, counter.Count(""))
		assert.Greater(t, counter.Count("hello world, this is a longer sentence"), counter.Count("hello"))
	})

	t.Run("unknown model falls back to cl100k_base", func(t *testing.T) {
		fallback, err := NewTokenCounter("some-model-tiktoken-never-heard-of")
		require.NoError(t, err)
		assert.Greater(t, fallback.Count("hello world"), 0)
	})
}

func TestTruncateHistory(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	history := func(n int) []models.ChatMessage {
		msgs := []models.ChatMessage{{Role: models.RoleSystem, Content: "system rules"}}
		for i := 0; i < n; i++ {
			msgs = append(msgs, models.ChatMessage{
				Role:    models.RoleUser,
				Content: fmt.Sprintf("[u]: message number %d with some filler words to cost tokens", i),
			})
		}
		return msgs
	}

	t.Run("zero budget disables truncation", func(t *testing.T) {
		msgs := history(20)
		assert.Equal(t, msgs, counter.TruncateHistory(msgs, 0))
	})

	t.Run("under budget untouched", func(t *testing.T) {
		msgs := history(2)
		assert.Equal(t, msgs, counter.TruncateHistory(msgs, 100000))
	})

	t.Run("drops oldest first and keeps system turn", func(t *testing.T) {
		msgs := history(20)
		got := counter.TruncateHistory(msgs, 200)

		require.NotEmpty(t, got)
		assert.Equal(t, models.RoleSystem, got[0].Role)
		assert.Less(t, len(got), len(msgs))
		// The newest message always survives.
		assert.Equal(t, msgs[len(msgs)-1], got[len(got)-1])
	})

	t.Run("tight budget keeps system plus newest", func(t *testing.T) {
		msgs := history(20)
		got := counter.TruncateHistory(msgs, 1)
		require.Len(t, got, 2)
		assert.Equal(t, models.RoleSystem, got[0].Role)
		assert.Equal(t, msgs[len(msgs)-1], got[1])
	})
}
