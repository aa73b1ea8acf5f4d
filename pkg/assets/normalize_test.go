package assets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

var tinyPNG = base64.StdEncoding.EncodeToString([]byte("not-really-a-png"))

func TestNormalizeContent_TextOnlyIsIdentity(t *testing.T) {
	r := NewResolver(NewMemoryStore())
	ctx := context.Background()

	content := models.TextContent("just words")
	normalized, attachments, created, err := r.NormalizeContent(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, content, normalized)
	assert.Empty(t, attachments)
	assert.Empty(t, created)

	// Text parts inside a parts list also pass through untouched.
	parts := models.Content{Parts: []models.ContentPart{
		{Type: models.PartText, Text: "hello"},
		{Type: models.PartJSON, JSON: json.RawMessage(`{"k":"v"}`)},
	}}
	normalized, attachments, created, err = r.NormalizeContent(ctx, parts)
	require.NoError(t, err)
	assert.Equal(t, parts.Parts, normalized.Parts)
	assert.Empty(t, attachments)
	assert.Empty(t, created)
}

func TestNormalizeContent_BinaryPartBecomesAssetRef(t *testing.T) {
	r := NewResolver(NewMemoryStore())
	ctx := context.Background()

	content := models.Content{Parts: []models.ContentPart{
		{Type: models.PartText, Text: "look at this"},
		{Type: models.PartImage, MimeType: "image/png", DataBase64: tinyPNG, FileName: "shot.png"},
	}}

	normalized, attachments, created, err := r.NormalizeContent(ctx, content)
	require.NoError(t, err)

	image := normalized.Parts[1]
	assert.Empty(t, image.DataBase64)
	assert.True(t, strings.HasPrefix(image.AssetRef, models.AssetURIScheme))

	require.Len(t, attachments, 1)
	assert.Equal(t, string(models.PartImage), attachments[0].Kind)
	assert.Equal(t, "image/png", attachments[0].MimeType)
	assert.Equal(t, "shot.png", attachments[0].FileName)
	assert.Equal(t, image.AssetRef, attachments[0].AssetRef)

	require.Len(t, created, 1)
	assert.Equal(t, image.AssetRef, created[0].Ref)

	// The stored bytes round-trip through the ref.
	data, asset, err := r.ResolveRef(ctx, image.AssetRef)
	require.NoError(t, err)
	assert.Equal(t, "not-really-a-png", string(data))
	assert.Equal(t, "image/png", asset.MimeType)
}

func TestNormalizeContent_NoStoreKeepsInlineData(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	content := models.Content{Parts: []models.ContentPart{
		{Type: models.PartImage, MimeType: "image/png", DataBase64: tinyPNG},
	}}

	normalized, attachments, created, err := r.NormalizeContent(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, tinyPNG, normalized.Parts[0].DataBase64)
	assert.Empty(t, created)
	require.Len(t, attachments, 1)
	assert.True(t, strings.HasPrefix(attachments[0].DataURL, "data:image/png;base64,"))
}

func TestNormalizeValue_BinaryShapes(t *testing.T) {
	r := NewResolver(NewMemoryStore())
	ctx := context.Background()

	t.Run("map with dataBase64", func(t *testing.T) {
		value := map[string]any{
			"result": map[string]any{
				"mimeType":   "image/png",
				"dataBase64": tinyPNG,
				"fileName":   "chart.png",
			},
		}
		normalized, created, err := r.NormalizeValue(ctx, value)
		require.NoError(t, err)
		require.Len(t, created, 1)

		result := normalized.(map[string]any)["result"].(map[string]any)
		assert.Equal(t, created[0].Ref, result["assetRef"])
		assert.Equal(t, "image/png", result["mimeType"])
		assert.Equal(t, "chart.png", result["fileName"])
		assert.NotContains(t, result, "dataBase64")
	})

	t.Run("raw data URL string", func(t *testing.T) {
		value := []any{"data:image/png;base64," + tinyPNG, "plain text"}
		normalized, created, err := r.NormalizeValue(ctx, value)
		require.NoError(t, err)
		require.Len(t, created, 1)

		list := normalized.([]any)
		ref := list[0].(map[string]any)
		assert.Equal(t, created[0].Ref, ref["assetRef"])
		assert.Equal(t, "plain text", list[1])
	})

	t.Run("plain values pass through", func(t *testing.T) {
		value := map[string]any{"status": "ok", "count": float64(3)}
		normalized, created, err := r.NormalizeValue(ctx, value)
		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Equal(t, value, normalized)
	})

	t.Run("no store passes through", func(t *testing.T) {
		disabled := NewResolver(nil)
		value := map[string]any{"dataBase64": tinyPNG, "mimeType": "image/png"}
		normalized, created, err := disabled.NormalizeValue(ctx, value)
		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Equal(t, value, normalized)
	})
}
