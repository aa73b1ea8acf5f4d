package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
	PartFile  PartType = "file"
	PartJSON  PartType = "json"
)

// ContentPart is one typed segment of a multimodal message body.
// Binary parts arrive as DataBase64 or DataURL and are replaced with an
// AssetRef during normalization.
type ContentPart struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	MimeType   string          `json:"mimeType,omitempty"`
	FileName   string          `json:"fileName,omitempty"`
	DataBase64 string          `json:"dataBase64,omitempty"`
	DataURL    string          `json:"dataUrl,omitempty"`
	AssetRef   string          `json:"assetRef,omitempty"`
	JSON       json.RawMessage `json:"json,omitempty"`
}

// HasBinary reports whether the part still carries inline binary data.
func (p ContentPart) HasBinary() bool {
	return p.DataBase64 != "" || p.DataURL != ""
}

// Content is a message body: either a plain string or a list of typed
// parts. It marshals back to whichever form it was built from.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string as Content.
func TextContent(s string) Content {
	return Content{Text: s}
}

// PartsContent wraps a part list as Content.
func PartsContent(parts ...ContentPart) Content {
	return Content{Parts: parts}
}

// IsEmpty reports whether the content carries neither text nor parts.
func (c Content) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

// Flatten returns the concatenated text of the content, joining text
// parts with newlines. Non-text parts contribute nothing.
func (c Content) Flatten() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText && p.Text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// MarshalJSON emits a bare string for plain text and an array otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Parts) == 0 {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts a string, a part array, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*c = Content{}
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts}
		return nil
	}
	return fmt.Errorf("content must be a string or an array of parts")
}

// Attachment records one normalized binary carried by a message, stored
// under metadata as the attachments list.
type Attachment struct {
	Kind     string `json:"kind"`
	MimeType string `json:"mimeType,omitempty"`
	Format   string `json:"format,omitempty"`
	FileName string `json:"fileName,omitempty"`
	AssetRef string `json:"assetRef,omitempty"`
	DataURL  string `json:"dataUrl,omitempty"`
}
