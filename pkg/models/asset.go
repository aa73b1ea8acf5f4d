package models

import (
	"fmt"
	"strings"
	"time"
)

// AssetURIScheme prefixes every asset reference.
const AssetURIScheme = "asset://"

// Asset describes one stored binary. The bytes live in the asset store;
// messages and tool outputs reference them by asset://<id>.
type Asset struct {
	ID        string    `json:"id"`
	MimeType  string    `json:"mimeType,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssetRef builds the asset://<id> URI for an asset id.
func AssetRef(id string) string {
	return AssetURIScheme + id
}

// ParseAssetRef extracts the asset id from an asset:// URI.
func ParseAssetRef(ref string) (string, bool) {
	if !strings.HasPrefix(ref, AssetURIScheme) {
		return "", false
	}
	id := strings.TrimPrefix(ref, AssetURIScheme)
	if id == "" {
		return "", false
	}
	return id, true
}

// DataURL assembles a data: URL from a mime type and base64 payload.
func DataURL(mimeType, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// ParseDataURL splits a data: URL into mime type and base64 payload.
func ParseDataURL(url string) (mimeType, base64Data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	sep := strings.Index(rest, ";base64,")
	if sep < 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+len(";base64,"):], true
}
