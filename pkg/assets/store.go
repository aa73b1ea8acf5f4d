// Package assets stores out-of-band binaries referenced from messages
// and tool outputs via asset://<id> URIs.
package assets

import (
	"context"
	"errors"
	"io"

	"github.com/copilotz/copilotz/pkg/models"
)

// ErrAssetNotFound is returned when an asset id resolves to nothing.
var ErrAssetNotFound = errors.New("asset not found")

// SaveOptions carries optional descriptors for a stored asset.
type SaveOptions struct {
	MimeType string
	FileName string
}

// Store persists asset bytes. Save and Get are safe for concurrent use.
type Store interface {
	// Save stores the reader's bytes and returns the asset descriptor.
	Save(ctx context.Context, data io.Reader, opts SaveOptions) (*models.Asset, error)
	// Get returns the asset bytes and descriptor.
	Get(ctx context.Context, id string) ([]byte, *models.Asset, error)
	// Head returns the descriptor without fetching the bytes.
	Head(ctx context.Context, id string) (*models.Asset, error)
	// Delete removes the asset. Deleting a missing asset is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases any resources held by the store.
	Close() error
}

// extensionForMime returns a file extension for a MIME type.
func extensionForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	default:
		return ".bin"
	}
}

// mimeForExtension is the reverse of extensionForMime.
func mimeForExtension(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".mp4":
		return "video/mp4"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
