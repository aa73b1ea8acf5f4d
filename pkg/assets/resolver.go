package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
)

// Resolver moves binary data in and out of the asset store: inbound it
// saves inline base64/data-URL payloads and hands back asset refs,
// outbound it substitutes refs with provider-appropriate inline data.
type Resolver struct {
	store Store
}

// NewResolver wraps a store. A nil store disables asset handling; every
// method then passes data through untouched.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Enabled reports whether an asset store is configured.
func (r *Resolver) Enabled() bool {
	return r != nil && r.store != nil
}

// Store exposes the underlying store (nil when disabled).
func (r *Resolver) Store() Store {
	if r == nil {
		return nil
	}
	return r.store
}

// SaveBase64 decodes and stores a base64 payload, returning the asset.
func (r *Resolver) SaveBase64(ctx context.Context, b64, mimeType string) (*models.Asset, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return r.store.Save(ctx, bytes.NewReader(data), SaveOptions{MimeType: mimeType})
}

// SaveDataURL parses and stores a data: URL, returning the asset.
func (r *Resolver) SaveDataURL(ctx context.Context, dataURL string) (*models.Asset, error) {
	mimeType, b64, ok := models.ParseDataURL(dataURL)
	if !ok {
		return nil, fmt.Errorf("invalid data url")
	}
	return r.SaveBase64(ctx, b64, mimeType)
}

// ResolveRef loads the bytes behind an asset://<id> URI.
func (r *Resolver) ResolveRef(ctx context.Context, ref string) ([]byte, *models.Asset, error) {
	id, ok := models.ParseAssetRef(ref)
	if !ok {
		return nil, nil, fmt.Errorf("invalid asset ref %q", ref)
	}
	return r.store.Get(ctx, id)
}

// InlinePart substitutes a part's asset ref with inline data for a
// provider turn: data URLs for images and files, base64 for audio.
// Parts without an asset ref pass through unchanged.
func (r *Resolver) InlinePart(ctx context.Context, part models.ContentPart) (models.ContentPart, error) {
	if part.AssetRef == "" || !r.Enabled() {
		return part, nil
	}

	data, asset, err := r.ResolveRef(ctx, part.AssetRef)
	if err != nil {
		return part, err
	}
	mimeType := part.MimeType
	if mimeType == "" {
		mimeType = asset.MimeType
	}
	b64 := base64.StdEncoding.EncodeToString(data)

	resolved := part
	resolved.AssetRef = ""
	resolved.MimeType = mimeType
	switch part.Type {
	case models.PartAudio:
		resolved.DataBase64 = b64
	default:
		resolved.DataURL = models.DataURL(mimeType, b64)
	}
	return resolved, nil
}
