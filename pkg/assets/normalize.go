package assets

import (
	"context"
	"strings"

	"github.com/copilotz/copilotz/pkg/models"
)

// CreatedAsset records one asset a normalization pass stored, so the
// caller can emit ASSET_CREATED events exactly once per asset.
type CreatedAsset struct {
	Asset *models.Asset
	Ref   string
	Kind  string
}

// KindForMime buckets a MIME type into an attachment kind.
func KindForMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return string(models.PartImage)
	case strings.HasPrefix(mimeType, "audio/"):
		return string(models.PartAudio)
	default:
		return string(models.PartFile)
	}
}

// NormalizeContent extracts inline binary from message content: binary
// parts are saved to the store and replaced with asset refs, and every
// non-text part contributes one attachment entry. With no store
// configured the parts pass through and attachments keep their inline
// data URL.
func (r *Resolver) NormalizeContent(ctx context.Context, content models.Content) (models.Content, []models.Attachment, []CreatedAsset, error) {
	if len(content.Parts) == 0 {
		return content, nil, nil, nil
	}

	var attachments []models.Attachment
	var created []CreatedAsset
	parts := make([]models.ContentPart, len(content.Parts))

	for i, part := range content.Parts {
		parts[i] = part
		if part.Type == models.PartText || part.Type == models.PartJSON {
			continue
		}

		att := models.Attachment{
			Kind:     string(part.Type),
			MimeType: part.MimeType,
			FileName: part.FileName,
			AssetRef: part.AssetRef,
		}

		if part.HasBinary() && r.Enabled() {
			asset, err := r.saveInline(ctx, part.DataBase64, part.DataURL, part.MimeType)
			if err != nil {
				return content, nil, nil, err
			}
			ref := models.AssetRef(asset.ID)
			parts[i].DataBase64 = ""
			parts[i].DataURL = ""
			parts[i].AssetRef = ref
			parts[i].MimeType = asset.MimeType
			att.AssetRef = ref
			att.MimeType = asset.MimeType
			created = append(created, CreatedAsset{Asset: asset, Ref: ref, Kind: string(part.Type)})
		} else if part.HasBinary() {
			// No store: keep the data URL on the attachment so the LLM
			// builder can still inline it.
			att.DataURL = part.DataURL
			if att.DataURL == "" && part.DataBase64 != "" {
				att.DataURL = models.DataURL(part.MimeType, part.DataBase64)
			}
		}
		attachments = append(attachments, att)
	}
	return models.Content{Parts: parts}, attachments, created, nil
}

// NormalizeValue walks an arbitrary decoded JSON value and replaces
// binary shapes with asset references: maps carrying dataBase64 or a
// data URL, and raw data URL strings, become {assetRef, mimeType, kind}
// objects. Without a configured store the value passes through.
func (r *Resolver) NormalizeValue(ctx context.Context, value any) (any, []CreatedAsset, error) {
	if !r.Enabled() {
		return value, nil, nil
	}
	return r.normalizeValue(ctx, value)
}

func (r *Resolver) normalizeValue(ctx context.Context, value any) (any, []CreatedAsset, error) {
	switch v := value.(type) {
	case string:
		if !strings.HasPrefix(v, "data:") {
			return value, nil, nil
		}
		mime, _, ok := models.ParseDataURL(v)
		if !ok {
			return value, nil, nil
		}
		asset, err := r.SaveDataURL(ctx, v)
		if err != nil {
			return nil, nil, err
		}
		ref := models.AssetRef(asset.ID)
		kind := KindForMime(mime)
		replaced := map[string]any{"assetRef": ref, "mimeType": asset.MimeType, "kind": kind}
		return replaced, []CreatedAsset{{Asset: asset, Ref: ref, Kind: kind}}, nil

	case map[string]any:
		if replaced, created, ok, err := r.normalizeBinaryMap(ctx, v); err != nil {
			return nil, nil, err
		} else if ok {
			return replaced, created, nil
		}
		var created []CreatedAsset
		out := make(map[string]any, len(v))
		for key, val := range v {
			normalized, sub, err := r.normalizeValue(ctx, val)
			if err != nil {
				return nil, nil, err
			}
			out[key] = normalized
			created = append(created, sub...)
		}
		return out, created, nil

	case []any:
		var created []CreatedAsset
		out := make([]any, len(v))
		for i, val := range v {
			normalized, sub, err := r.normalizeValue(ctx, val)
			if err != nil {
				return nil, nil, err
			}
			out[i] = normalized
			created = append(created, sub...)
		}
		return out, created, nil

	default:
		return value, nil, nil
	}
}

// normalizeBinaryMap recognizes the two binary map shapes:
// {mimeType, dataBase64} and {dataUrl: "data:..."}.
func (r *Resolver) normalizeBinaryMap(ctx context.Context, m map[string]any) (map[string]any, []CreatedAsset, bool, error) {
	if b64, ok := m["dataBase64"].(string); ok && b64 != "" {
		mime, _ := m["mimeType"].(string)
		asset, err := r.SaveBase64(ctx, b64, mime)
		if err != nil {
			return nil, nil, true, err
		}
		return assetRefMap(m, asset)
	}
	if dataURL, ok := m["dataUrl"].(string); ok && strings.HasPrefix(dataURL, "data:") {
		asset, err := r.SaveDataURL(ctx, dataURL)
		if err != nil {
			return nil, nil, true, err
		}
		return assetRefMap(m, asset)
	}
	return nil, nil, false, nil
}

func assetRefMap(original map[string]any, asset *models.Asset) (map[string]any, []CreatedAsset, bool, error) {
	kind, _ := original["kind"].(string)
	if kind == "" {
		kind = KindForMime(asset.MimeType)
	}
	ref := models.AssetRef(asset.ID)
	out := map[string]any{"assetRef": ref, "mimeType": asset.MimeType, "kind": kind}
	if name, ok := original["fileName"].(string); ok && name != "" {
		out["fileName"] = name
	}
	return out, []CreatedAsset{{Asset: asset, Ref: ref, Kind: kind}}, true, nil
}

// saveInline stores one inline payload given either base64 data or a
// data URL.
func (r *Resolver) saveInline(ctx context.Context, b64, dataURL, mimeType string) (*models.Asset, error) {
	if b64 != "" {
		return r.SaveBase64(ctx, b64, mimeType)
	}
	return r.SaveDataURL(ctx, dataURL)
}
