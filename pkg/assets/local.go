package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/copilotz/copilotz/pkg/models"
)

// LocalStore keeps assets as flat files under one directory, named
// <id><ext> with the extension derived from the MIME type so lookups
// need no separate index.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates the directory if needed and returns the store.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset directory: %w", err)
	}
	return &LocalStore{basePath: basePath}, nil
}

// Save writes to a temp file and renames it into place so readers never
// observe partial writes.
func (s *LocalStore) Save(_ context.Context, data io.Reader, opts SaveOptions) (*models.Asset, error) {
	id := uuid.New().String()
	filePath := filepath.Join(s.basePath, id+extensionForMime(opts.MimeType))

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	size, err := io.Copy(f, data)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write asset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close asset file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename asset file: %w", err)
	}

	return &models.Asset{
		ID:        id,
		MimeType:  opts.MimeType,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Get reads the asset bytes and rebuilds the descriptor from the file.
func (s *LocalStore) Get(ctx context.Context, id string) ([]byte, *models.Asset, error) {
	path, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read asset: %w", err)
	}
	asset, err := s.describe(id, path)
	if err != nil {
		return nil, nil, err
	}
	return data, asset, nil
}

// Head returns the descriptor without reading the bytes.
func (s *LocalStore) Head(_ context.Context, id string) (*models.Asset, error) {
	path, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.describe(id, path)
}

// Delete removes the asset file if present.
func (s *LocalStore) Delete(_ context.Context, id string) error {
	path, err := s.lookup(id)
	if err != nil {
		if errors.Is(err, ErrAssetNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	return nil
}

// Close releases nothing for the local store.
func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) lookup(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.basePath, id+".*"))
	if err != nil {
		return "", fmt.Errorf("failed to locate asset: %w", err)
	}
	for _, m := range matches {
		if filepath.Ext(m) == ".tmp" {
			continue
		}
		return m, nil
	}
	return "", fmt.Errorf("%w: %s", ErrAssetNotFound, id)
}

func (s *LocalStore) describe(id, path string) (*models.Asset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset: %w", err)
	}
	return &models.Asset{
		ID:        id,
		MimeType:  mimeForExtension(filepath.Ext(path)),
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}
