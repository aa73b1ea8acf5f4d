package database

import (
	"context"
	"sync"
)

// handleKey identifies one logical database for in-process reuse.
type handleKey struct {
	url     string
	syncURL string
}

var (
	cacheMu sync.Mutex
	handles = make(map[handleKey]*Client)
)

// Acquire returns the cached handle for (cfg.URL, cfg.SyncURL), opening
// and caching a new one on first use. The cache is process-scoped;
// callers release everything at once via Shutdown.
func Acquire(ctx context.Context, cfg Config) (*Client, error) {
	cfg.normalize()
	k := handleKey{url: cfg.URL, syncURL: cfg.SyncURL}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	if c, ok := handles[k]; ok {
		return c, nil
	}
	c, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	handles[k] = c
	return c, nil
}

// Shutdown closes every cached handle and empties the cache. The first
// close error is returned; remaining handles are still closed.
func Shutdown() error {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	var firstErr error
	for k, c := range handles {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(handles, k)
	}
	return firstErr
}
