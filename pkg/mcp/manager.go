// Package mcp connects to remote tool-protocol servers and publishes
// their tools into the tool registry under <server>_<tool> keys.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/version"
)

// Manager holds SDK sessions for the configured servers. Thread-safe:
// sessions may be used from multiple thread workers at once.
type Manager struct {
	configs map[string]config.MCPServerConfig

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client
	failedServers map[string]string // server → error message

	// Tool cache, populated on first ListTools and invalidated when a
	// session is recreated.
	toolCacheMu sync.RWMutex
	toolCache   map[string][]*mcpsdk.Tool

	// Per-server mutex serializing session (re)creation.
	reinitMu sync.Map // server → *sync.Mutex

	logger *slog.Logger
}

// NewManager builds a manager for the configured servers without
// connecting; call Initialize to connect.
func NewManager(servers []config.MCPServerConfig) *Manager {
	configs := make(map[string]config.MCPServerConfig, len(servers))
	for _, cfg := range servers {
		configs[cfg.Name] = cfg
	}
	return &Manager{
		configs:       configs,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		clients:       make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]*mcpsdk.Tool),
		logger:        slog.With("component", "mcp"),
	}
}

// Initialize connects to every configured server. Servers that fail to
// connect are recorded in FailedServers; the caller decides whether
// partial availability is acceptable.
func (m *Manager) Initialize(ctx context.Context) error {
	for name := range m.configs {
		if err := m.InitializeServer(ctx, name); err != nil {
			m.mu.Lock()
			m.failedServers[name] = err.Error()
			m.mu.Unlock()
			m.logger.Warn("MCP server failed to initialize", "server", name, "error", err)
		}
	}
	return nil
}

// InitializeServer connects to a single server. Returns nil if already
// connected. A per-server mutex prevents concurrent initialization of
// the same server.
func (m *Manager) InitializeServer(ctx context.Context, server string) error {
	muI, _ := m.reinitMu.LoadOrStore(server, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return m.initializeServerLocked(ctx, server)
}

// initializeServerLocked performs the connection. Caller must hold the
// per-server reinit mutex.
func (m *Manager) initializeServerLocked(ctx context.Context, server string) error {
	m.mu.RLock()
	if _, exists := m.sessions[server]; exists {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	cfg, ok := m.configs[server]
	if !ok {
		return fmt.Errorf("server %q is not configured", server)
	}

	transport, err := createTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", server, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it supports it so stdio child
		// processes are not leaked on failed handshakes.
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", server, err)
	}

	m.mu.Lock()
	m.sessions[server] = session
	m.clients[server] = client
	delete(m.failedServers, server)
	m.mu.Unlock()

	m.logger.Info("MCP server connected", "server", server)
	return nil
}

// FailedServers returns the servers that failed their last
// initialization attempt, keyed to the error message.
func (m *Manager) FailedServers() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.failedServers))
	for name, msg := range m.failedServers {
		out[name] = msg
	}
	return out
}

// ListTools returns the tools of one server, from cache when available.
func (m *Manager) ListTools(ctx context.Context, server string) ([]*mcpsdk.Tool, error) {
	// Lock ordering: never acquire m.mu while holding toolCacheMu.
	m.toolCacheMu.RLock()
	if cached, ok := m.toolCache[server]; ok {
		m.toolCacheMu.RUnlock()
		return cached, nil
	}
	m.toolCacheMu.RUnlock()

	m.mu.RLock()
	session, exists := m.sessions[server]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", server)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", server, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	m.toolCacheMu.Lock()
	m.toolCache[server] = tools
	m.toolCacheMu.Unlock()

	return tools, nil
}

// CallTool executes a tool on a server, with at most one retry after a
// jittered backoff. Transport failures recreate the session before the
// retry.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	params := &mcpsdk.CallToolParams{Name: tool, Arguments: args}

	result, err := m.callToolOnce(ctx, server, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	m.logger.Info("MCP call failed, retrying",
		"server", server, "tool", tool, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := m.recreateSession(ctx, server); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", server, err)
		}
	}

	result, err = m.callToolOnce(ctx, server, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s_%s: %w", server, tool, err)
	}
	return result, nil
}

func (m *Manager) callToolOnce(ctx context.Context, server string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	m.mu.RLock()
	session, exists := m.sessions[server]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", server)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recreateSession tears down and reconnects one server's session.
func (m *Manager) recreateSession(ctx context.Context, server string) error {
	muI, _ := m.reinitMu.LoadOrStore(server, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	m.mu.Lock()
	if session, exists := m.sessions[server]; exists {
		_ = session.Close()
		delete(m.sessions, server)
		delete(m.clients, server)
	}
	m.mu.Unlock()

	m.toolCacheMu.Lock()
	delete(m.toolCache, server)
	m.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return m.initializeServerLocked(reinitCtx, server)
}

// Close shuts down every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, session := range m.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", name, err)
		}
	}
	m.sessions = make(map[string]*mcpsdk.ClientSession)
	m.clients = make(map[string]*mcpsdk.Client)
	return firstErr
}
