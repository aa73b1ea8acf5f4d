package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession wires a pre-connected SDK session into the manager.
// Intended for test infrastructure running in-memory servers without
// going through the real transport creation path.
func (m *Manager) InjectSession(server string, client *mcpsdk.Client, session *mcpsdk.ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[server] = session
	m.clients[server] = client
}
