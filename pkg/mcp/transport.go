package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/copilotz/copilotz/pkg/config"
)

// createTransport builds an SDK transport from a server's config.
func createTransport(cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case "stdio":
		return createStdioTransport(cfg)
	case "http":
		return createHTTPTransport(cfg)
	case "sse":
		return createSSETransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Transport)
	}
}

func createStdioTransport(cfg config.MCPServerConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio transport requires command")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	// Inherit the parent environment plus config overrides; template
	// vars in the overrides were resolved by the config loader.
	cmd.Env = append(os.Environ(), cfg.Env...)

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg config.MCPServerConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport requires url")
	}
	transport := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	if len(cfg.Headers) > 0 {
		transport.HTTPClient = headerClient(cfg.Headers)
	}
	return transport, nil
}

func createSSETransport(cfg config.MCPServerConfig) (*mcpsdk.SSEClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse transport requires url")
	}
	transport := &mcpsdk.SSEClientTransport{Endpoint: cfg.URL}
	if len(cfg.Headers) > 0 {
		transport.HTTPClient = headerClient(cfg.Headers)
	}
	return transport, nil
}

func headerClient(headers map[string]string) *http.Client {
	return &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
	}
}

// headerTransport injects configured headers (auth usually) into every
// request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, val := range t.headers {
		req.Header.Set(key, val)
	}
	return t.base.RoundTrip(req)
}
