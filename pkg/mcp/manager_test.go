package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/config"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

// testServer holds an in-memory server and its client-side transport.
type testServer struct {
	clientTransport *mcpsdk.InMemoryTransport
}

func startTestServer(t *testing.T, name string, handlers map[string]mcpsdk.ToolHandler) *testServer {
	t.Helper()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range handlers {
		server.AddTool(&mcpsdk.Tool{
			Name:        toolName,
			Description: "test tool: " + toolName,
			InputSchema: emptySchema,
		}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	go func() {
		_ = server.Run(context.Background(), serverTransport)
	}()
	return &testServer{clientTransport: clientTransport}
}

// connectManager wires a manager to an in-memory server.
func connectManager(t *testing.T, server string, transport *mcpsdk.InMemoryTransport) *Manager {
	t.Helper()

	m := NewManager(nil)
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "copilotz-test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), transport, nil)
	require.NoError(t, err)

	m.InjectSession(server, client, session)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func echoHandler(_ context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var parsed map[string]any
	_ = json.Unmarshal(req.Params.Arguments, &parsed)
	city, _ := parsed["city"].(string)
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: `{"city":"` + city + `","high":28}`}},
	}, nil
}

func TestManagerListTools(t *testing.T) {
	ts := startTestServer(t, "weather", map[string]mcpsdk.ToolHandler{
		"forecast": echoHandler,
		"alerts": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "none"}},
			}, nil
		},
	})
	m := connectManager(t, "weather", ts.clientTransport)

	listed, err := m.ListTools(context.Background(), "weather")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	t.Run("second call hits the cache", func(t *testing.T) {
		again, err := m.ListTools(context.Background(), "weather")
		require.NoError(t, err)
		assert.Len(t, again, 2)
	})

	t.Run("unknown server errors", func(t *testing.T) {
		_, err := m.ListTools(context.Background(), "nope")
		assert.Error(t, err)
	})
}

func TestManagerCallTool(t *testing.T) {
	ts := startTestServer(t, "weather", map[string]mcpsdk.ToolHandler{
		"forecast": echoHandler,
		"broken": func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "backend unavailable"}},
				IsError: true,
			}, nil
		},
	})
	m := connectManager(t, "weather", ts.clientTransport)

	t.Run("call reaches the server", func(t *testing.T) {
		result, err := m.CallTool(context.Background(), "weather", "forecast", map[string]any{"city": "Lisbon"})
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Contains(t, extractTextContent(result), "Lisbon")
	})

	t.Run("tool-level errors come back with IsError", func(t *testing.T) {
		result, err := m.CallTool(context.Background(), "weather", "broken", nil)
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestManagerTools(t *testing.T) {
	ts := startTestServer(t, "weather", map[string]mcpsdk.ToolHandler{
		"forecast": echoHandler,
	})
	m := connectManager(t, "weather", ts.clientTransport)

	lowered := m.Tools(context.Background())
	require.Len(t, lowered, 1)
	tool := lowered[0]
	assert.Equal(t, "weather_forecast", tool.Key)
	assert.NotEmpty(t, tool.InputSchema)

	out, err := tool.Execute(context.Background(), map[string]any{"city": "Porto"}, nil)
	require.NoError(t, err)
	// JSON text results are decoded for the caller.
	assert.Equal(t, "Porto", out.(map[string]any)["city"])
}

func TestManagerInitializeUnknownServer(t *testing.T) {
	m := NewManager([]config.MCPServerConfig{{Name: "bad", Transport: "carrier-pigeon"}})
	require.NoError(t, m.Initialize(context.Background()))
	assert.Contains(t, m.FailedServers(), "bad")
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want RecoveryAction
	}{
		{"nil", nil, NoRetry},
		{"context canceled", context.Canceled, NoRetry},
		{"deadline exceeded", context.DeadlineExceeded, NoRetry},
		{"eof", io.EOF, RetryNewSession},
		{"connection refused", errors.New("dial tcp: connection refused"), RetryNewSession},
		{"broken pipe", errors.New("write: broken pipe"), RetryNewSession},
		{"protocol error", errors.New("jsonrpc2: method not found"), NoRetry},
		{"unknown", errors.New("something odd"), NoRetry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestSplitToolKey(t *testing.T) {
	server, tool, err := SplitToolKey("weather_get_forecast")
	require.NoError(t, err)
	assert.Equal(t, "weather", server)
	assert.Equal(t, "get_forecast", tool)

	_, _, err = SplitToolKey("nounderscore")
	assert.Error(t, err)
}
