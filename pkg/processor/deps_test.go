package processor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/queue"
	"github.com/copilotz/copilotz/pkg/services"
	"github.com/copilotz/copilotz/pkg/tools"
)

var tinyChartPNG = base64.StdEncoding.EncodeToString([]byte("png-bytes"))

// fixture wires a full Deps around an in-memory database and records
// every stream-only event a processor emits.
type fixture struct {
	deps    *Deps
	emitted []*models.Event
}

func newFixture(t *testing.T, agents ...config.AgentConfig) *fixture {
	t.Helper()
	client, err := database.Open(context.Background(), database.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	threads := services.NewThreadService(client)
	messages := services.NewMessageService(client)
	resolver := assets.NewResolver(assets.NewMemoryStore())

	f := &fixture{}
	f.deps = &Deps{
		Ops:      queue.NewOps(client),
		DB:       client,
		Threads:  threads,
		Messages: messages,
		Assets:   resolver,
		Agents:   config.NewAgentRegistry(agents),
		Tools:    tools.NewRegistry(),
		LLM:      llm.NewRegistry(),
		Builder:  llm.NewBuilder(threads, messages, resolver, 20, 1),
		Emit:     func(event *models.Event) { f.emitted = append(f.emitted, event) },
	}
	return f
}

// thread creates a thread with the given participants and installs it on
// deps, the way the dispatcher does before Process runs.
func (f *fixture) thread(t *testing.T, participants ...string) *models.Thread {
	t.Helper()
	thread, err := f.deps.Threads.CreateThread(context.Background(), models.ThreadSpec{
		Participants: participants,
	})
	require.NoError(t, err)
	f.deps.Thread = thread
	return thread
}

func (f *fixture) tokens() []string {
	var out []string
	for _, e := range f.emitted {
		if e.Type != models.EventToken {
			continue
		}
		var p models.TokenPayload
		if err := json.Unmarshal(e.Payload, &p); err == nil && !p.IsComplete {
			out = append(out, p.Token)
		}
	}
	return out
}

func makeEvent(t *testing.T, threadID string, eventType models.EventType, payload any) *models.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	now := time.Now().UTC()
	return &models.Event{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Type:      eventType,
		Payload:   data,
		TraceID:   uuid.NewString(),
		Status:    models.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testAgent(name string, allowedAgents ...string) config.AgentConfig {
	return config.AgentConfig{
		Name:          name,
		Role:          "assistant",
		AllowedAgents: allowedAgents,
		LLM:           models.LLMConfig{Provider: models.ProviderOpenAI, Model: "gpt-test"},
	}
}

// fakeLLM replays a scripted chunk sequence.
type fakeLLM struct {
	chunks  []llm.Chunk
	err     error
	lastReq *llm.Request
}

func (f *fakeLLM) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastReq = req
	ch := make(chan llm.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) Close() error { return nil }
