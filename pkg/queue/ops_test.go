package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/services"
)

func newTestOps(t *testing.T) *Ops {
	t.Helper()
	client, err := database.Open(context.Background(), database.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewOps(client)
}

func messageSpec(text string) models.EventSpec {
	return models.EventSpec{
		Type: models.EventNewMessage,
		Payload: models.NewMessagePayload{
			Content: models.TextContent(text),
			Sender:  models.Sender{Type: models.SenderUser, Name: "user"},
		},
	}
}

func TestOps_AddAndNextPendingRoundTrip(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	added, err := ops.Add(ctx, "thread-1", messageSpec("hello"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, added.Status)
	assert.NotEmpty(t, added.ID)

	next, err := ops.NextPending(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, added.ID, next.ID)
	assert.JSONEq(t, string(added.Payload), string(next.Payload))

	var payload models.NewMessagePayload
	require.NoError(t, next.DecodePayload(&payload))
	assert.Equal(t, "hello", payload.Content.Text)
	assert.Equal(t, models.SenderUser, payload.Sender.Type)
}

func TestOps_NextPendingOrder(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	specLow := messageSpec("low")
	specHigh := messageSpec("high")
	specHigh.Priority = 5

	first, err := ops.Add(ctx, "thread-1", specLow)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := ops.Add(ctx, "thread-1", specHigh)
	require.NoError(t, err)

	// Priority wins over insertion order.
	next, err := ops.NextPending(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)

	require.NoError(t, ops.Claim(ctx, second.ID))
	require.NoError(t, ops.UpdateStatus(ctx, second.ID, models.StatusCompleted))

	next, err = ops.NextPending(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)
}

func TestOps_TTLDerivesExpiresAt(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	spec := messageSpec("short-lived")
	spec.TTLMs = 60_000
	added, err := ops.Add(ctx, "thread-1", spec)
	require.NoError(t, err)
	require.NotNil(t, added.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Minute), *added.ExpiresAt, 5*time.Second)

	// An explicit deadline wins over ttlMs.
	deadline := time.Now().UTC().Add(time.Hour)
	spec = messageSpec("explicit")
	spec.TTLMs = 1
	spec.ExpiresAt = &deadline
	added, err = ops.Add(ctx, "thread-2", spec)
	require.NoError(t, err)
	require.NotNil(t, added.ExpiresAt)
	assert.WithinDuration(t, deadline, *added.ExpiresAt, time.Second)
}

func TestOps_NextPendingSkipsAndExpiresDueEvents(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	spec := messageSpec("doomed")
	spec.TTLMs = 1
	added, err := ops.Add(ctx, "thread-1", spec)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	next, err := ops.NextPending(ctx, "thread-1")
	require.NoError(t, err)
	assert.Nil(t, next)

	stored, err := ops.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestOps_ClaimIsGuarded(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	added, err := ops.Add(ctx, "thread-1", messageSpec("contended"))
	require.NoError(t, err)

	require.NoError(t, ops.Claim(ctx, added.ID))
	err = ops.Claim(ctx, added.ID)
	assert.ErrorIs(t, err, services.ErrStaleStatus)
}

func TestOps_MarkOverwritten(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	added, err := ops.Add(ctx, "thread-1", messageSpec("preempted"))
	require.NoError(t, err)
	require.NoError(t, ops.MarkOverwritten(ctx, added.ID))

	stored, err := ops.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverwritten, stored.Status)

	// Terminal rows cannot be preempted again.
	err = ops.MarkOverwritten(ctx, added.ID)
	assert.ErrorIs(t, err, services.ErrStaleStatus)
}

func TestOps_StreamOnlyTypesAreRejected(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	_, err := ops.Add(ctx, "thread-1", models.EventSpec{Type: models.EventToken})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
	_, err = ops.Add(ctx, "thread-1", models.EventSpec{Type: models.EventAssetCreated})
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}

func TestOps_SweepExpired(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		spec := messageSpec("due")
		spec.TTLMs = 1
		_, err := ops.Add(ctx, "thread-sweep", spec)
		require.NoError(t, err)
	}
	fresh, err := ops.Add(ctx, "thread-sweep", messageSpec("fresh"))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	swept, err := ops.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	count, err := ops.CountPending(ctx, "thread-sweep")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := ops.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestOps_ListThreadEvents(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		_, err := ops.Add(ctx, "thread-list", messageSpec(text))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	all, err := ops.ListThreadEvents(ctx, "thread-list", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	limited, err := ops.ListThreadEvents(ctx, "thread-list", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	// Newest first.
	assert.Equal(t, all[0].ID, limited[0].ID)
}
