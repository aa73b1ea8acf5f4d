package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

// recordingDispatch collects the order events were dispatched in.
type recordingDispatch struct {
	mu      sync.Mutex
	order   []string
	produce map[string][]models.ProducedEvent
	fail    map[string]error
}

func (d *recordingDispatch) fn(ctx context.Context, event *models.Event) ([]models.ProducedEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, event.ID)
	if err, ok := d.fail[event.ID]; ok {
		return nil, err
	}
	return d.produce[event.ID], nil
}

func (d *recordingDispatch) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func TestWorker_RunThreadDrainsInOrder(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		event, err := ops.Add(ctx, "thread-1", messageSpec(text))
		require.NoError(t, err)
		ids = append(ids, event.ID)
		time.Sleep(2 * time.Millisecond)
	}

	dispatch := &recordingDispatch{}
	var terminal []string
	worker := NewWorker(ops, dispatch.fn, func(event *models.Event) {
		terminal = append(terminal, event.ID)
		assert.Equal(t, models.StatusCompleted, event.Status)
	})

	require.NoError(t, worker.RunThread(ctx, "thread-1"))
	assert.Equal(t, ids, dispatch.dispatched())
	assert.Equal(t, ids, terminal)

	count, err := ops.CountPending(ctx, "thread-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWorker_ProducedEventsAreEnqueuedAndProcessed(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	seed, err := ops.Add(ctx, "thread-1", messageSpec("seed"))
	require.NoError(t, err)

	dispatch := &recordingDispatch{produce: map[string][]models.ProducedEvent{
		seed.ID: {{Spec: models.EventSpec{
			Type:    models.EventLLMCall,
			Payload: models.LLMCallPayload{AgentName: "a1"},
		}}},
	}}
	worker := NewWorker(ops, dispatch.fn, nil)

	require.NoError(t, worker.RunThread(ctx, "thread-1"))
	require.Len(t, dispatch.dispatched(), 2)

	followUp, err := ops.Get(ctx, dispatch.dispatched()[1])
	require.NoError(t, err)
	assert.Equal(t, models.EventLLMCall, followUp.Type)
	assert.Equal(t, models.StatusCompleted, followUp.Status)
}

func TestWorker_DispatchErrorFailsEventAndStops(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	bad, err := ops.Add(ctx, "thread-1", messageSpec("bad"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	pending, err := ops.Add(ctx, "thread-1", messageSpec("never-reached"))
	require.NoError(t, err)

	boom := models.NewRunError(models.KindProviderError, "stream failed")
	dispatch := &recordingDispatch{fail: map[string]error{bad.ID: boom}}
	worker := NewWorker(ops, dispatch.fn, nil)

	err = worker.RunThread(ctx, "thread-1")
	require.Error(t, err)
	assert.Equal(t, models.KindProviderError, models.KindOf(err))

	stored, err := ops.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)

	untouched, err := ops.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, untouched.Status)
}

func TestWorker_SupersededEventKeepsLoopAlive(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	first, err := ops.Add(ctx, "thread-1", messageSpec("replaced"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := ops.Add(ctx, "thread-1", messageSpec("kept"))
	require.NoError(t, err)

	dispatch := func(ctx context.Context, event *models.Event) ([]models.ProducedEvent, error) {
		if event.ID == first.ID {
			require.NoError(t, ops.MarkOverwritten(ctx, event.ID))
			return nil, ErrSuperseded
		}
		return nil, nil
	}

	var terminal []*models.Event
	worker := NewWorker(ops, dispatch, func(event *models.Event) {
		terminal = append(terminal, event)
	})
	require.NoError(t, worker.RunThread(ctx, "thread-1"))

	require.Len(t, terminal, 2)
	assert.Equal(t, models.StatusOverwritten, terminal[0].Status)
	assert.Equal(t, models.StatusCompleted, terminal[1].Status)

	stored, err := ops.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOverwritten, stored.Status)
	stored, err = ops.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestWorker_RunThreadOnDrainedThreadIsNoOp(t *testing.T) {
	ops := newTestOps(t)
	dispatch := &recordingDispatch{}
	worker := NewWorker(ops, dispatch.fn, nil)

	require.NoError(t, worker.RunThread(context.Background(), "empty-thread"))
	assert.Empty(t, dispatch.dispatched())
}

func TestWorker_YieldsWhenAnotherConsumerHoldsTheThread(t *testing.T) {
	ops := newTestOps(t)
	ctx := context.Background()

	held, err := ops.Add(ctx, "thread-1", messageSpec("in-flight"))
	require.NoError(t, err)
	require.NoError(t, ops.Claim(ctx, held.ID))

	dispatch := &recordingDispatch{}
	worker := NewWorker(ops, dispatch.fn, nil)
	require.NoError(t, worker.RunThread(ctx, "thread-1"))
	assert.Empty(t, dispatch.dispatched())
}

// Completion order must match the priority/createdAt/id pending order,
// for any priority assignment.
func TestWorker_CompletionOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)
	properties.Property("completed order respects pending order", prop.ForAll(
		func(priorities []int) bool {
			ops := newPropertyOps(t)
			ctx := context.Background()
			threadID := fmt.Sprintf("prop-%d", time.Now().UnixNano())

			type ranked struct {
				id       string
				priority int
				seq      int
			}
			var expected []ranked
			for i, priority := range priorities {
				spec := messageSpec(fmt.Sprintf("m%d", i))
				spec.Priority = priority
				event, err := ops.Add(ctx, threadID, spec)
				if err != nil {
					return false
				}
				expected = append(expected, ranked{id: event.ID, priority: priority, seq: i})
				time.Sleep(2 * time.Millisecond)
			}

			dispatch := &recordingDispatch{}
			worker := NewWorker(ops, dispatch.fn, nil)
			if err := worker.RunThread(ctx, threadID); err != nil {
				return false
			}

			// Stable sort by priority desc preserves insertion order as
			// the createdAt tiebreaker.
			want := make([]ranked, len(expected))
			copy(want, expected)
			for i := 1; i < len(want); i++ {
				for j := i; j > 0 && want[j].priority > want[j-1].priority; j-- {
					want[j], want[j-1] = want[j-1], want[j]
				}
			}

			got := dispatch.dispatched()
			if len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i].id {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)),
	))
	properties.TestingRun(t)
}

// newPropertyOps shares one database across property iterations; thread
// ids keep the iterations isolated.
var propertyOps *Ops
var propertyOpsOnce sync.Once

func newPropertyOps(t *testing.T) *Ops {
	propertyOpsOnce.Do(func() {
		propertyOps = newTestOps(t)
	})
	return propertyOps
}
