package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetsync/internal/store"
)

func TestQueueActionOnlineSuccess(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	res, err := c.QueueAction(ctx, store.ActionInsert, "cars", map[string]any{"make": "Honda"}, QueueOptions{})
	require.NoError(t, err)
	require.True(t, res.Synced)
	require.False(t, res.Queued)

	calls := be.callList()
	require.Len(t, calls, 1)
	require.Equal(t, "INSERT", calls[0].Action)
	require.NotEmpty(t, calls[0].Key)

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestQueueActionOnlineFailureDegradesToQueue(t *testing.T) {
	be := &fakeBackend{
		failIf: func(backendCall) error { return errors.New("connection refused") },
	}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	rec := &eventRecorder{}
	c.Subscribe(rec.listen)

	res, err := c.QueueAction(ctx, store.ActionUpdate, "cars", map[string]any{"id": 7, "status": "maintenance"}, QueueOptions{})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.False(t, res.Synced)

	pending, err := st.QueueListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, store.ActionUpdate, pending[0].Action)
	require.Equal(t, "cars", pending[0].Resource)
	require.JSONEq(t, `{"id":7,"status":"maintenance"}`, string(pending[0].Payload))

	require.Equal(t, 1, c.PendingCount())

	queued := rec.ofType(EventQueued)
	require.Len(t, queued, 1)
	require.Equal(t, 1, queued[0].Count)
}

func TestQueueActionQueuedKeyMatchesImmediateAttempt(t *testing.T) {
	be := &fakeBackend{
		failIf: func(backendCall) error { return errors.New("gateway timeout") },
	}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	_, err := c.QueueAction(ctx, store.ActionInsert, "rentals", map[string]any{"car_id": 3}, QueueOptions{})
	require.NoError(t, err)

	calls := be.callList()
	require.Len(t, calls, 1)

	pending, err := st.QueueListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	// The queued replay carries the key the failed attempt already used, so
	// the backend can dedupe if the first attempt actually landed.
	require.Equal(t, calls[0].Key, pending[0].ClientKey)
}

func TestQueueActionOfflineQueuesWithoutNetwork(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(false)
	ctx := context.Background()

	res, err := c.QueueAction(ctx, store.ActionInsert, "cars", map[string]any{"make": "Kia"}, QueueOptions{})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Empty(t, be.callList())

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQueueActionForceQueue(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	res, err := c.QueueAction(ctx, store.ActionDelete, "cars", map[string]any{"id": 9}, QueueOptions{ForceQueue: true})
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Empty(t, be.callList())

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestInitReadsDurableQueue(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "cars", `{"make":"Kia"}`)
	enqueue(t, st, store.ActionInsert, "cars", `{"make":"BMW"}`)

	require.NoError(t, c.Init(ctx))
	require.Equal(t, 2, c.PendingCount())
}

func TestSetOnlineTransitionDrainsOnce(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(false)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "cars", `{"make":"Honda"}`)

	rec := &eventRecorder{}
	c.Subscribe(rec.listen)

	c.SetOnline(true)
	// Staying online must not retrigger anything.
	c.SetOnline(true)

	require.Eventually(t, func() bool {
		count, err := st.QueueCount(ctx)
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)

	require.Len(t, rec.ofType(EventOnline), 1)
	require.Len(t, be.callList(), 1)
}

func TestSetOnlineOfflineTransitionNotifies(t *testing.T) {
	be := &fakeBackend{}
	c, _ := newTestCoordinator(t, be)
	c.InitOnline(true)

	rec := &eventRecorder{}
	c.Subscribe(rec.listen)

	c.SetOnline(false)
	c.SetOnline(false)

	require.False(t, c.IsOnline())
	require.Len(t, rec.ofType(EventOffline), 1)
	require.Empty(t, be.callList())
}
