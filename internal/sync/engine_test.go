package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetsync/internal/store"
)

func TestDrainReplaysInOrder(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "rentals", `{"car_id":1}`)
	enqueue(t, st, store.ActionUpdate, "cars", `{"id":1,"status":"rented"}`)
	enqueue(t, st, store.ActionDelete, "cars", `{"id":2}`)

	rec := &eventRecorder{}
	c.Subscribe(rec.listen)

	require.NoError(t, c.Drain(ctx))

	calls := be.callList()
	require.Len(t, calls, 3)
	require.Equal(t, "INSERT", calls[0].Action)
	require.Equal(t, "rentals", calls[0].Resource)
	require.Equal(t, "UPDATE", calls[1].Action)
	require.Equal(t, "1", calls[1].ID)
	require.JSONEq(t, `{"status":"rented"}`, calls[1].Payload)
	require.Equal(t, "DELETE", calls[2].Action)
	require.Equal(t, "2", calls[2].ID)

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	require.Zero(t, c.PendingCount())

	synced := rec.ofType(EventSynced)
	require.Len(t, synced, 1)
	require.Equal(t, 3, synced[0].Count)

	status := c.Status()
	require.NotNil(t, status.LastSyncTime)
	require.WithinDuration(t, time.Now(), *status.LastSyncTime, 5*time.Second)
}

func TestDrainIsolatesFailedItem(t *testing.T) {
	be := &fakeBackend{
		failIf: func(c backendCall) error {
			if c.Action == "UPDATE" && c.ID == "2" {
				return errors.New("backend status 500")
			}
			return nil
		},
	}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "cars", `{"make":"Honda"}`)
	enqueue(t, st, store.ActionUpdate, "cars", `{"id":2,"status":"maintenance"}`)
	enqueue(t, st, store.ActionDelete, "cars", `{"id":3}`)

	rec := &eventRecorder{}
	c.Subscribe(rec.listen)

	require.NoError(t, c.Drain(ctx))

	// All three were attempted; the middle failure did not block the last.
	require.Len(t, be.callList(), 3)

	pending, err := st.QueueListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	failed, err := st.QueueListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, store.ActionUpdate, failed[0].Action)
	require.Equal(t, 1, failed[0].Attempts)
	require.Contains(t, failed[0].LastError.String, "backend status 500")

	synced := rec.ofType(EventSynced)
	require.Len(t, synced, 1)
	require.Equal(t, 2, synced[0].Count)

	// The failed mutation still shows up in the pending indicator.
	require.Equal(t, 1, c.PendingCount())
}

func TestDrainNoopWhenOffline(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(false)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "cars", `{"make":"Kia"}`)

	require.NoError(t, c.Drain(ctx))
	require.Empty(t, be.callList())

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDrainSingleFlight(t *testing.T) {
	be := &fakeBackend{
		started: make(chan struct{}),
		blockCh: make(chan struct{}),
	}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	enqueue(t, st, store.ActionInsert, "cars", `{"make":"Kia"}`)

	started := be.started
	done := make(chan error, 1)
	go func() { done <- c.Drain(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first drain never reached the backend")
	}

	// The overlap attempt returns immediately without touching the queue.
	require.NoError(t, c.Drain(ctx))
	require.Len(t, be.callList(), 1)
	require.True(t, c.IsSyncing())

	close(be.blockCh)
	require.NoError(t, <-done)
	require.False(t, c.IsSyncing())

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDrainReusesStoredIdempotencyKey(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	_, err := st.QueueAppend(ctx, &store.QueuedMutation{
		ClientKey: "fixed-key",
		Action:    store.ActionInsert,
		Resource:  "rentals",
		Payload:   []byte(`{"car_id":7}`),
	})
	require.NoError(t, err)

	require.NoError(t, c.Drain(ctx))

	calls := be.callList()
	require.Len(t, calls, 1)
	require.Equal(t, "fixed-key", calls[0].Key)
}

func TestRetryMutation(t *testing.T) {
	attempt := 0
	be := &fakeBackend{
		failIf: func(c backendCall) error {
			attempt++
			if attempt == 1 {
				return errors.New("temporarily unavailable")
			}
			return nil
		},
	}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(true)
	ctx := context.Background()

	id := enqueue(t, st, store.ActionInsert, "cars", `{"make":"Kia"}`)

	require.NoError(t, c.Drain(ctx))
	failed, err := st.QueueListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, c.RetryMutation(ctx, id))

	count, err := st.QueueCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	failed, err = st.QueueListFailed(ctx)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Len(t, be.callList(), 2)
}

func TestDiscardMutation(t *testing.T) {
	be := &fakeBackend{}
	c, st := newTestCoordinator(t, be)
	c.InitOnline(false)
	ctx := context.Background()

	id := enqueue(t, st, store.ActionDelete, "cars", `{"id":4}`)
	require.Equal(t, 0, c.PendingCount())
	c.refreshPendingCount(ctx)
	require.Equal(t, 1, c.PendingCount())

	require.NoError(t, c.DiscardMutation(ctx, id))

	require.Zero(t, c.PendingCount())
	require.Empty(t, be.callList())
}

func TestSplitUpdatePayload(t *testing.T) {
	id, patch, err := splitUpdatePayload([]byte(`{"id":7,"status":"completed","amount_paid":120}`))
	require.NoError(t, err)
	require.Equal(t, "7", id)
	require.JSONEq(t, `{"status":"completed","amount_paid":120}`, string(patch))

	_, _, err = splitUpdatePayload([]byte(`{"status":"completed"}`))
	require.Error(t, err)

	id, _, err = splitUpdatePayload([]byte(`{"id":"abc","x":1}`))
	require.NoError(t, err)
	require.Equal(t, "abc", id)
}
