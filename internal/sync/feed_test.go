package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func cachedRows(t *testing.T, c *Coordinator, resource string) []map[string]any {
	t.Helper()
	entry, err := c.store.CacheGet(context.Background(), resource)
	require.NoError(t, err)
	require.NotNil(t, entry)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(entry.Value, &rows))
	return rows
}

func TestApplyRemoteChangeInsert(t *testing.T) {
	c, st := newTestCoordinator(t, &fakeBackend{})
	ctx := context.Background()

	require.NoError(t, st.CacheSet(ctx, "cars", []map[string]any{
		{"id": float64(1), "make": "Honda"},
	}))

	err := c.ApplyRemoteChange(ctx, ChangeEvent{
		Resource: "cars",
		Kind:     ChangeInsert,
		Record:   json.RawMessage(`{"id":2,"make":"Toyota"}`),
	})
	require.NoError(t, err)

	rows := cachedRows(t, c, "cars")
	require.Len(t, rows, 2)
	require.Equal(t, "Toyota", rows[1]["make"])
}

func TestApplyRemoteChangeInsertCreatesSnapshot(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeBackend{})
	ctx := context.Background()

	err := c.ApplyRemoteChange(ctx, ChangeEvent{
		Resource: "cars",
		Kind:     ChangeInsert,
		Record:   json.RawMessage(`{"id":1,"make":"Honda"}`),
	})
	require.NoError(t, err)

	rows := cachedRows(t, c, "cars")
	require.Len(t, rows, 1)
}

func TestApplyRemoteChangeUpdateMergesFields(t *testing.T) {
	c, st := newTestCoordinator(t, &fakeBackend{})
	ctx := context.Background()

	require.NoError(t, st.CacheSet(ctx, "cars", []map[string]any{
		{"id": float64(1), "make": "Honda", "status": "available"},
	}))

	err := c.ApplyRemoteChange(ctx, ChangeEvent{
		Resource: "cars",
		Kind:     ChangeUpdate,
		Record:   json.RawMessage(`{"id":1,"status":"rented"}`),
	})
	require.NoError(t, err)

	rows := cachedRows(t, c, "cars")
	require.Len(t, rows, 1)
	require.Equal(t, "rented", rows[0]["status"])
	// Fields absent from the patch survive.
	require.Equal(t, "Honda", rows[0]["make"])
}

func TestApplyRemoteChangeDelete(t *testing.T) {
	c, st := newTestCoordinator(t, &fakeBackend{})
	ctx := context.Background()

	require.NoError(t, st.CacheSet(ctx, "cars", []map[string]any{
		{"id": float64(1), "make": "Honda"},
		{"id": float64(2), "make": "Toyota"},
	}))

	err := c.ApplyRemoteChange(ctx, ChangeEvent{
		Resource: "cars",
		Kind:     ChangeDelete,
		Record:   json.RawMessage(`{"id":1}`),
	})
	require.NoError(t, err)

	rows := cachedRows(t, c, "cars")
	require.Len(t, rows, 1)
	require.Equal(t, "Toyota", rows[0]["make"])
}

func TestApplyRemoteChangeValidation(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeBackend{})
	ctx := context.Background()

	require.Error(t, c.ApplyRemoteChange(ctx, ChangeEvent{Kind: ChangeInsert, Record: json.RawMessage(`{"id":1}`)}))
	require.Error(t, c.ApplyRemoteChange(ctx, ChangeEvent{Resource: "cars", Kind: ChangeInsert}))
	require.Error(t, c.ApplyRemoteChange(ctx, ChangeEvent{Resource: "cars", Kind: ChangeInsert, Record: json.RawMessage(`{"make":"x"}`)}))
	require.Error(t, c.ApplyRemoteChange(ctx, ChangeEvent{Resource: "cars", Kind: "TRUNCATE", Record: json.RawMessage(`{"id":1}`)}))
}
