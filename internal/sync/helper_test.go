package sync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"fleetsync/internal/config"
	"fleetsync/internal/store"
)

// backendCall records one invocation against the fake backend.
type backendCall struct {
	Action   string
	Resource string
	ID       string
	Key      string
	Payload  string
}

// fakeBackend implements Backend for tests. failIf decides per call whether
// the backend pretends to be broken; blockCh, when set, parks every call
// until the channel is closed (used for concurrency tests).
type fakeBackend struct {
	mu      sync.Mutex
	calls   []backendCall
	failIf  func(c backendCall) error
	started chan struct{}
	blockCh chan struct{}
}

func (f *fakeBackend) record(c backendCall) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	started := f.started
	f.started = nil
	failIf := f.failIf
	blockCh := f.blockCh
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if blockCh != nil {
		<-blockCh
	}
	if failIf != nil {
		return failIf(c)
	}
	return nil
}

func (f *fakeBackend) Insert(ctx context.Context, resource string, rec json.RawMessage, key string) error {
	return f.record(backendCall{Action: "INSERT", Resource: resource, Key: key, Payload: string(rec)})
}

func (f *fakeBackend) Update(ctx context.Context, resource, id string, patch json.RawMessage) error {
	return f.record(backendCall{Action: "UPDATE", Resource: resource, ID: id, Payload: string(patch)})
}

func (f *fakeBackend) Delete(ctx context.Context, resource, id string) error {
	return f.record(backendCall{Action: "DELETE", Resource: resource, ID: id})
}

func (f *fakeBackend) List(ctx context.Context, resource string, filters map[string]string) (json.RawMessage, error) {
	err := f.record(backendCall{Action: "LIST", Resource: resource})
	return json.RawMessage(`[]`), err
}

func (f *fakeBackend) GetByID(ctx context.Context, resource, id string) (json.RawMessage, error) {
	err := f.record(backendCall{Action: "GET", Resource: resource, ID: id})
	return json.RawMessage(`{}`), err
}

func (f *fakeBackend) callList() []backendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]backendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func newTestCoordinator(t *testing.T, be Backend) (*Coordinator, store.Store) {
	t.Helper()
	st, err := store.NewStore(config.StateStorage{Type: "sqlite", FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := NewCoordinator(st, be, config.SyncConfig{ItemTimeout: "5s"})
	require.NoError(t, c.Init(context.Background()))
	return c, st
}

func enqueue(t *testing.T, st store.Store, action store.Action, resource, payload string) int64 {
	t.Helper()
	id, err := st.QueueAppend(context.Background(), &store.QueuedMutation{
		ClientKey: "key-" + payload,
		Action:    action,
		Resource:  resource,
		Payload:   json.RawMessage(payload),
	})
	require.NoError(t, err)
	return id
}

// eventRecorder collects events emitted by a coordinator.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
