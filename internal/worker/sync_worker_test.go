package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sms-bridge/internal/config"
	"sms-bridge/internal/model"
	"sms-bridge/internal/service"
	"sms-bridge/internal/settings"
)

type fakeQueues struct {
	mu    sync.Mutex
	items []*model.SyncItem
	retry []*model.SyncItem
	audit []*model.AuditEvent
}

func (f *fakeQueues) PushSync(_ context.Context, item *model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
	return nil
}

func (f *fakeQueues) PopSync(_ context.Context) (*model.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, model.ErrQueueEmpty
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, nil
}

func (f *fakeQueues) PushRetry(_ context.Context, item *model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retry = append(f.retry, item)
	return nil
}

func (f *fakeQueues) DrainPending(_ context.Context) ([]*model.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := append(f.retry, f.items...)
	f.retry = nil
	f.items = nil
	return items, nil
}

func (f *fakeQueues) Requeue(_ context.Context, items []*model.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	return nil
}

func (f *fakeQueues) PushAudit(_ context.Context, event *model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(f.audit, event)
	return nil
}

func (f *fakeQueues) FlushAudit(_ context.Context, max int) ([]*model.AuditEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.audit) < max {
		max = len(f.audit)
	}
	events := f.audit[:max]
	f.audit = f.audit[max:]
	return events, nil
}

func (f *fakeQueues) RequeueAudit(_ context.Context, events []*model.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audit = append(events, f.audit...)
	return nil
}

func (f *fakeQueues) auditKinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, len(f.audit))
	for i, e := range f.audit {
		kinds[i] = e.Event
	}
	return kinds
}

func newSyncFixture(syncURL string) (*SyncWorker, *fakeQueues) {
	cfg := &config.Config{
		Bridge: config.BridgeConfig{
			AllowedPrefix:    "ONBOARD:",
			HashLength:       8,
			ChallengeTTL:     time.Minute,
			VerifiedTTL:      time.Minute,
			RateWindow:       time.Minute,
			CountThreshold:   5,
			AllowedCountries: []string{"+91"},
			SyncURL:          syncURL,
		},
		Workers: config.WorkersConfig{
			SyncInterval: 10 * time.Millisecond,
			SyncTimeout:  2 * time.Second,
		},
	}
	queues := &fakeQueues{}
	store := settings.NewStore(settings.Default(cfg))
	return NewSyncWorker(cfg, queues, store, service.NewAuditor(queues)), queues
}

func TestSyncWorkerDelivers(t *testing.T) {
	var mu sync.Mutex
	var received []*model.SyncItem
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var item model.SyncItem
		require.NoError(t, json.NewDecoder(r.Body).Decode(&item))
		mu.Lock()
		received = append(received, &item)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	worker, queues := newSyncFixture(backend.URL)
	queues.PushSync(context.Background(), &model.SyncItem{Mobile: "+919876543210", PIN: "482910", Token: "ABCD2345"})
	queues.PushSync(context.Background(), &model.SyncItem{Mobile: "+919876543211", PIN: "111111", Token: "EFGH6789"})

	worker.Drain(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, "+919876543210", received[0].Mobile)
	assert.Empty(t, queues.items)
	assert.Empty(t, queues.retry)
	assert.Equal(t, []string{model.EventSyncOK, model.EventSyncOK}, queues.auditKinds())
}

func TestSyncWorkerFailureGoesToRetry(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	worker, queues := newSyncFixture(backend.URL)
	item := &model.SyncItem{Mobile: "+919876543210", PIN: "482910", Token: "ABCD2345"}
	queues.PushSync(context.Background(), item)

	worker.Drain(context.Background())

	// Not dropped, not retried inline: parked on the retry queue.
	assert.Empty(t, queues.items)
	require.Len(t, queues.retry, 1)
	assert.Equal(t, item.Mobile, queues.retry[0].Mobile)
	assert.Equal(t, []string{model.EventSyncFailed}, queues.auditKinds())
}

func TestSyncWorkerUnreachableBackend(t *testing.T) {
	worker, queues := newSyncFixture("http://127.0.0.1:1/unreachable")
	queues.PushSync(context.Background(), &model.SyncItem{Mobile: "+919876543210", PIN: "482910", Token: "ABCD2345"})

	worker.Drain(context.Background())

	require.Len(t, queues.retry, 1)
}

func TestSyncWorkerStopsOnContextCancel(t *testing.T) {
	worker, _ := newSyncFixture("http://unused.invalid")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
