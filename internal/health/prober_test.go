package health

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/provider"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	failures map[string]error
}

func (f *fakeBackend) Complete(ctx context.Context, model string, messages []provider.Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.failures[model]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "ok", nil
}

func (f *fakeBackend) GenerateImage(ctx context.Context, model, prompt, size string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	f.calls++
	err := f.failures[model]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "http://example.com/image.png", nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]db.SystemState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]db.SystemState)}
}

func (f *fakeStateStore) GetSystemState(ctx context.Context, key string) (*db.SystemState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStateStore) SetSystemState(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = db.SystemState{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeStateStore) seed(key, value string, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[key] = db.SystemState{Key: key, Value: value, UpdatedAt: updatedAt}
}

func proberConfig() *config.Config {
	return &config.Config{
		Models: config.ModelsConfig{
			Categories:  map[string][]string{"Test": {"text-a", "text-b"}},
			ImageModels: []string{"img-a"},
		},
		Probe: config.ProbeConfig{
			Interval:     time.Minute,
			Freshness:    10 * time.Minute,
			TextTimeout:  time.Second,
			ImageTimeout: time.Second,
		},
		Quota: config.QuotaConfig{UTCOffsetHours: 3},
	}
}

func TestProber_ProbeAllStatusMapping(t *testing.T) {
	backend := &fakeBackend{failures: map[string]error{
		"text-b": &provider.Error{Kind: provider.KindTimeout, Model: "text-b"},
		"img-a":  &provider.Error{Kind: provider.KindAPI, Model: "img-a", StatusCode: 503},
	}}
	store := newFakeStateStore()
	registry := NewRegistry(zap.NewNop())
	prober := NewProber(backend, store, registry, nil, proberConfig(), zap.NewNop())

	statuses, err := prober.ProbeAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, statuses["text-a"])
	assert.Equal(t, "Timeout", statuses["text-b"])
	assert.Equal(t, "API Error 503", statuses["img-a"])

	// Applied atomically to the registry
	assert.True(t, registry.IsAvailable("text-a"))
	assert.False(t, registry.IsAvailable("text-b"))
	assert.False(t, registry.IsAvailable("img-a"))

	// Report groups working and failed models
	report := registry.Report()
	assert.Contains(t, report, "Working models (1)")
	assert.Contains(t, report, "Failed models (2)")
	assert.Contains(t, report, "text-b: Timeout")
	assert.Contains(t, report, "img-a: API Error 503")

	// Snapshot and report persisted for the next restart
	snapshot, err := store.GetSystemState(context.Background(), StateKeyModelStatus)
	require.NoError(t, err)
	require.NotNil(t, snapshot)

	persisted := map[string]string{}
	require.NoError(t, json.Unmarshal([]byte(snapshot.Value), &persisted))
	assert.Equal(t, statuses, persisted)

	lastReport, err := store.GetSystemState(context.Background(), StateKeyLastReport)
	require.NoError(t, err)
	require.NotNil(t, lastReport)
	assert.Equal(t, report, lastReport.Value)
}

func TestProber_EmptyCompletionCountsAsAlive(t *testing.T) {
	backend := &fakeBackend{failures: map[string]error{
		"text-a": &provider.Error{Kind: provider.KindEmpty, Model: "text-a"},
	}}
	store := newFakeStateStore()
	registry := NewRegistry(zap.NewNop())
	prober := NewProber(backend, store, registry, nil, proberConfig(), zap.NewNop())

	statuses, err := prober.ProbeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, statuses["text-a"])
}

func TestProber_StartupReconcileAdoptsFreshSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStateStore()
	registry := NewRegistry(zap.NewNop())
	prober := NewProber(backend, store, registry, nil, proberConfig(), zap.NewNop())

	raw, _ := json.Marshal(map[string]string{"text-a": StatusOK, "text-b": "Timeout"})
	store.seed(StateKeyModelStatus, string(raw), time.Now().UTC().Add(-5*time.Minute))
	store.seed(StateKeyLastReport, "old report", time.Now().UTC().Add(-5*time.Minute))

	require.NoError(t, prober.StartupReconcile(context.Background()))

	assert.Equal(t, 0, backend.callCount(), "fresh snapshot must not trigger a probe round")
	assert.True(t, registry.IsAvailable("text-a"))
	assert.False(t, registry.IsAvailable("text-b"))
	assert.Equal(t, "old report", registry.Report())
}

func TestProber_StartupReconcileProbesOnStaleSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStateStore()
	registry := NewRegistry(zap.NewNop())
	prober := NewProber(backend, store, registry, nil, proberConfig(), zap.NewNop())

	raw, _ := json.Marshal(map[string]string{"text-a": "Timeout"})
	store.seed(StateKeyModelStatus, string(raw), time.Now().UTC().Add(-20*time.Minute))
	store.seed(StateKeyLastReport, "stale report", time.Now().UTC().Add(-20*time.Minute))

	require.NoError(t, prober.StartupReconcile(context.Background()))

	// 2 text models + 1 image model probed
	assert.Equal(t, 3, backend.callCount())
	assert.True(t, registry.IsAvailable("text-a"), "fresh round overrides the stale snapshot")
}

func TestProber_StartupReconcileProbesWhenNoSnapshot(t *testing.T) {
	backend := &fakeBackend{}
	store := newFakeStateStore()
	registry := NewRegistry(zap.NewNop())
	prober := NewProber(backend, store, registry, nil, proberConfig(), zap.NewNop())

	require.NoError(t, prober.StartupReconcile(context.Background()))
	assert.Equal(t, 3, backend.callCount())
}
