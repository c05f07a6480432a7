package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/gevsen/Mini-Arima/internal/config"
	"github.com/gevsen/Mini-Arima/internal/db"
	"github.com/gevsen/Mini-Arima/internal/health"
	"github.com/gevsen/Mini-Arima/internal/metrics"
	"github.com/gevsen/Mini-Arima/internal/orchestrator"
	"github.com/gevsen/Mini-Arima/internal/profile"
	"github.com/gevsen/Mini-Arima/internal/provider"
	"github.com/gevsen/Mini-Arima/internal/quota"
)

type fakeBackend struct {
	mu       sync.Mutex
	failures map[string]error
}

func (f *fakeBackend) Complete(ctx context.Context, model string, messages []provider.Message, temperature float64, maxTokens int, timeout time.Duration) (string, error) {
	f.mu.Lock()
	err := f.failures[model]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "reply from " + model, nil
}

func (f *fakeBackend) GenerateImage(ctx context.Context, model, prompt, size string, timeout time.Duration) (string, error) {
	return "https://img.example/" + model, nil
}

type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*db.User
	counts map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]*db.User{}, counts: map[string]int{}}
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UpsertUser(ctx context.Context, userID int64, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &db.User{ID: userID, Username: username, CreatedAt: time.Now().UTC()}
	}
	return nil
}

func (f *fakeStore) SetTier(ctx context.Context, userID int64, tier int, end time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.Tier = tier
		u.SubscriptionEnd = &end
	}
	return nil
}

func (f *fakeStore) SetBlocked(ctx context.Context, userID int64, blocked bool) error   { return nil }
func (f *fakeStore) SetVerified(ctx context.Context, userID int64, verified bool) error { return nil }
func (f *fakeStore) SetBonusGranted(ctx context.Context, userID int64, granted bool) error {
	return nil
}
func (f *fakeStore) SetInstruction(ctx context.Context, userID int64, instruction *string) error {
	return nil
}
func (f *fakeStore) SetTemperature(ctx context.Context, userID int64, temperature *float64) error {
	return nil
}
func (f *fakeStore) SetLastUsedModel(ctx context.Context, userID int64, model string) error {
	return nil
}
func (f *fakeStore) SetLastUsedImageModel(ctx context.Context, userID int64, model string) error {
	return nil
}

func (f *fakeStore) CountRequestsToday(ctx context.Context, userID int64, day string, mode db.RequestMode) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[fmt.Sprintf("%d|%s|%s", userID, day, mode)], nil
}

func (f *fakeStore) AppendRequest(ctx context.Context, userID int64, model, day string, mode db.RequestMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[fmt.Sprintf("%d|%s|%s", userID, day, mode)]++
	return nil
}

func (f *fakeStore) modeTotal(mode db.RequestMode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for key, n := range f.counts {
		if strings.HasSuffix(key, string(mode)) {
			total += n
		}
	}
	return total
}

func testConfig() *config.Config {
	return &config.Config{
		Provider: config.ProviderConfig{RequestTimeout: time.Second},
		Quota: config.QuotaConfig{
			Limits: map[int]config.TierLimits{
				0: {Daily: 3, Ensemble: 0},
				3: {Daily: 100, Ensemble: 5},
			},
			BonusDaily:     7,
			UTCOffsetHours: 3,
		},
		Models: config.ModelsConfig{
			TierAccess: map[int][]string{
				0: {"alpha", "default-model"},
				3: {"alpha", "beta", "premium", "default-model"},
			},
			ImageModels:        []string{"img-a"},
			DefaultTextModel:   "default-model",
			DefaultImageModel:  "img-a",
			DefaultTemperature: 0.7,
			SystemPrompt:       "You are MiniArima, an advanced GenAI assistant.",
		},
		Ensemble: config.EnsembleConfig{
			Participants: []string{"alpha", "beta"},
			Arbiter:      "arbiter-1",
		},
	}
}

type fixture struct {
	engine   *gin.Engine
	backend  *fakeBackend
	store    *fakeStore
	registry *health.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	cfg := testConfig()

	store := newFakeStore()
	backend := &fakeBackend{failures: map[string]error{}}
	registry := health.NewRegistry(logger)
	cache := profile.NewCache(store, time.Minute, logger)
	profiles := profile.NewService(store, cache, logger)
	ledger := quota.NewLedger(store, profiles, cfg, logger)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	orch := orchestrator.New(backend, registry, ledger, profiles, collector, cfg, logger)

	h := NewHandler(orch, nil, registry, ledger, profiles, nil, cfg, logger)

	engine := gin.New()
	engine.POST("/chat", h.Chat)
	engine.POST("/ensemble", h.Ensemble)
	engine.POST("/images", h.GenerateImage)

	return &fixture{engine: engine, backend: backend, store: store, registry: registry}
}

func (fx *fixture) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.engine.ServeHTTP(w, req)
	return w
}

func TestChat_Success(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/chat", `{"user_id":1,"username":"alice","model":"alpha","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "reply from alpha", gjson.Get(body, "text").String())
	assert.Equal(t, "alpha", gjson.Get(body, "model").String())

	// First contact registers the user
	_, err := fx.store.GetUser(context.Background(), 1)
	assert.NoError(t, err)
}

func TestChat_DefaultModelFallback(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/chat", `{"user_id":1,"messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "default-model", gjson.Get(w.Body.String(), "model").String())
}

func TestChat_TierForbiddenModel(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/chat", `{"user_id":1,"model":"premium","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "premium", gjson.Get(w.Body.String(), "model").String())
}

func TestChat_QuotaExceeded(t *testing.T) {
	fx := newFixture(t)

	for i := 0; i < 3; i++ {
		w := fx.post("/chat", `{"user_id":1,"model":"alpha","messages":[{"role":"user","content":"hi"}]}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := fx.post("/chat", `{"user_id":1,"model":"alpha","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "offer_bonus").Bool())
}

func TestChat_ModelUnavailable(t *testing.T) {
	fx := newFixture(t)
	fx.registry.MarkFailed("alpha", "Timeout")

	w := fx.post("/chat", `{"user_id":1,"model":"alpha","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "alpha", gjson.Get(w.Body.String(), "models.0").String())
}

func TestChat_BackendFailure(t *testing.T) {
	fx := newFixture(t)
	fx.backend.failures["alpha"] = &provider.Error{Kind: provider.KindAPI, Model: "alpha", StatusCode: 500}

	w := fx.post("/chat", `{"user_id":1,"model":"alpha","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := w.Body.String()
	assert.Equal(t, "alpha", gjson.Get(body, "model").String())
	assert.NotContains(t, body, "500", "raw provider details must not leak")
}

func TestChat_MalformedBody(t *testing.T) {
	fx := newFixture(t)
	w := fx.post("/chat", `{"user_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnsemble_SuccessRecordsUsage(t *testing.T) {
	fx := newFixture(t)
	future := time.Now().UTC().Add(24 * time.Hour)
	fx.store.mu.Lock()
	fx.store.users[1] = &db.User{ID: 1, Tier: 3, SubscriptionEnd: &future}
	fx.store.mu.Unlock()

	w := fx.post("/ensemble", `{"user_id":1,"prompt":"what is 2+2"}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "reply from arbiter-1", gjson.Get(body, "text").String())
	assert.Equal(t, "arbiter-1", gjson.Get(body, "arbiter").String())
	assert.Len(t, gjson.Get(body, "participants").Array(), 2)

	assert.Equal(t, 1, fx.store.modeTotal(db.ModeEnsemble))
	assert.Equal(t, 0, fx.store.modeTotal(db.ModeNormal))
}

func TestEnsemble_ForbiddenForFreeTier(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/ensemble", `{"user_id":1,"prompt":"hi"}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestGenerateImage_Success(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/images", `{"user_id":1,"prompt":"a cat"}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, "https://img.example/img-a", gjson.Get(body, "url").String())
	assert.Equal(t, "img-a", gjson.Get(body, "model").String())
}

func TestGenerateImage_UnknownModel(t *testing.T) {
	fx := newFixture(t)

	w := fx.post("/images", `{"user_id":1,"model":"nope","prompt":"a cat"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
