package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aiwuxian/recall-knowledge/internal/models"
	"github.com/aiwuxian/recall-knowledge/internal/services"
	"github.com/aiwuxian/recall-knowledge/internal/storage"
)

type nat20 struct{}

func (nat20) RollD20() int { return 20 }

type testEnv struct {
	store   *storage.MemoryStore
	manager *ConnectionManager
	recall  *services.RecallKnowledgeService
	router  *gin.Engine
}

func newTestEnv(t *testing.T, cfg models.RecallConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	ctx := context.Background()

	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveUser(ctx, &models.User{ID: "player", Name: "Player"}))
	require.NoError(t, store.SaveUser(ctx, &models.User{ID: "gm", Name: "GM", IsGM: true}))

	registry := prometheus.NewRegistry()
	metrics := services.NewMetrics(registry)
	manager := NewConnectionManager(logger)
	ledger := services.NewKnowledgeLedger(store, logger)
	approval := services.NewApprovalCoordinator(manager, store, 5*time.Second, metrics, logger)

	recall := services.NewRecallKnowledgeService(services.Deps{
		Actors:    store,
		Users:     store,
		Ledger:    ledger,
		Approval:  approval,
		Prompter:  NewWSPrompter(manager, logger),
		Announcer: NewWSAnnouncer(manager),
		Roller:    nat20{},
		Metrics:   metrics,
		Config:    cfg,
		Logger:    logger,
	})
	bus := services.NewEventBus(logger)
	recall.RegisterEvents(bus)

	router := gin.New()
	NewHandler(recall, store, bus, manager, registry, logger).Routes(router)

	return &testEnv{store: store, manager: manager, recall: recall, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

var dragonBody = map[string]any{
	"name":       "Young Red Dragon",
	"type":       "npc",
	"level":      10,
	"traits":     []string{"dragon", "fire"},
	"weaknesses": []map[string]any{{"type": "cold", "value": 10}},
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})
	w, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestActorRoutes(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	w, body := env.do(t, http.MethodPut, "/api/actors/dragon", dragonBody)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dragon", body["id"])

	w, _ = env.do(t, http.MethodPut, "/api/actors/nameless", map[string]any{"level": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/actors/dragon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(10), body["level"])

	w, _ = env.do(t, http.MethodGet, "/api/actors/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = env.do(t, http.MethodGet, "/api/actors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["actors"], 1)

	w, body = env.do(t, http.MethodPut, "/api/party", map[string]any{"actor_ids": []string{"dragon"}})
	require.Equal(t, http.StatusOK, w.Code)
	party, err := env.store.PartyMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, party, 1)

	w, body = env.do(t, http.MethodPut, "/api/users/p2", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p2", body["name"])
}

func TestRecallRouteValidation(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	w, body := env.do(t, http.MethodPost, "/api/recall", map[string]any{"user_id": "player", "actor_id": "ezren"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(services.CodeUserInputMissing), body["code"])
	assert.Equal(t, "Please target a creature first.", body["error"])

	w, body = env.do(t, http.MethodGet, "/api/recall/known?user_id=player&actor_id=ezren&target_id=nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(services.CodeNotFound), body["code"])
}

func TestApprovalRoutes(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	w, body := env.do(t, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["requests"])

	w, _ = env.do(t, http.MethodPost, "/api/approvals/r1", map[string]any{"gm_id": "player", "approved": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/approvals/r1", map[string]any{"gm_id": "gm", "approved": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSettingsRoutes(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	w, _ := env.do(t, http.MethodPut, "/api/users/player/bonus-skill", map[string]any{"bonus_skill": "society"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPut, "/api/users/player/bonus-skill", map[string]any{"bonus_skill": "nature"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := env.do(t, http.MethodGet, "/api/users/player/bonus-skill", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nature", body["bonus_skill"])
	assert.Len(t, body["choices"], len(services.BestiaryScholarChoices))

	w, body = env.do(t, http.MethodGet, "/api/users/player/actors/ezren/thorough-reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, body["types"])

	w, body = env.do(t, http.MethodPut, "/api/users/player/actors/ezren/thorough-reports", map[string]any{"types": []string{"Undead", "fey"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"undead", "fey"}, body["types"])

	w, body = env.do(t, http.MethodPut, "/api/users/player/actors/ezren/thorough-reports", map[string]any{"types": []string{"goblin"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(services.CodeInvalidSelection), body["code"])

	w, body = env.do(t, http.MethodGet, "/api/creature-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["types"], len(services.CreatureTypes()))
}

func TestEventRoutes(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	w, body := env.do(t, http.MethodPost, "/api/events/roundStart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "roundStart", body["event"])

	w, _ = env.do(t, http.MethodPost, "/api/events/combatEnd", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recall_knowledge_facts_recorded_total")
}

func TestWSRequiresUser(t *testing.T) {
	env := newTestEnv(t, models.RecallConfig{})
	w, _ := env.do(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(services.CodeConcurrentInvocation))
	assert.Equal(t, http.StatusInternalServerError, statusOf(services.CodePersistenceFailure))
	assert.Equal(t, http.StatusInternalServerError, statusOf(services.CodeUnknown))
}
