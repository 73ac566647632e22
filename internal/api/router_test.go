package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/namesync/internal/api"
	"github.com/d60-Lab/namesync/internal/api/handler"
	"github.com/d60-Lab/namesync/internal/model"
	"github.com/d60-Lab/namesync/internal/repository"
	"github.com/d60-Lab/namesync/internal/service"
	"github.com/d60-Lab/namesync/internal/testutil"
)

const secret = "test-secret"

func setupRouter(t *testing.T, checks map[string]handler.Pinger) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	syncer := service.NewSyncer(repository.NewDocumentStore(db), service.Options{CostPerWrite: 0.01})
	return api.NewRouter(handler.New(syncer, checks), api.RouterOptions{AdminSecret: secret}), db
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminRequiresBearerToken(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedUser(t, db, "u1", "Alice")
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Al", 1)

	for _, token := range []string{"", "wrong"} {
		w := do(r, http.MethodPost, "/api/v1/admin/backfill", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
	}
	assert.Equal(t, "Al", testutil.CachedNames(t, db, model.CollectionWorks)["w-0000"])
}

func TestBackfillEndpoint(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedUser(t, db, "u1", "Alice")
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Al", 2)

	w := do(r, http.MethodPost, "/api/v1/admin/backfill?dry_run=true", secret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dry struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Data    service.RunReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dry))
	assert.True(t, dry.Success)
	assert.Equal(t, 2, dry.Data.NeedsUpdate)
	assert.Contains(t, dry.Message, "dry run")
	assert.Equal(t, "Al", testutil.CachedNames(t, db, model.CollectionWorks)["w-0000"])

	w = do(r, http.MethodPost, "/api/v1/admin/backfill", secret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Equal(t, "Alice", testutil.CachedNames(t, db, model.CollectionWorks)["w-0001"])
}

func TestBackfillEndpointFailure(t *testing.T) {
	r, db := setupRouter(t, nil)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := do(r, http.MethodPost, "/api/v1/admin/backfill", secret, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestUserChangedHook(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedUser(t, db, "u1", "Alicia")
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Alice", 2)
	testutil.SeedPosts(t, db, model.CollectionQuestions, "q", "u1", "Alice", 1)

	body := map[string]interface{}{
		"before": map[string]string{"display_name": "Alice"},
		"after":  map[string]string{"display_name": "Alicia"},
	}
	w := do(r, http.MethodPost, "/api/v1/hooks/users/u1", secret, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"updated":3}`, w.Body.String())
}

func TestUserChangedHookIgnoresDeletion(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Alice", 1)

	body := map[string]interface{}{"before": map[string]string{"display_name": "Alice"}}
	w := do(r, http.MethodPost, "/api/v1/hooks/users/u1", secret, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"updated":0}`, w.Body.String())
	assert.Equal(t, "Alice", testutil.CachedNames(t, db, model.CollectionWorks)["w-0000"])
}

func TestUserChangedHookRejectsMalformedBody(t *testing.T) {
	r, _ := setupRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hooks/users/u1", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+secret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRejectsInvalidDryRun(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedUser(t, db, "u1", "Alice")
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Al", 1)

	for _, path := range []string{
		"/api/v1/admin/backfill?dry_run=yes",
		"/api/v1/admin/backfill?dry_run=ture",
		"/api/v1/admin/stats?dry_run=yes",
	} {
		w := do(r, http.MethodPost, path, secret, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), `"error"`, path)
	}
	assert.Equal(t, "Al", testutil.CachedNames(t, db, model.CollectionWorks)["w-0000"])

	var u model.User
	require.NoError(t, db.First(&u, "id = ?", "u1").Error)
	assert.Zero(t, u.Stats.Works)
}

func TestStatsEndpoint(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedUser(t, db, "u1", "Alice")
	testutil.SeedPosts(t, db, model.CollectionWorks, "w", "u1", "Alice", 4)

	w := do(r, http.MethodPost, "/api/v1/admin/stats", secret, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1 of 1 users corrected")
}

func TestHealth(t *testing.T) {
	r, _ := setupRouter(t, map[string]handler.Pinger{
		"database": handler.PingFunc(func(context.Context) error { return nil }),
		"redis":    handler.PingFunc(func(context.Context) error { return errors.New("refused") }),
	})
	w := do(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","database":"ok","redis":"refused"}`, w.Body.String())
}
