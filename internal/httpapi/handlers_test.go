package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementstore/core/internal/bus"
	"github.com/elementstore/core/internal/cache"
	"github.com/elementstore/core/internal/engine"
	"github.com/elementstore/core/internal/metrics"
	"github.com/elementstore/core/internal/relation"
	"github.com/elementstore/core/internal/schema"
	"github.com/elementstore/core/internal/security"
	"github.com/elementstore/core/internal/storage/file"
	"github.com/elementstore/core/internal/validate"
	"github.com/elementstore/core/pkg/logger"
)

func newTestAPIServer(t *testing.T) *Server {
	t.Helper()
	backend, err := file.New(t.TempDir())
	require.NoError(t, err)
	registry := schema.New(backend)
	require.NoError(t, registry.Bootstrap(context.Background()))

	_, err = backend.Set(context.Background(), schema.ClassClass, map[string]any{
		"id": "widget", "class_id": schema.ClassClass, "name": "Widget",
		"props": []any{
			map[string]any{"key": "label", "data_type": "string", "required": true},
		},
	})
	require.NoError(t, err)
	registry.InvalidateAll()

	builder := validate.NewBuilder(nil, nil, nil, nil)
	producer := bus.NewProducer("", logger.NewDefault("httpapi-test"))
	eng := engine.New(backend, registry, builder, producer)
	resolver := relation.NewResolver(backend, registry)
	m := metrics.New(prometheus.NewRegistry())
	c, err := cache.New(cache.Config{})
	require.NoError(t, err)

	return NewServer(eng, registry, resolver, m, c, logger.NewDefault("httpapi-test"))
}

func TestHandleHealth(t *testing.T) {
	s := newTestAPIServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStoreCreate_ThenGet(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]any{"label": "Gadget"})
	req := httptest.NewRequest(http.MethodPost, "/store/widget", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.HeaderUserID, "alice")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"].(string)

	getReq := httptest.NewRequest(http.MethodGet, "/store/widget/"+id, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched map[string]any
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	assert.Equal(t, "Gadget", fetched["label"])
}

func TestHandleStoreCreate_ValidationFailureReturns400(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]any{})
	req := httptest.NewRequest(http.MethodPost, "/store/widget", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStoreGet_NotFoundReturns404(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/store/widget/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStoreDelete_RemovesObject(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]any{"label": "Gadget"})
	req := httptest.NewRequest(http.MethodPost, "/store/widget", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"].(string)

	delReq := httptest.NewRequest(http.MethodDelete, "/store/widget/"+id, nil)
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/store/widget/"+id, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestHandleGetClass_UnknownClassReturns404(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/class/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGenesis_Bootstraps(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/genesis", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQuery_FiltersByArbitraryProp(t *testing.T) {
	s := newTestAPIServer(t)
	router := s.Router()

	for _, label := range []string{"Gadget", "Widget"} {
		body, _ := json.Marshal(map[string]any{"label": label})
		req := httptest.NewRequest(http.MethodPost, "/store/widget", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/query/widget?label=Gadget", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Gadget", results[0]["label"])
}
