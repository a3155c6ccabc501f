// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/gran-dzilam/internal/chat"
	"github.com/your-org/gran-dzilam/internal/finance"
	"github.com/your-org/gran-dzilam/internal/health"
	"github.com/your-org/gran-dzilam/internal/imagine"
	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/ratelimit"
	"github.com/your-org/gran-dzilam/internal/resilience"
	"github.com/your-org/gran-dzilam/internal/store"
	"github.com/your-org/gran-dzilam/internal/upstream"
)

const testAdminToken = "admin-secret"

type fakeChat struct {
	reply   string
	err     error
	message string
	history []chat.Message
}

func (f *fakeChat) Reply(_ context.Context, message string, history []chat.Message) (string, error) {
	f.message = message
	f.history = history
	return f.reply, f.err
}

type fakeImagine struct {
	result imagine.Result
	err    error
	input  imagine.Input
}

func (f *fakeImagine) Generate(_ context.Context, in imagine.Input) (imagine.Result, error) {
	f.input = in
	return f.result, f.err
}

type testEnv struct {
	router  *gin.Engine
	store   *store.Store
	chat    *fakeChat
	imagine *fakeImagine
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zaptest.NewLogger(t)
	st, err := store.NewStore(filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	_, err = st.UpsertLots(context.Background(), []store.Lot{
		{Code: "A-01", Etapa: "1", Manzana: "A", Numero: 1, AreaM2: 300, Precio: 450000},
		{Code: "A-02", Etapa: "1", Manzana: "A", Numero: 2, AreaM2: 320, Precio: 480000},
		{Code: "A-03", Etapa: "1", Manzana: "A", Numero: 3, AreaM2: 410, Precio: 615000, Estado: store.LotVendido},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	hm := health.NewManager("grandzilam-api", "test", logger)
	hm.AddChecker("database", health.PingChecker("database", "sqlite", st.Ping), true)

	env := &testEnv{
		store:   st,
		chat:    &fakeChat{reply: "¡Hola!"},
		imagine: &fakeImagine{result: imagine.Result{ImageURL: "https://cdn.example.com/a.png"}},
		reg:     reg,
	}
	env.router = NewRouter(Dependencies{
		Lots:       st,
		Leads:      st,
		Settings:   st.Settings(finance.DefaultSettings()),
		Chat:       env.chat,
		Imagine:    env.imagine,
		Health:     hm,
		Limiter:    ratelimit.NewLimiter(limit, time.Minute),
		Metrics:    m,
		Gatherer:   reg,
		AdminToken: testAdminToken,
		Logger:     logger,
	})
	return env
}

func (e *testEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, _ := json.Marshal(b)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func assertErrorEnvelope(t *testing.T, w *httptest.ResponseRecorder, status int, code resilience.ErrorCode) resilience.ErrorResponse {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	var resp resilience.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(code), resp.Error)
	assert.NotEmpty(t, resp.Message)
	assert.NotEmpty(t, resp.RequestID)
	return resp
}

func lotID(t *testing.T, st *store.Store, code string) int64 {
	t.Helper()
	page, err := st.ListLots(context.Background(), store.LotFilter{PageSize: store.MaxPageSize})
	require.NoError(t, err)
	for _, lot := range page.Items {
		if lot.Code == code {
			return lot.ID
		}
	}
	t.Fatalf("lot %s not found", code)
	return 0
}

func TestCalculate(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"totalSeleccionado":  1000000,
		"porcentajeEnganche": 25,
		"meses":              24,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp calculateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, int64(1000000), resp.TotalSeleccionado)
	assert.Equal(t, int64(250000), resp.Enganche)
	assert.Equal(t, int64(750000), resp.SaldoFinanciar)
	assert.Equal(t, int64(31250), resp.Mensualidad)
	assert.Empty(t, resp.Lots)
}

func TestCalculateSanitizesOutOfRangeInput(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"totalSeleccionado":  500000,
		"porcentajeEnganche": 95,
		"meses":              2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp calculateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(80), resp.PorcentajeEnganche)
	assert.Equal(t, int64(6), resp.Meses)
	assert.Equal(t, resp.TotalSeleccionado, resp.Enganche+resp.SaldoFinanciar)
}

func TestCalculateHonorsStoredSettings(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPut, "/api/admin/finance/settings",
		finance.Settings{MinEnganche: 30, MaxEnganche: 50, MinMeses: 12, MaxMeses: 36, InteresAnual: 10},
		"Authorization", "Bearer "+testAdminToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"totalSeleccionado":  100000,
		"porcentajeEnganche": 10,
		"meses":              60,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp calculateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(30), resp.PorcentajeEnganche)
	assert.Equal(t, int64(36), resp.Meses)
	assert.Equal(t, int64(30000), resp.Enganche)
	// 70000 plus 10% flat interest over 36 months
	assert.Equal(t, int64(2139), resp.Mensualidad)

	w = env.do(http.MethodGet, "/api/finance/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	settings := decode(t, w)["settings"].(map[string]interface{})
	assert.Equal(t, 30.0, settings["minEnganche"])
	assert.Equal(t, 36.0, settings["maxMeses"])
}

func TestCalculateFromLots(t *testing.T) {
	env := newTestEnv(t, 100)
	a1, a2, a3 := lotID(t, env.store, "A-01"), lotID(t, env.store, "A-02"), lotID(t, env.store, "A-03")

	w := env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"lotIds":             []int64{a1, a2, a1},
		"totalSeleccionado":  1,
		"porcentajeEnganche": 20,
		"meses":              12,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp calculateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(930000), resp.TotalSeleccionado, "lot prices replace the submitted total")
	assert.Len(t, resp.Lots, 2)

	w = env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"lotIds": []int64{a1, a3}, "porcentajeEnganche": 20, "meses": 12,
	})
	resp2 := assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
	assert.Contains(t, resp2.Message, "A-03")

	w = env.do(http.MethodPost, "/api/finance/calculate", map[string]interface{}{
		"lotIds": []int64{a1, 9999}, "porcentajeEnganche": 20, "meses": 12,
	})
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
}

func TestCalculateRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/finance/calculate", `{"totalSeleccionado": "mucho"}`)
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
}

func TestListLots(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodGet, "/api/lots?estado=disponible&pageSize=1&page=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp lotsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "A-02", resp.Items[0].Code)

	w = env.do(http.MethodGet, "/api/lots?estado=reservado", nil)
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)

	w = env.do(http.MethodGet, "/api/lots?minPrecio=-5", nil)
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
}

func TestLeads(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/leads", map[string]string{
		"nombre": "  Ana Pérez ", "email": "ana@example.com", "lotCode": "A-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	lead := decode(t, w)["lead"].(map[string]interface{})
	assert.Equal(t, "Ana Pérez", lead["nombre"])
	assert.Equal(t, "web", lead["origen"])

	w = env.do(http.MethodPost, "/api/leads", map[string]string{"nombre": "Sin contacto"})
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)

	w = env.do(http.MethodPost, "/api/leads", map[string]string{"nombre": "X", "email": "no-es-correo"})
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)

	w = env.do(http.MethodGet, "/api/admin/leads", nil, "Authorization", "Bearer "+testAdminToken)
	require.Equal(t, http.StatusOK, w.Code)
	var page leadsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "A-01", page.Items[0].LotCode)
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t, 100)

	for _, header := range []string{"", "Bearer wrong", "Basic " + testAdminToken, testAdminToken} {
		w := env.do(http.MethodGet, "/api/admin/leads", nil, "Authorization", header)
		assertErrorEnvelope(t, w, http.StatusUnauthorized, resilience.ErrorCodeUnauthorized)
	}
}

func TestUpdateLotStatus(t *testing.T) {
	env := newTestEnv(t, 100)
	id := lotID(t, env.store, "A-01")
	auth := []string{"Authorization", "Bearer " + testAdminToken}

	w := env.do(http.MethodPatch, "/api/admin/lots/"+itoa(id)+"/status", map[string]string{"estado": "apartado"}, auth...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	lot := decode(t, w)["lot"].(map[string]interface{})
	assert.Equal(t, "apartado", lot["estado"])

	w = env.do(http.MethodPatch, "/api/admin/lots/"+itoa(id)+"/status", map[string]string{"estado": "reservado"}, auth...)
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)

	w = env.do(http.MethodPatch, "/api/admin/lots/9999/status", map[string]string{"estado": "vendido"}, auth...)
	assertErrorEnvelope(t, w, http.StatusNotFound, resilience.ErrorCodeNotFound)

	w = env.do(http.MethodPatch, "/api/admin/lots/abc/status", map[string]string{"estado": "vendido"}, auth...)
	assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
}

func TestSaveFinanceSettingsValidation(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPut, "/api/admin/finance/settings",
		finance.Settings{MinEnganche: 10, MaxEnganche: 90, MinMeses: 6, MaxMeses: 60},
		"Authorization", "Bearer "+testAdminToken)
	resp := assertErrorEnvelope(t, w, http.StatusBadRequest, resilience.ErrorCodeInvalidInput)
	assert.Contains(t, resp.Message, "maxEnganche")
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodPost, "/api/chat", map[string]interface{}{
		"message": "¿Tienen lotes frente al mar?",
		"history": []chat.Message{{Role: "user", Content: "hola"}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "¡Hola!", body["reply"])
	assert.Equal(t, "¿Tienen lotes frente al mar?", env.chat.message)
	assert.Len(t, env.chat.history, 1)
}

func TestUpstreamErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   resilience.ErrorCode
	}{
		{"invalid prompt", &upstream.Error{Kind: upstream.KindInvalidPromptOrFormat, Status: 400}, http.StatusBadRequest, resilience.ErrorCodeInvalidPrompt},
		{"auth", &upstream.Error{Kind: upstream.KindAuth, Status: 401, Message: "Incorrect API key provided: sk-abc"}, http.StatusUnauthorized, resilience.ErrorCodeUpstreamAuth},
		{"quota 429", &upstream.Error{Kind: upstream.KindQuota, Status: 429}, http.StatusTooManyRequests, resilience.ErrorCodeUpstreamQuota},
		{"quota 402", &upstream.Error{Kind: upstream.KindQuota, Status: 402}, http.StatusPaymentRequired, resilience.ErrorCodeUpstreamQuota},
		{"timeout", &upstream.Error{Kind: upstream.KindUpstream, Status: 504}, http.StatusGatewayTimeout, resilience.ErrorCodeUpstreamFailed},
		{"server error", &upstream.Error{Kind: upstream.KindUpstream, Status: 500}, http.StatusBadGateway, resilience.ErrorCodeUpstreamFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 100)
			env.chat.err = tt.err
			env.imagine.err = tt.err

			for _, path := range []string{"/api/chat", "/api/imagine"} {
				w := env.do(http.MethodPost, path, map[string]string{"message": "hola", "descripcion": "casa"})
				resp := assertErrorEnvelope(t, w, tt.wantStatus, tt.wantCode)
				assert.NotContains(t, resp.Message, "sk-abc")
			}
		})
	}
}

func TestImagine(t *testing.T) {
	env := newTestEnv(t, 100)
	env.imagine.result = imagine.Result{ImageURL: "data:image/png;base64,QUJD", Cached: true}

	w := env.do(http.MethodPost, "/api/imagine", map[string]string{"descripcion": "casa de playa", "size": "1792x1024"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp imagineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.True(t, resp.Cached)
	assert.Equal(t, "data:image/png;base64,QUJD", resp.ImageURL)
	assert.Equal(t, "1792x1024", env.imagine.input.Size)
}

func TestRateLimitedRoutes(t *testing.T) {
	env := newTestEnv(t, 1)

	w := env.do(http.MethodPost, "/api/chat", map[string]string{"message": "hola"})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/chat", map[string]string{"message": "hola"})
	assertErrorEnvelope(t, w, http.StatusTooManyRequests, resilience.ErrorCodeRateLimited)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Catalog reads are not limited
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/lots", nil).Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, 100)

	incoming := "3f2b8c1e-8a7d-4c3e-9f60-1b2a3c4d5e6f"
	w := env.do(http.MethodGet, "/api/lots", nil, RequestIDHeader, incoming)
	assert.Equal(t, incoming, w.Header().Get(RequestIDHeader))

	w = env.do(http.MethodGet, "/api/lots", nil, RequestIDHeader, "not a uuid")
	assert.NotEqual(t, "not a uuid", w.Header().Get(RequestIDHeader))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 100)

	w := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, health.StatusHealthy, decode(t, w)["status"])

	env.do(http.MethodPost, "/api/finance/calculate", map[string]int{"totalSeleccionado": 1000, "porcentajeEnganche": 10, "meses": 6})

	w = env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "grandzilam_finance_calculations_total 1"), body)
	assert.Contains(t, body, `grandzilam_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, 100)
	w := env.do(http.MethodGet, "/api/nada", nil)
	assertErrorEnvelope(t, w, http.StatusNotFound, resilience.ErrorCodeNotFound)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
