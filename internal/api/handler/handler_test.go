package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ParcelLedger/internal/api/handler"
	"github.com/jmerrifield20/ParcelLedger/internal/chain"
	"github.com/jmerrifield20/ParcelLedger/internal/identity"
	"github.com/jmerrifield20/ParcelLedger/internal/shipment"
	"github.com/jmerrifield20/ParcelLedger/internal/store"
	"go.uber.org/zap"
)

// newTestService returns a shipment service backed by an in-memory store.
func newTestService(t *testing.T, s store.Store) *shipment.Service {
	t.Helper()
	if s == nil {
		s = store.NewMemory()
	}
	l, err := chain.NewAdapter(s, "", zap.NewNop()).LoadOrNew(context.Background(), shipment.Genesis{Message: "genesis"})
	if err != nil {
		t.Fatal(err)
	}
	return shipment.NewService(l, zap.NewNop())
}

func setupRouter(t *testing.T, svc *shipment.Service, tokens *identity.TokenIssuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewShipmentHandler(svc, tokens, zap.NewNop()).Register(v1)
	handler.NewLedgerHandler(svc, zap.NewNop()).Register(v1)
	return r
}

func do(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
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
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

var sampleShipment = map[string]any{
	"recipient":   "Ana Torres",
	"origin":      "Quito",
	"destination": "Guayaquil",
	"value":       120.5,
	"weight":      2.4,
}

// registerOne registers sampleShipment and returns its tracking code.
func registerOne(t *testing.T, router *gin.Engine, token string) string {
	t.Helper()
	w := do(router, http.MethodPost, "/api/v1/shipments", sampleShipment, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	code, _ := decode(t, w)["trackingCode"].(string)
	if code == "" {
		t.Fatal("register: empty tracking code")
	}
	return code
}
