package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/emeka-okafor/kudipal/controllers"
	"github.com/emeka-okafor/kudipal/services/dispatch"
	"github.com/emeka-okafor/kudipal/services/flows"
)

func testEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	service := flows.NewService(nil, flows.NewTokens("s"), nil, nil, nil, nil, nil, nil, nil, flows.FlowIDs{})
	return Setup(Controllers{
		Webhook: controllers.NewWebhookController(dispatch.NewRouter(dispatch.RouterDeps{}), "verify-me"),
		Flow:    controllers.NewFlowController(service),
		Health:  controllers.NewHealthController(false, false),
	}, "")
}

func get(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRoutePaths(t *testing.T) {
	engine := testEngine()

	t.Run("webhook lives under /webhook/whatsapp", func(t *testing.T) {
		w := get(engine, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=99")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "99", w.Body.String())

		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp",
			strings.NewReader(`{"entry":[]}`))
		req.Header.Set("Content-Type", "application/json")
		pw := httptest.NewRecorder()
		engine.ServeHTTP(pw, req)
		assert.Equal(t, http.StatusOK, pw.Code)
	})

	t.Run("flow probes answer JSON on every GET path", func(t *testing.T) {
		for _, path := range []string{"/api/flow/health", "/api/flow/ping", "/api/flow/endpoint"} {
			w := get(engine, path)
			assert.Equal(t, http.StatusOK, w.Code, path)
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json", path)
		}
	})

	t.Run("flow exchange lives under /api/flow/endpoint", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/flow/endpoint",
			strings.NewReader(`{"action":"ping"}`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"status":"active"}}`, w.Body.String())
	})

	t.Run("health probe", func(t *testing.T) {
		w := get(engine, "/health")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
