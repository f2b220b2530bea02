package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type registrarFunc func(rg *gin.RouterGroup)

func (f registrarFunc) RegisterRoutes(rg *gin.RouterGroup) { f(rg) }

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "v1", r.apiVersion)
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "v2", r.apiVersion)
}

func TestRouterSetup(t *testing.T) {
	engine := NewEngine(EngineConfig{ServiceName: "conversions-test"})
	NewRouter(engine).
		RegisterRoot(registrarFunc(func(rg *gin.RouterGroup) {
			rg.GET("/health/live", func(c *gin.Context) { c.String(http.StatusOK, "live") })
		})).
		Register(registrarFunc(func(rg *gin.RouterGroup) {
			rg.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		})).
		Setup()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/health/live", http.StatusOK, "live"},
		{"/api/v1/ping", http.StatusOK, "pong"},
		{"/ping", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, w.Code, tt.path)
		if tt.body != "" {
			assert.Equal(t, tt.body, w.Body.String())
		}
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}
}

func TestNewEngine_RecoversPanics(t *testing.T) {
	engine := NewEngine(EngineConfig{TracingEnabled: true, ServiceName: "conversions-test"})
	engine.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNewEngine_KeepsCallerRequestID(t *testing.T) {
	engine := NewEngine(EngineConfig{})
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
