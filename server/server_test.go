package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/localchat/component"
	apperrors "github.com/kbukum/localchat/errors"
	"github.com/kbukum/localchat/logger"
	"github.com/kbukum/localchat/server/middleware"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := Config{Host: "127.0.0.1"}
	cfg.CORS.ApplyDefaults()
	cfg.MaxBodySize = "1KB"
	s := New(cfg, logger.NewNop())
	s.ApplyMiddleware()
	return s
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Port != 5000 || cfg.Host != "0.0.0.0" {
		t.Errorf("defaults = %s", cfg.Address())
	}
	if cfg.WriteTimeout <= cfg.ReadTimeout {
		t.Errorf("write timeout %d should exceed read timeout %d", cfg.WriteTimeout, cfg.ReadTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected port validation error")
	}
}

func TestMiddlewareAppliedToRoutes(t *testing.T) {
	s := newTestServer(t)
	s.GinEngine().GET("/ping", func(c *gin.Context) { RespondOK(c, gin.H{"pong": true}) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	s.GinEngine().POST("/chatbot", func(c *gin.Context) { RespondOK(c, gin.H{}) })

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/chatbot", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
		var body apperrors.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code == "" {
			t.Errorf("%s %s: body %q is not an error response", tt.method, tt.path, rec.Body.String())
		}
	}
}

func TestRespondWithError(t *testing.T) {
	s := newTestServer(t)
	s.GinEngine().GET("/busy", func(c *gin.Context) { RespondWithError(c, apperrors.EngineBusy()) })
	s.GinEngine().GET("/plain", func(c *gin.Context) { RespondWithError(c, fmt.Errorf("plain")) })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/busy", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("busy status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plain", nil))
	var body apperrors.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusInternalServerError || body.Error.Code != apperrors.ErrCodeInternal {
		t.Errorf("plain error = %d %s", rec.Code, body.Error.Code)
	}
}

func TestStartStop(t *testing.T) {
	s := newTestServer(t)
	s.RegisterDefaultEndpoints("chatbot", func(context.Context) []component.Health { return nil }, nil)
	comp := NewComponent(s)

	ctx := context.Background()
	if err := comp.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h := comp.Health(ctx); h.Status != component.StatusHealthy {
		t.Errorf("health = %v", h)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := comp.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Error("server still running after Stop")
	}
	if err := comp.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestRoutesOrder(t *testing.T) {
	s := newTestServer(t)
	s.RegisterDefaultEndpoints("chatbot", nil, nil)
	s.GinEngine().POST("/chatbot", func(c *gin.Context) {})
	s.GinEngine().GET("/", func(c *gin.Context) {})

	routes := NewComponent(s).Routes()
	if len(routes) != 4 {
		t.Fatalf("routes = %v", routes)
	}
	if routes[0].Path != "/" || routes[1].Path != "/chatbot" {
		t.Errorf("API routes not first: %v", routes)
	}
	if !systemPaths[routes[2].Path] || !systemPaths[routes[3].Path] {
		t.Errorf("system routes not last: %v", routes)
	}
}

func TestHandlerName(t *testing.T) {
	got := handlerName("github.com/kbukum/localchat/internal/chat.(*Handler).Send-fm")
	if got != "chat.Handler.Send" {
		t.Errorf("handlerName = %q", got)
	}
}
