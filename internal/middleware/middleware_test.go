package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"comlink-service/internal/config"
	"comlink-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(zap.New(core)))
	router.GET("/api/v1/link/:op", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/link/explode", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body utils.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-42", body.RequestID)
	require.NotNil(t, body.Error)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
	assert.Contains(t, body.Error.Details, "req-42")

	entries := logs.FilterMessage("Handler panic recovered").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "/api/v1/link/:op", fields["route"])
}

func TestRecoveryMiddlewareWithoutRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed string
	}{
		{name: "wildcard", origins: []string{"*"}, origin: "http://panel.local", allowed: "*"},
		{name: "listed", origins: []string{"http://panel.local"}, origin: "http://panel.local", allowed: "http://panel.local"},
		{name: "not listed", origins: []string{"http://panel.local"}, origin: "http://evil.local", allowed: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(&config.SecurityConfig{AllowedOrigins: tt.origins}))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.allowed, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestLoggingMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(LoggingMiddleware(utils.NewServiceLogger(zap.NewNop(), "test")))
	router.GET("/ports", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ports", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
