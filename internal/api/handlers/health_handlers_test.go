package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func healthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/live", h.Live)
	return r
}

func pingOK(context.Context) error   { return nil }
func pingDown(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		db     Pinger
		rpc    Pinger
		code   int
		status string
	}{
		{"all healthy", pingOK, pingOK, http.StatusOK, "healthy"},
		{"rpc down degrades", pingOK, pingDown, http.StatusOK, "degraded"},
		{"database down", pingDown, pingOK, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop(), "test")
			h.AddCheck("database", true, tc.db)
			h.AddCheck("bsc_rpc", false, tc.rpc)

			w := doJSON(healthRouter(h), http.MethodGet, "/health", nil)
			require.Equal(t, tc.code, w.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.status, resp.Status)
			assert.Len(t, resp.Checks, 2)
		})
	}
}

func TestLive(t *testing.T) {
	h := NewHealthHandler(zap.NewNop(), "test")
	h.AddCheck("database", true, pingDown)

	w := doJSON(healthRouter(h), http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
