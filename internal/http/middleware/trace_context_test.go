package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/wwfm-backend/internal/observability"
	"github.com/yungbote/wwfm-backend/internal/platform/ctxutil"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

func TestAttachTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var seen *ctxutil.TraceData
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(logger.Nop()))
	r.GET("/x", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	t.Run("keeps caller ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(headerRequestID, "req-42")
		req.Header.Set(headerTraceID, "trace-7")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.NotNil(t, seen)
		assert.Equal(t, "req-42", seen.RequestID)
		assert.Equal(t, "trace-7", seen.TraceID)
		assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
	})

	t.Run("mints ids for missing or hostile headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(headerRequestID, "evil\tline")
		req.Header.Set(headerTraceID, strings.Repeat("a", maxClientIDLen+1))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.NotNil(t, seen)
		assert.Len(t, seen.RequestID, 36)
		assert.Len(t, seen.TraceID, 36)
		assert.Equal(t, seen.TraceID, rec.Header().Get(headerTraceID))
	})
}

func TestMetricsSkipsScrapes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/goals/:goalId/implementations/:implementationId", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/healthcheck", "/api/goals/a/implementations/b", "/api/goals/c/implementations/d"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 0.0, testutil.ToFloat64(m.APIRequestCounter(http.MethodGet, "/healthcheck", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.APIRequestCounter(http.MethodGet, "/api/goals/:goalId/implementations/:implementationId", "200")))
}
