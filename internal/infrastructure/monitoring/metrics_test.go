package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordWrite("succeeded")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Writes.WithLabelValues("succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Writes.WithLabelValues("succeeded")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordBoot(true, "", time.Second)
	m.RecordWrite("failed")
	m.SetSessionsActive(3)
	m.AddTerminalBytes(10)
	m.IncWSConnections()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestRecordBoot(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m)
	timer.Stop(false, "mount")
	m.RecordBoot(true, "", 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Boots.WithLabelValues("failed", "mount")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Boots.WithLabelValues("ready", "")))

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.BootsOK)
	assert.EqualValues(t, 1, snap.BootsFailed)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/workspaces/:name", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/effect", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/workspaces/:name", "404")))
	assert.EqualValues(t, 1, m.Snapshot().TotalErrors)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "playground_http_requests_total")
}
