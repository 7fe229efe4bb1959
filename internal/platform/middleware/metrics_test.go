package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/orderconsole/internal/platform/metrics"
)

func TestMetrics_CountsByRoute(t *testing.T) {
	e := echo.New()
	counter := metrics.HTTPRequestTotals.WithLabelValues(http.MethodPost, "/api/v1/drafts/:id/finalize", "409")
	before := testutil.ToFloat64(counter)

	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/drafts/x/finalize", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/drafts/:id/finalize")
	err := Metrics()(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "blocked")
	})(c)
	if err == nil {
		t.Fatal("expected handler error to pass through")
	}

	if after := testutil.ToFloat64(counter); after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}
