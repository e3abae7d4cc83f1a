package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesPricingMetrics(t *testing.T) {
	m := NewMetrics("metrics-test")
	m.RegisterBuildInfo("metrics-test", "v0.1.0")
	m.RegisterBuildInfo("metrics-test", "v0.2.0")

	m.PricingRequestsTotal.WithLabelValues("summation", "parallel", "ok").Inc()
	m.PathsSimulatedTotal.WithLabelValues("summation").Add(1000)

	if got := testutil.ToFloat64(m.PathsSimulatedTotal.WithLabelValues("summation")); got != 1000 {
		t.Fatalf("paths counter = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`montecarlo_pricing_requests_total{engine="summation",mode="parallel",status="ok"} 1`,
		`build_info{service="metrics-test",version="v0.1.0"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
