package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/montecarlo/contextx"
	"github.com/wyfcoding/montecarlo/limiter"
	"github.com/wyfcoding/montecarlo/logging"
	"github.com/wyfcoding/montecarlo/metrics"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	return r
}

func do(r http.Handler, method, path string, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.9:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestIDPropagation(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, contextx.GetRequestID(c.Request.Context())+"|"+contextx.GetIP(c.Request.Context()))
	})

	w := do(r, http.MethodGet, "/id", "", map[string]string{HeaderXRequestID: "client-1"})
	if w.Body.String() != "client-1|10.0.0.9" || w.Header().Get(HeaderXRequestID) != "client-1" {
		t.Fatalf("body %q header %q", w.Body.String(), w.Header().Get(HeaderXRequestID))
	}

	w = do(r, http.MethodGet, "/id", "", nil)
	if !strings.HasPrefix(w.Header().Get(HeaderXRequestID), "Q") {
		t.Fatalf("generated request id %q", w.Header().Get(HeaderXRequestID))
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(limiter.NewLocalLimiter(0, 1), logging.Discard()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	if w := do(r, http.MethodGet, "/x", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("first request = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/x", "", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", w.Code)
	}

	open := newEngine(RateLimit(brokenLimiter{}, logging.Discard()))
	open.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := do(open, http.MethodGet, "/x", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("fail-open request = %d", w.Code)
	}

	none := newEngine(RateLimit(nil, logging.Discard()))
	none.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	if w := do(none, http.MethodGet, "/x", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("unlimited request = %d", w.Code)
	}
}

func TestRecoveryAndAccessLog(t *testing.T) {
	r := newEngine(RequestID(), Logger(logging.Discard()), Recovery(logging.Discard()))
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := do(r, http.MethodGet, "/panic", "", nil)
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "Internal Server Error") {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestHTTPMetrics(t *testing.T) {
	m := metrics.NewMetrics("middleware-test")
	r := newEngine(HTTPMetricsMiddleware(m, MetricsOptions{SlowThreshold: time.Nanosecond, SkipPaths: []string{"/sys/health"}}))
	r.GET("/v1/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sys/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do(r, http.MethodGet, "/v1/items/1", "", nil)
	do(r, http.MethodGet, "/v1/items/2", "", nil)
	do(r, http.MethodGet, "/sys/health", "", nil)

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/items/:id", "200")); got != 2 {
		t.Fatalf("requests = %v", got)
	}
	if got := testutil.ToFloat64(m.HTTPSlowRequestsTotal.WithLabelValues("GET", "/v1/items/:id")); got != 2 {
		t.Fatalf("slow requests = %v", got)
	}
	if got := testutil.CollectAndCount(m.HTTPRequestsTotal); got != 1 {
		t.Fatalf("series = %d, skipped path recorded", got)
	}
}

func TestTimeoutAndBodyLimit(t *testing.T) {
	r := newEngine(Timeout(time.Second), MaxBodyBytes(16))
	r.POST("/echo", func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusOK)
	})

	if w := do(r, http.MethodPost, "/echo", "{}", nil); w.Code != http.StatusOK {
		t.Fatalf("small body = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/echo", strings.Repeat("x", 64), nil); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("large body = %d", w.Code)
	}
}
