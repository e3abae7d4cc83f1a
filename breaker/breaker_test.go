package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wyfcoding/montecarlo/config"
	"github.com/wyfcoding/montecarlo/logging"
	"github.com/wyfcoding/montecarlo/metrics"
)

var errDown = errors.New("redis down")

func failing() (bool, error) { return false, errDown }

func TestExecuteTripsAfterFailures(t *testing.T) {
	m := metrics.NewMetrics("breaker-test")
	b := New(Settings{
		Name:        "redis",
		Config:      config.CircuitBreakerConfig{Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
		MinRequests: 3,
		Logger:      logging.Discard(),
	}, m)

	for i := range 3 {
		if _, err := Execute(b, failing); !errors.Is(err, errDown) {
			t.Fatalf("call %d error = %v", i, err)
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	_, err := Execute(b, func() (bool, error) {
		called = true
		return true, nil
	})
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("open breaker: err = %v, called = %v", err, called)
	}
	if got := testutil.ToFloat64(b.state.WithLabelValues("redis")); got != 2 {
		t.Fatalf("state gauge = %v, want 2", got)
	}
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := New(Settings{Name: "off"}, nil)
	for range 10 {
		if _, err := Execute(b, failing); !errors.Is(err, errDown) {
			t.Fatalf("error = %v", err)
		}
	}
	if b.State() != "closed" {
		t.Fatalf("state = %s", b.State())
	}

	got, err := Execute[int](nil, func() (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("nil breaker = %d, %v", got, err)
	}
}
