package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
)

func TestObserveUpstreamLabels(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("anilist", "200"))
	ObserveUpstream("anilist", 200, 10*time.Millisecond)
	after := testutil.ToFloat64(UpstreamRequests.WithLabelValues("anilist", "200"))
	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}

	before = testutil.ToFloat64(UpstreamRequests.WithLabelValues("mal", "error"))
	ObserveUpstream("mal", 0, time.Millisecond)
	if testutil.ToFloat64(UpstreamRequests.WithLabelValues("mal", "error"))-before != 1 {
		t.Error("expected transport failures to be labelled error")
	}
}

func TestSetBreakerState(t *testing.T) {
	SetBreakerState("anilist", gobreaker.StateOpen)
	if v := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("anilist")); v != 2 {
		t.Errorf("expected 2 for open, got %v", v)
	}
	SetBreakerState("anilist", gobreaker.StateClosed)
	if v := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("anilist")); v != 0 {
		t.Errorf("expected 0 for closed, got %v", v)
	}
}
