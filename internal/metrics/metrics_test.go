package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if claimsTotal == nil || completionsTotal == nil || releasesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(claimsTotal.WithLabelValues("GPU", "no_job"))
	ObserveClaim("GPU", "no_job")
	if val := testutil.ToFloat64(claimsTotal.WithLabelValues("GPU", "no_job")); val != before+1 {
		t.Errorf("Expected claims counter to grow by 1, got %f", val-before)
	}

	beforeReaped := testutil.ToFloat64(reapedWorkersTotal)
	ObserveReaped(3)
	if val := testutil.ToFloat64(reapedWorkersTotal); val != beforeReaped+3 {
		t.Errorf("Expected reaped counter to grow by 3, got %f", val-beforeReaped)
	}

	SetLeader(true)
	if val := testutil.ToFloat64(leader); val != 1 {
		t.Errorf("Expected leader gauge 1, got %f", val)
	}
	SetLeader(false)
	if val := testutil.ToFloat64(leader); val != 0 {
		t.Errorf("Expected leader gauge 0, got %f", val)
	}

	SetETA(3600)
	if val := testutil.ToFloat64(etaSeconds); val != 3600 {
		t.Errorf("Expected eta gauge 3600, got %f", val)
	}

	hits := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("hit"))
	ObserveCache(true)
	if val := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("hit")); val != hits+1 {
		t.Errorf("Expected cache hit counter to grow by 1, got %f", val-hits)
	}
}
