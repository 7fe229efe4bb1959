package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	for _, c := range []prometheus.Collector{DraftsActive, OrdersFinalized, OrdersCancelled} {
		if err := prometheus.Register(c); err == nil {
			t.Errorf("expected collector to be registered already")
		}
	}
}

func TestFinalizeRejections_Labels(t *testing.T) {
	before := testutil.ToFloat64(FinalizeRejections.WithLabelValues("consent_incomplete"))
	FinalizeRejections.WithLabelValues("consent_incomplete").Inc()
	after := testutil.ToFloat64(FinalizeRejections.WithLabelValues("consent_incomplete"))
	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}
