package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	before := testutil.CollectAndCount(PipelineStageDuration)
	ObserveStage("metrics_test_stage", time.Now().Add(-time.Millisecond))
	if after := testutil.CollectAndCount(PipelineStageDuration); after != before+1 {
		t.Fatalf("series=%d, want %d", after, before+1)
	}
}
