package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipeline(reg)
	m.ObserveFrame(10*time.Millisecond, 4, 1, 2)
	m.ObserveFrame(20*time.Millisecond, 5, 1, 0)
	m.ObserveEdit("toggle_division", nil, 1)
	m.ObserveEdit("delete_cell", errors.New("boom"), 0)

	if v := testutil.ToFloat64(m.frames); v != 2 {
		t.Errorf("Expected 2 frames, got %v", v)
	}
	if v := testutil.ToFloat64(m.cells); v != 5 {
		t.Errorf("Expected 5 cells, got %v", v)
	}
	if v := testutil.ToFloat64(m.newCells); v != 2 {
		t.Errorf("Expected 2 new cells, got %v", v)
	}
	if v := testutil.ToFloat64(m.warnings); v != 3 {
		t.Errorf("Expected 3 warnings, got %v", v)
	}
	if v := testutil.ToFloat64(m.edits.WithLabelValues("delete_cell", "error")); v != 1 {
		t.Errorf("Expected failed delete to be counted, got %v", v)
	}
	if n := testutil.CollectAndCount(reg); n == 0 {
		t.Error("Collectors are not registered")
	}
}

func TestNilPipeline(t *testing.T) {
	var m *Pipeline
	m.ObserveFrame(time.Second, 1, 1, 1)
	m.SegmenterFailed()
	m.ObserveEdit("reassign_bud", nil, 0)
	m.ObserveRun(nil)
}
