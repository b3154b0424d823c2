package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	m, ok := c.(prometheus.Metric)
	if !ok {
		t.Fatalf("%T is not a single metric", c)
	}
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	switch {
	case out.Counter != nil:
		return out.Counter.GetValue()
	case out.Gauge != nil:
		return out.Gauge.GetValue()
	}
	t.Fatalf("unsupported metric type %T", c)
	return 0
}

func TestRecordArtifactWrite(t *testing.T) {
	m := DefaultMetrics
	writes := m.ArtifactWrites.WithLabelValues("test-artifact")
	errs := m.ArtifactErrors.WithLabelValues("test-artifact")
	w0, e0 := value(t, writes), value(t, errs)

	m.RecordArtifactWrite("test-artifact", nil)
	m.RecordArtifactWrite("test-artifact", errors.New("disk full"))

	if got := value(t, writes) - w0; got != 2 {
		t.Errorf("expected 2 writes, got %v", got)
	}
	if got := value(t, errs) - e0; got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestRecordSessionState_OneHot(t *testing.T) {
	m := DefaultMetrics
	all := []string{"idle", "running", "failed"}

	m.RecordSessionState("running", all)
	for _, s := range all {
		want := 0.0
		if s == "running" {
			want = 1
		}
		if got := value(t, m.SessionState.WithLabelValues(s)); got != want {
			t.Errorf("state %s: expected %v, got %v", s, want, got)
		}
	}
}

func TestRecordQueueDropped(t *testing.T) {
	m := DefaultMetrics
	c := m.QueueDropped.WithLabelValues("test-queue")
	before := value(t, c)

	m.RecordQueueDropped("test-queue", 0)
	m.RecordQueueDropped("test-queue", 3)

	if got := value(t, c) - before; got != 3 {
		t.Errorf("expected 3 dropped, got %v", got)
	}
}

func TestRecordStreamConnected(t *testing.T) {
	m := DefaultMetrics
	m.RecordStreamConnected(true)
	if got := value(t, m.StreamConnected); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	m.RecordStreamConnected(false)
	if got := value(t, m.StreamConnected); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}
