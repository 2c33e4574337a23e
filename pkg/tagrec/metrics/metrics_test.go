package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DocumentsIndexed.Add(3)
	m.CommitErrors.WithLabelValues("index").Inc()

	if got := testutil.ToFloat64(m.DocumentsIndexed); got != 3 {
		t.Errorf("documents_indexed_total = %v, want 3", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tagrec_commit_errors_total" {
			found = true
		}
	}
	if !found {
		t.Error("tagrec_commit_errors_total not registered")
	}
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ConsistencyErrors.Inc()
	if got := testutil.ToFloat64(m.ConsistencyErrors); got != 1 {
		t.Errorf("consistency_errors_total = %v", got)
	}

	// Two unregistered sets do not collide.
	_ = New(nil)
}
