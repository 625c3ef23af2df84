package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/validata/internal/report"
)

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	if m.RunsTotal == nil || m.RunDuration == nil || m.RunsInFlight == nil {
		t.Error("run metrics not initialised")
	}
	if m.RowsProcessed == nil || m.ValidationErrors == nil {
		t.Error("validation metrics not initialised")
	}
	if m.Registry() != reg {
		t.Error("Registry() does not return the registry passed in")
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Registering twice on the default registry would panic.
	a, b := New(), New()
	a.RowsProcessed.Add(3)
	if got := testutil.ToFloat64(b.RowsProcessed); got != 0 {
		t.Errorf("second collector saw %v rows", got)
	}
}

func TestObserveReport(t *testing.T) {
	m := New()
	r := &report.Report{
		Status: report.StatusInvalid,
		Counts: report.Counts{Rows: 10},
		Errors: []report.Error{
			{Kind: report.KindType, Severity: report.SeverityError},
			{Kind: report.KindType, Severity: report.SeverityError},
			{Kind: report.KindExtraColumn, Severity: report.SeverityWarning},
		},
	}
	m.ObserveReport(r, 0.2)
	m.ObserveReport(&report.Report{
		Status:  report.StatusError,
		Failure: &report.Failure{Stage: "schema", Kind: "not-found"},
	}, 0.01)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid runs = %v", got)
	}
	if got := testutil.ToFloat64(m.RowsProcessed); got != 10 {
		t.Errorf("rows = %v", got)
	}
	if got := testutil.ToFloat64(m.ValidationErrors.WithLabelValues("type-error", "error")); got != 2 {
		t.Errorf("type errors = %v", got)
	}
	if got := testutil.ToFloat64(m.ResolutionFailures.WithLabelValues("schema", "not-found")); got != 1 {
		t.Errorf("resolution failures = %v", got)
	}
}

func TestNilCollector(t *testing.T) {
	var m *Collector
	m.ObserveReport(&report.Report{Status: report.StatusValid}, 1)
	m.AddFetched("data", 10)
	m.ObserveAborted(1)
}

func TestObserveAborted(t *testing.T) {
	m := New()
	m.ObserveAborted(0.5)

	if got := testutil.ToFloat64(m.RunsTotal.WithLabelValues("aborted")); got != 1 {
		t.Errorf("aborted runs = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.AddFetched("data", 2048)
	m.RunsTotal.WithLabelValues("valid").Inc()

	path := filepath.Join(t.TempDir(), "validata.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{
		`validata_fetched_bytes_total{target="data"} 2048`,
		`validata_runs_total{status="valid"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
