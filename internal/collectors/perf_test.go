package collectors

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCPUFreqDomain_ReadsCurrentFrequency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling_cur_freq")
	if err := os.WriteFile(path, []byte("2400000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d := NewCPUFreqDomain(path, 1000)
	if d == nil {
		t.Fatalf("expected a domain")
	}
	if got := d.Cycles(time.Microsecond); got != 2400 {
		t.Fatalf("expected 2400 cycles at 2.4GHz, got %d", got)
	}

	// Frequency changes are picked up on the next conversion.
	if err := os.WriteFile(path, []byte("800000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := d.Cycles(time.Microsecond); got != 800 {
		t.Fatalf("expected 800 cycles at 800MHz, got %d", got)
	}
}

func TestCPUFreqDomain_Fallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	d := NewCPUFreqDomain(missing, 1500)
	if d == nil {
		t.Fatalf("expected a fallback domain")
	}
	if got := d.Cycles(2 * time.Microsecond); got != 3000 {
		t.Fatalf("expected 3000 cycles, got %d", got)
	}
	if NewCPUFreqDomain(missing, 0) != nil {
		t.Fatalf("expected no domain without a source")
	}
}

func TestPerfTelemetry_UnknownMetricsAreNil(t *testing.T) {
	pt := &PerfTelemetry{}
	if pt.GetMetric("performance_model", 0, "instruction_count") != nil {
		t.Fatalf("expected nil metric for an unknown core")
	}
	if pt.GetCoreDomain(0) != nil {
		t.Fatalf("expected nil domain for an unknown core")
	}
}
