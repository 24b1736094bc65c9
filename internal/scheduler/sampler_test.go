package scheduler

import (
	"errors"
	"testing"
	"time"

	"hetsched/internal/topology"
)

func newTestSampler(numCores int) (*Sampler, *fakeTelemetry) {
	telemetry := newFakeTelemetry(numCores)
	classes := topology.Classify(numCores, topology.NewCoreTags("big", []int{0}))
	return NewSampler(telemetry, classes), telemetry
}

func TestSampler_FirstCallPrimesAndCountsCurrentIPC(t *testing.T) {
	s, telemetry := newTestSampler(1)
	telemetry.advance(5000)

	fresh, err := s.Sample(time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if fresh || s.Core(0).IPC != 0 {
		t.Fatalf("priming call must not compute an IPC")
	}
	if s.Core(0).Stats.Count != 1 || s.Core(0).Stats.Sum != 0 {
		t.Fatalf("priming call must count the current IPC, got %+v", s.Core(0).Stats)
	}

	telemetry.advance(1500)
	fresh, err = s.Sample(2*time.Millisecond, 0)
	if err != nil || !fresh {
		t.Fatalf("expected fresh sample, got fresh=%v err=%v", fresh, err)
	}
	if s.Core(0).IPC != 1500 || s.Core(0).Stats.Mean() != 750 {
		t.Fatalf("expected IPC 1500 with mean 750, got %d / %v", s.Core(0).IPC, s.Core(0).Stats.Mean())
	}
}

func TestSampler_ZeroCyclesKeepsIPC(t *testing.T) {
	s, telemetry := newTestSampler(1)
	s.Sample(0, 0)
	telemetry.advance(800)
	s.Sample(time.Millisecond, 0)

	// Instructions retire but no time passes.
	telemetry.instructions[0].value += 10000
	fresh, err := s.Sample(2*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if fresh {
		t.Fatalf("zero cycles must not yield a new IPC")
	}
	if s.Core(0).IPC != 800 || s.Core(0).Stats.Count != 3 || s.Core(0).Stats.Sum != 1600 {
		t.Fatalf("expected IPC 800 counted again, got %d / %+v", s.Core(0).IPC, s.Core(0).Stats)
	}

	// The cached values were refreshed, so the skipped instructions do not leak into the next delta.
	telemetry.advance(600)
	s.Sample(3*time.Millisecond, 0)
	if s.Core(0).IPC != 600 {
		t.Fatalf("expected IPC 600, got %d", s.Core(0).IPC)
	}
}

func TestSampler_ResetClearsIPCOnly(t *testing.T) {
	s, telemetry := newTestSampler(1)
	s.Sample(0, 0)
	telemetry.advance(900)
	s.Sample(time.Millisecond, 0)

	s.Reset(0)
	if s.Core(0).IPC != emptyIPC {
		t.Fatalf("expected empty IPC, got %d", s.Core(0).IPC)
	}
	if s.Core(0).Stats.Count != 2 {
		t.Fatalf("reset must keep the running statistics")
	}
}

func TestSampler_NilTelemetry(t *testing.T) {
	classes := topology.Classify(1, nil)
	s := NewSampler(nil, classes)
	if _, err := s.Sample(0, 0); !errors.Is(err, ErrMissingTelemetry) {
		t.Fatalf("expected ErrMissingTelemetry, got %v", err)
	}
}

type noCounters struct{}

func (noCounters) GetMetric(string, int, string) Metric { return nil }
func (noCounters) GetCoreDomain(int) ClockDomain { return fakeDomain{} }

func TestSampler_MissingCountersNamed(t *testing.T) {
	classes := topology.Classify(2, nil)
	s := NewSampler(noCounters{}, classes)
	_, err := s.Sample(0, 1)
	if !errors.Is(err, ErrMissingTelemetry) {
		t.Fatalf("expected ErrMissingTelemetry, got %v", err)
	}
	want := "core 1: instruction_count, elapsed_time: missing telemetry"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestRunningStats(t *testing.T) {
	var r RunningStats
	if r.Mean() != 0 || r.Variance() != 0 {
		t.Fatalf("empty stats must be zero")
	}
	r.Add(1300)
	r.Add(500)
	if r.Mean() != 900 {
		t.Fatalf("expected mean 900, got %v", r.Mean())
	}
	// Deviations against the running mean: 0 after the first sample, 500-900 after the second.
	if r.SumSqDev != 160000 {
		t.Fatalf("expected sum of squared deviations 160000, got %d", r.SumSqDev)
	}
	// Reported in unscaled IPC units.
	if r.Variance() != 80 {
		t.Fatalf("expected variance 80, got %v", r.Variance())
	}
}
