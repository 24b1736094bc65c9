package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/dataframe"
	"hetsched/internal/logging"
	"hetsched/internal/scheduler"
	"hetsched/internal/topology"
)

func init() {
	logging.SetOutput(io.Discard)
}

const promotionTrace = `
simulation:
  name: promotion
  max_t_us: 100000
  step_us: 100
  scheduler:
    implementation: %s
    quantum_us: 1000
  cores:
    count: 2
    big: "0"
    big_frequency_mhz: 2000
    small_frequency_mhz: 1000
a:
  index: 0
  instructions: 10000000
  ipc_big: 1.0
  ipc_small: 1.0
b:
  index: 1
  instructions: 20000000
  ipc_big: 3.0
  ipc_small: 0.5
`

const phasedTrace = `
simulation:
  name: phased
  max_t_us: 200000
  step_us: 100
  scheduler:
    quantum_us: 1000
    seed: 3
  cores:
    count: 4
    big: "0-1"
    big_frequency_mhz: 2000
    small_frequency_mhz: 1000
t0:
  index: 0
  phases:
    - {instructions: 20000000, ipc_big: 2.0, ipc_small: 1.0}
    - {instructions: 10000000, ipc_big: 0.5, ipc_small: 0.4}
t1:
  index: 1
  instructions: 30000000
  ipc_big: 1.5
  ipc_small: 0.7
t2:
  index: 2
  phases:
    - {instructions: 3000000, ipc_big: 1.0, ipc_small: 0.6}
    - {instructions: 20000000, ipc_big: 3.0, ipc_small: 1.2}
t3:
  index: 3
  start_us: 500
  instructions: 8000000
  ipc_big: 1.2
  ipc_small: 1.0
  stalls:
    - {at_us: 3000, for_us: 2000, reason: io}
`

func mustSimulation(t *testing.T, trace string) *Simulation {
	t.Helper()
	cfg, err := config.ParseConfig(trace)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustRun(t *testing.T, trace string) (*Simulation, *Result) {
	t.Helper()
	s := mustSimulation(t, trace)
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := s.base.CheckInvariants(); err != nil {
		t.Fatalf("base invariant after run: %v", err)
	}
	return s, res
}

func TestDomain_CyclesRounds(t *testing.T) {
	d := Domain{FrequencyMHz: 2660}
	if got := d.Cycles(time.Nanosecond); got != 3 {
		t.Fatalf("expected 2.66 cycles to round to 3, got %d", got)
	}
	if got := d.Cycles(100 * time.Microsecond); got != 266000 {
		t.Fatalf("expected 266000 cycles, got %d", got)
	}
	if got := d.Cycles(0); got != 0 {
		t.Fatalf("expected 0 cycles, got %d", got)
	}
}

func TestMachine_UnknownMetricsAreNil(t *testing.T) {
	m := NewMachine(topology.Classify(2, topology.NewCoreTags("big", []int{0})), 2000, 1000)
	if m.GetMetric("cache", 0, scheduler.MetricInstructionCount) != nil {
		t.Fatalf("unknown component must yield nil")
	}
	if m.GetMetric(scheduler.MetricComponent, 0, "cycles") != nil {
		t.Fatalf("unknown metric must yield nil")
	}
	if m.GetMetric(scheduler.MetricComponent, 5, scheduler.MetricElapsedTime) != nil {
		t.Fatalf("unknown core must yield nil")
	}
	if m.GetCoreDomain(-1) != nil {
		t.Fatalf("unknown core must have no clock domain")
	}
	if m.Domain(0).FrequencyMHz != 2000 || m.Domain(1).FrequencyMHz != 1000 {
		t.Fatalf("domains do not follow the core classes")
	}
}

func TestThread_RunCrossesPhases(t *testing.T) {
	th := newThread(config.ThreadConfig{Phases: []config.PhaseConfig{
		{Instructions: 100, IPCBig: 2.0, IPCSmall: 1.0},
		{Instructions: 1000, IPCBig: 1.0, IPCSmall: 0.5},
	}})
	// 50 cycles finish phase 0, the remaining 30 run phase 1.
	if got := th.run(topology.Big, 80); got != 130 {
		t.Fatalf("expected 130 instructions, got %d", got)
	}
	if th.phase != 1 || th.remaining != 970 {
		t.Fatalf("expected phase 1 with 970 left, got phase %d with %d", th.phase, th.remaining)
	}
}

func TestThread_RunCarriesFractions(t *testing.T) {
	th := newThread(config.ThreadConfig{Instructions: 1000, IPCBig: 1, IPCSmall: 0.25})
	if got := th.run(topology.Small, 10); got != 2 {
		t.Fatalf("expected 2 whole instructions, got %d", got)
	}
	if got := th.run(topology.Small, 10); got != 3 {
		t.Fatalf("expected the carried half to complete a third instruction, got %d", got)
	}
}

func TestThread_RunStopsAtEnd(t *testing.T) {
	th := newThread(config.ThreadConfig{Instructions: 10, IPCBig: 1, IPCSmall: 1})
	if got := th.run(topology.Big, 1000); got != 10 || !th.finished {
		t.Fatalf("expected 10 instructions and completion, got %d finished=%v", got, th.finished)
	}
	if got := th.run(topology.Big, 1000); got != 0 {
		t.Fatalf("finished thread must not retire, got %d", got)
	}
}

func TestRun_BigExitPromotesWaitingSmallThread(t *testing.T) {
	_, bigSmall := mustRun(t, fmt.Sprintf(promotionTrace, scheduler.ImplementationBigSmall))
	_, pinnedRun := mustRun(t, fmt.Sprintf(promotionTrace, scheduler.ImplementationPinned))

	if !bigSmall.Completed || !pinnedRun.Completed {
		t.Fatalf("both runs should complete")
	}
	if len(bigSmall.Decisions) != 1 || bigSmall.Decisions[0].Kind != dataframe.DecisionPromote || bigSmall.Decisions[0].Promoted != 1 {
		t.Fatalf("expected one promotion of thread 1, got %+v", bigSmall.Decisions)
	}
	if len(pinnedRun.Decisions) != 0 {
		t.Fatalf("pinned baseline must not decide, got %+v", pinnedRun.Decisions)
	}

	a, b := bigSmall.Threads[0], bigSmall.Threads[1]
	if a.Finish != 5*time.Millisecond {
		t.Fatalf("thread a should exit at 5ms, got %v", a.Finish)
	}
	if b.Finish != 8*time.Millisecond {
		t.Fatalf("promoted thread should exit at 8ms, got %v", b.Finish)
	}
	if b.Migrations != 1 || b.BigTime != 3*time.Millisecond {
		t.Fatalf("expected one migration and 3ms on big, got %d and %v", b.Migrations, b.BigTime)
	}
	if got := pinnedRun.Threads[1].Finish; got != 40*time.Millisecond {
		t.Fatalf("pinned thread b should stay small and exit at 40ms, got %v", got)
	}
	if b.Instructions != 20000000 {
		t.Fatalf("thread b retired %d instructions", b.Instructions)
	}
}

func TestRun_Deterministic(t *testing.T) {
	_, first := mustRun(t, phasedTrace)
	_, second := mustRun(t, phasedTrace)

	if len(first.Decisions) == 0 {
		t.Fatalf("expected the phase change to trigger a decision")
	}
	if !reflect.DeepEqual(first.Decisions, second.Decisions) {
		t.Fatalf("decisions differ across identical runs")
	}
	if !reflect.DeepEqual(first.Threads, second.Threads) {
		t.Fatalf("thread results differ across identical runs")
	}
	if first.TraceChecksum != second.TraceChecksum || first.Elapsed != second.Elapsed {
		t.Fatalf("run summary differs across identical runs")
	}
}

func TestRun_PhasedTraceCompletes(t *testing.T) {
	_, res := mustRun(t, phasedTrace)
	if !res.Completed {
		t.Fatalf("expected every thread to exit before max_t, elapsed %v", res.Elapsed)
	}
	for _, th := range res.Threads {
		if !th.Finished || th.Instructions == 0 {
			t.Fatalf("thread %s did not finish: %+v", th.Key, th)
		}
		if th.BigTime+th.SmallTime > th.Finish-th.Start {
			t.Fatalf("thread %s ran longer than it lived", th.Key)
		}
	}
	if res.DataFrames.TotalSteps() == 0 {
		t.Fatalf("expected sampling steps in the data frames")
	}
}

const stallTrace = `
simulation:
  name: stall
  max_t_us: 10000
  step_us: 100
  scheduler:
    implementation: %s
    quantum_us: 1000
    pinned_quantum_us: 500
  cores:
    count: 1
    big_frequency_mhz: 1000
    small_frequency_mhz: 1000
a:
  index: 0
  instructions: 1000000
  ipc_big: 1.0
  ipc_small: 1.0
  stalls:
    - {at_us: 200, for_us: 300, reason: futex}
`

func TestRun_StallDelaysExit(t *testing.T) {
	_, res := mustRun(t, fmt.Sprintf(stallTrace, scheduler.ImplementationBigSmall))
	if got := res.Threads[0].Finish; got != 1300*time.Microsecond {
		t.Fatalf("expected exit at 1.3ms after a 300us stall, got %v", got)
	}
	if got := res.Threads[0].SmallTime; got != time.Millisecond {
		t.Fatalf("expected 1ms of execution, got %v", got)
	}
}

const oversubscribedTrace = `
simulation:
  name: oversubscribed
  max_t_us: 10000
  step_us: 100
  scheduler:
    implementation: pinned
    quantum_us: 1000
    pinned_quantum_us: 500
  cores:
    count: 1
    big_frequency_mhz: 1000
    small_frequency_mhz: 1000
a:
  index: 0
  instructions: 1000000
  ipc_big: 1.0
  ipc_small: 1.0
b:
  index: 1
  instructions: 1000000
  ipc_big: 1.0
  ipc_small: 1.0
`

func TestRun_OversubscribedCoreIsTimeSliced(t *testing.T) {
	_, res := mustRun(t, oversubscribedTrace)
	a, b := res.Threads[0], res.Threads[1]
	if !a.Finished || !b.Finished {
		t.Fatalf("both threads should finish")
	}
	// a yields at 500us, takes the core back at 1ms and hands it to b when it exits.
	if a.Finish != 1500*time.Microsecond || b.Finish != 2*time.Millisecond {
		t.Fatalf("expected exits at 1.5ms and 2ms, got %v and %v", a.Finish, b.Finish)
	}
	if res.Elapsed != 2*time.Millisecond {
		t.Fatalf("the core should never idle: expected 2ms, got %v", res.Elapsed)
	}
}

func TestRun_MaxTimeStopsIncomplete(t *testing.T) {
	cfg, err := config.ParseConfig(fmt.Sprintf(promotionTrace, scheduler.ImplementationPinned))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	cfg.Simulation.MaxTUs = 1000
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Completed || res.Elapsed != time.Millisecond || res.Steps != 10 {
		t.Fatalf("expected an incomplete 10 step run, got %+v", res)
	}
}

func TestRun_Cancelled(t *testing.T) {
	s := mustSimulation(t, phasedTrace)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_UnknownImplementation(t *testing.T) {
	cfg, err := config.ParseConfig(fmt.Sprintf(promotionTrace, "fifo"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if _, err := New(cfg); err == nil {
		t.Fatalf("expected an error for an unknown implementation")
	}
}
