package scheduler

import (
	"io"
	"testing"
	"time"

	"hetsched/internal/logging"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeCounter struct {
	value uint64
}

func (c *fakeCounter) RecordMetric() uint64 { return c.value }

// fakeDomain runs at one cycle per nanosecond.
type fakeDomain struct{}

func (fakeDomain) Cycles(d time.Duration) uint64 { return uint64(d.Nanoseconds()) }

type fakeTelemetry struct {
	instructions []*fakeCounter
	elapsed      []*fakeCounter
}

func newFakeTelemetry(numCores int) *fakeTelemetry {
	f := &fakeTelemetry{}
	for i := 0; i < numCores; i++ {
		f.instructions = append(f.instructions, &fakeCounter{})
		f.elapsed = append(f.elapsed, &fakeCounter{})
	}
	return f
}

func (f *fakeTelemetry) GetMetric(component string, core int, name string) Metric {
	if component != MetricComponent {
		return nil
	}
	switch name {
	case MetricInstructionCount:
		return f.instructions[core]
	case MetricElapsedTime:
		return f.elapsed[core]
	}
	return nil
}

func (f *fakeTelemetry) GetCoreDomain(core int) ClockDomain { return fakeDomain{} }

// advance moves every core forward by 1000 cycles, retiring ipc[core] instructions so the next
// sample reads exactly that scaled IPC.
func (f *fakeTelemetry) advance(ipc ...int) {
	for core := range f.elapsed {
		f.elapsed[core].value += 1000
		if core < len(ipc) {
			f.instructions[core].value += uint64(ipc[core])
		}
	}
}

type harness struct {
	t         *testing.T
	sched     *BigSmallScheduler
	base      *pinned.Base
	classes   *topology.Classification
	telemetry *fakeTelemetry
	now       time.Duration
}

const testQuantum = time.Millisecond

func newHarness(t *testing.T, numCores int, bigCores []int, seed int64) *harness {
	t.Helper()
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	classes := topology.Classify(numCores, topology.NewCoreTags("big", bigCores))
	base := pinned.NewBase(numCores, time.Hour, quiet)
	telemetry := newFakeTelemetry(numCores)
	sched := NewBigSmallScheduler(base, classes, telemetry, Options{Quantum: testQuantum, Seed: seed})
	return &harness{t: t, sched: sched, base: base, classes: classes, telemetry: telemetry}
}

func (h *harness) create(n int) {
	for i := 0; i < n; i++ {
		h.sched.OnThreadCreated(pinned.ThreadID(h.base.NumThreads()), h.now)
	}
}

// tick advances past the quantum and runs one policy step with the given per-core IPCs.
func (h *harness) tick(ipc ...int) {
	h.t.Helper()
	h.telemetry.advance(ipc...)
	h.now += 2 * testQuantum
	if err := h.sched.OnPeriodicTick(h.now); err != nil {
		h.t.Fatalf("OnPeriodicTick: %v", err)
	}
}

// assertConsistent checks the base invariants, that every running thread's flag matches its
// core, and that live threads holding big status, running or waiting, never outnumber big cores.
func (h *harness) assertConsistent() {
	h.t.Helper()
	if err := h.base.CheckInvariants(); err != nil {
		h.t.Fatalf("base invariant: %v", err)
	}
	bigFlagged, runningBig := 0, 0
	for _, tid := range h.sched.sortedThreads() {
		class := h.sched.ThreadClass(tid)
		if class == topology.Big {
			bigFlagged++
		}
		if !h.base.IsRunning(tid) {
			continue
		}
		if class == topology.Big {
			runningBig++
		}
		if core := h.base.CoreOf(tid); h.classes.ClassOf(core) != class {
			h.t.Fatalf("thread %d flagged %s runs on %s core %d", tid, class, h.classes.ClassOf(core), core)
		}
	}
	occupiedBig := 0
	for _, core := range h.classes.Cores(topology.Big) {
		if h.base.RunningOn(core) != pinned.InvalidThread {
			occupiedBig++
		}
	}
	if runningBig != occupiedBig {
		h.t.Fatalf("running big threads %d, occupied big cores %d", runningBig, occupiedBig)
	}
	if bigFlagged > h.classes.NumBig() {
		h.t.Fatalf("big-flagged threads %d exceed big cores %d", bigFlagged, h.classes.NumBig())
	}
}

func sameMembers(t *testing.T, got []int, want ...int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
