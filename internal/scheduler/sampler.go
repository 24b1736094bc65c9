package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"hetsched/internal/topology"
)

const (
	MetricComponent        = "performance_model"
	MetricInstructionCount = "instruction_count"
	MetricElapsedTime      = "elapsed_time"

	// emptyIPC is the IPC of a core with no running thread.
	emptyIPC = 0
)

// ErrMissingTelemetry means a core lacks a counter or clock domain; IPC decisions are
// meaningless without them and the run must stop.
var ErrMissingTelemetry = errors.New("missing telemetry")

// CoreState is the per-core record of the state table.
type CoreState struct {
	ID    int
	Class topology.Class
	// IPC is the latest estimate, scaled by 1000.
	IPC   int
	Stats RunningStats

	instructions     Metric
	elapsed          Metric
	clock            ClockDomain
	lastInstructions uint64
	lastTime         uint64
}

func (c *CoreState) primed() bool {
	return c.instructions != nil
}

// Sampler turns cumulative per-core counters into IPC estimates.
type Sampler struct {
	telemetry Telemetry
	cores     []*CoreState
}

func NewSampler(telemetry Telemetry, classes *topology.Classification) *Sampler {
	s := &Sampler{
		telemetry: telemetry,
		cores:     make([]*CoreState, classes.NumCores()),
	}
	for i := range s.cores {
		s.cores[i] = &CoreState{ID: i, Class: classes.ClassOf(i)}
	}
	return s
}

func (s *Sampler) NumCores() int { return len(s.cores) }

func (s *Sampler) Core(core int) *CoreState { return s.cores[core] }

// Reset marks a core as empty.
func (s *Sampler) Reset(core int) {
	s.cores[core].IPC = emptyIPC
}

// Sample reads the counters of an occupied core and folds the core's IPC into its running
// statistics. The first call only resolves and primes the counters, and a window without
// cycles keeps the previous IPC; both still count as a sample. It reports whether a new IPC
// value was computed.
func (s *Sampler) Sample(now time.Duration, core int) (bool, error) {
	c := s.cores[core]
	if !c.primed() {
		if err := s.resolve(c); err != nil {
			return false, err
		}
		c.lastInstructions = c.instructions.RecordMetric()
		c.lastTime = c.elapsed.RecordMetric()
		c.Stats.Add(c.IPC)
		return false, nil
	}

	instructions := c.instructions.RecordMetric()
	elapsed := c.elapsed.RecordMetric()
	dInstructions := instructions - c.lastInstructions
	dCycles := c.clock.Cycles(time.Duration(elapsed - c.lastTime))
	c.lastInstructions = instructions
	c.lastTime = elapsed

	fresh := dCycles > 0
	if fresh {
		c.IPC = int(dInstructions * 1000 / dCycles)
	}
	c.Stats.Add(c.IPC)
	return fresh, nil
}

func (s *Sampler) resolve(c *CoreState) error {
	if s.telemetry == nil {
		return fmt.Errorf("core %d: no telemetry source: %w", c.ID, ErrMissingTelemetry)
	}
	c.instructions = s.telemetry.GetMetric(MetricComponent, c.ID, MetricInstructionCount)
	c.elapsed = s.telemetry.GetMetric(MetricComponent, c.ID, MetricElapsedTime)
	c.clock = s.telemetry.GetCoreDomain(c.ID)

	var missing []string
	if c.instructions == nil {
		missing = append(missing, MetricInstructionCount)
	}
	if c.elapsed == nil {
		missing = append(missing, MetricElapsedTime)
	}
	if c.clock == nil {
		missing = append(missing, "clock domain")
	}
	if len(missing) > 0 {
		c.instructions, c.elapsed, c.clock = nil, nil, nil
		return fmt.Errorf("core %d: %s: %w", c.ID, strings.Join(missing, ", "), ErrMissingTelemetry)
	}
	return nil
}
