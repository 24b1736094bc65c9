package sim

import (
	"context"
	"fmt"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/dataframe"
	"hetsched/internal/logging"
	"hetsched/internal/pinned"
	"hetsched/internal/scheduler"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// ThreadResult summarizes one thread of the trace after a run.
type ThreadResult struct {
	ID           pinned.ThreadID `json:"id"`
	Key          string          `json:"key"`
	Start        time.Duration   `json:"start_ns"`
	Finish       time.Duration   `json:"finish_ns"`
	Finished     bool            `json:"finished"`
	Instructions uint64          `json:"instructions"`
	Migrations   int             `json:"migrations"`
	BigTime      time.Duration   `json:"big_time_ns"`
	SmallTime    time.Duration   `json:"small_time_ns"`
}

// Turnaround is the time from creation to exit, or zero for unfinished threads.
func (r ThreadResult) Turnaround() time.Duration {
	if !r.Finished {
		return 0
	}
	return r.Finish - r.Start
}

type Result struct {
	Name          string                `json:"name"`
	Scheduler     string                `json:"scheduler"`
	Seed          int64                 `json:"seed"`
	TraceChecksum string                `json:"trace_checksum"`
	Elapsed       time.Duration         `json:"elapsed_ns"`
	Steps         int                   `json:"steps"`
	Completed     bool                  `json:"completed"`
	Threads       []ThreadResult        `json:"threads"`
	Decisions     []dataframe.Decision  `json:"decisions"`
	DataFrames    *dataframe.DataFrames `json:"-"`
}

// Simulation wires a trace, a machine, the pinned base and one policy together.
type Simulation struct {
	config     *config.SimulationConfig
	classes    *topology.Classification
	machine    *Machine
	base       *pinned.Base
	sched      scheduler.Scheduler
	dataframes *dataframe.DataFrames
	threads    []*thread
	step       time.Duration
	maxT       time.Duration
	logger     *logrus.Logger
}

func New(cfg *config.SimulationConfig) (*Simulation, error) {
	info := cfg.Simulation
	impl := info.Scheduler.Implementation
	if impl == "" {
		impl = scheduler.ImplementationBigSmall
	}

	classes := topology.Classify(info.Cores.Count, topology.NewCoreTags("big", info.Cores.BigCores))
	machine := NewMachine(classes, uint64(info.Cores.BigFrequencyMHz), uint64(info.Cores.SmallFrequencyMHz))
	base := pinned.NewBase(classes.NumCores(), info.Scheduler.GetPinnedQuantum(), logging.GetLogger())

	sched, err := scheduler.NewScheduler(impl, base, classes, machine, scheduler.Options{
		Quantum: info.Scheduler.GetQuantum(),
		Debug:   info.Scheduler.Debug,
		Seed:    info.Scheduler.GetSeed(),
	})
	if err != nil {
		return nil, err
	}

	dataframes := dataframe.NewDataFrames()
	sched.SetDataFrames(dataframes)

	s := &Simulation{
		config:     cfg,
		classes:    classes,
		machine:    machine,
		base:       base,
		sched:      sched,
		dataframes: dataframes,
		step:       cfg.GetStep(),
		maxT:       cfg.GetMaxDuration(),
		logger:     logging.GetLogger(),
	}
	for _, tc := range cfg.GetThreadsSorted() {
		s.threads = append(s.threads, newThread(tc))
	}
	return s, nil
}

func (s *Simulation) Machine() *Machine { return s.machine }

func (s *Simulation) Classes() *topology.Classification { return s.classes }

// Run steps the machine until every thread has exited, max_t is reached or ctx is done.
// Within a step, creations and stalls are delivered at the step start, then the cores
// execute, then exits and the periodic tick are delivered at the step end.
func (s *Simulation) Run(ctx context.Context) (*Result, error) {
	s.logger.WithFields(logrus.Fields{
		"name":      s.config.Simulation.Name,
		"scheduler": s.sched.Name(),
		"cores":     s.classes.NumCores(),
		"big_cores": s.classes.NumBig(),
		"threads":   len(s.threads),
	}).Info("Starting simulation")

	var now time.Duration
	steps := 0
	for now < s.maxT && !s.done() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation interrupted at %v: %w", now, err)
		}

		s.deliverCreations(now)
		s.deliverStalls(now)
		finished := s.execute()
		now += s.step
		steps++

		for _, t := range finished {
			t.finish = now
			s.sched.OnThreadExited(t.id, now)
		}
		if err := s.sched.OnPeriodicTick(now); err != nil {
			return nil, fmt.Errorf("periodic tick at %v: %w", now, err)
		}
	}

	result, err := s.result(now, steps)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"elapsed":   result.Elapsed,
		"steps":     result.Steps,
		"completed": result.Completed,
		"decisions": len(result.Decisions),
	}).Info("Simulation finished")
	return result, nil
}

func (s *Simulation) done() bool {
	for _, t := range s.threads {
		if !t.finished {
			return false
		}
	}
	return true
}

func (s *Simulation) deliverCreations(now time.Duration) {
	for _, t := range s.threads {
		if t.created || now < t.start {
			continue
		}
		t.created = true
		s.logger.WithFields(logrus.Fields{"thread_id": t.id, "key": t.key}).Debug("Thread created")
		s.sched.OnThreadCreated(t.id, now)
	}
}

func (s *Simulation) deliverStalls(now time.Duration) {
	for _, t := range s.threads {
		if !t.created || t.finished {
			continue
		}
		if t.resumeDue(now) {
			t.stalled = false
			t.nextStall++
			s.sched.OnThreadResumed(t.id, now)
		}
		if w, ok := t.stallDue(now); ok {
			t.stalled = true
			s.sched.OnThreadStalled(t.id, w.reason, now)
		}
	}
}

// execute runs every occupied core for one step and returns the threads that finished.
func (s *Simulation) execute() []*thread {
	byID := make(map[pinned.ThreadID]*thread, len(s.threads))
	for _, t := range s.threads {
		byID[t.id] = t
	}

	var finished []*thread
	for core := 0; core < s.classes.NumCores(); core++ {
		t, ok := byID[s.base.RunningOn(core)]
		if !ok || t.finished || t.stalled {
			continue
		}
		class := s.classes.ClassOf(core)
		s.machine.retire(core, t.run(class, s.machine.Domain(core).Cycles(s.step)))
		if class == topology.Big {
			t.bigTime += s.step
		} else {
			t.smallTime += s.step
		}
		if t.finished {
			finished = append(finished, t)
		}
	}
	s.machine.tick(s.step)
	return finished
}

func (s *Simulation) result(now time.Duration, steps int) (*Result, error) {
	checksum, err := config.TraceChecksum(s.config)
	if err != nil {
		return nil, fmt.Errorf("trace checksum: %w", err)
	}
	r := &Result{
		Name:          s.config.Simulation.Name,
		Scheduler:     s.sched.Name(),
		Seed:          s.config.Simulation.Scheduler.GetSeed(),
		TraceChecksum: checksum,
		Elapsed:       now,
		Steps:         steps,
		Completed:     s.done(),
		Decisions:     s.dataframes.GetDecisions(),
		DataFrames:    s.dataframes,
	}
	for _, t := range s.threads {
		r.Threads = append(r.Threads, ThreadResult{
			ID:           t.id,
			Key:          t.key,
			Start:        t.start,
			Finish:       t.finish,
			Finished:     t.finished,
			Instructions: t.retired,
			Migrations:   s.base.Migrations(t.id),
			BigTime:      t.bigTime,
			SmallTime:    t.smallTime,
		})
	}
	return r, nil
}
