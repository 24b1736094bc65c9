// Package sim runs a workload trace against a scheduling policy on a simulated machine with
// big and small cores.
package sim

import (
	"time"

	"hetsched/internal/scheduler"
	"hetsched/internal/topology"
)

// Domain is a fixed-frequency clock domain.
type Domain struct {
	FrequencyMHz uint64
}

// Cycles converts d into cycles of the domain, rounded to the nearest cycle.
func (d Domain) Cycles(elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return (uint64(elapsed.Nanoseconds())*d.FrequencyMHz + 500) / 1000
}

type counter struct {
	value uint64
}

func (c *counter) RecordMetric() uint64 { return c.value }

// Machine holds the per-core counters the performance model advances. It implements
// scheduler.Telemetry.
type Machine struct {
	classes      *topology.Classification
	domains      []Domain
	instructions []*counter
	elapsed      []*counter
}

func NewMachine(classes *topology.Classification, bigMHz, smallMHz uint64) *Machine {
	n := classes.NumCores()
	m := &Machine{
		classes:      classes,
		domains:      make([]Domain, n),
		instructions: make([]*counter, n),
		elapsed:      make([]*counter, n),
	}
	for core := 0; core < n; core++ {
		m.domains[core] = Domain{FrequencyMHz: smallMHz}
		if classes.IsBig(core) {
			m.domains[core] = Domain{FrequencyMHz: bigMHz}
		}
		m.instructions[core] = &counter{}
		m.elapsed[core] = &counter{}
	}
	return m
}

func (m *Machine) NumCores() int { return len(m.domains) }

func (m *Machine) Domain(core int) Domain { return m.domains[core] }

// Instructions returns the cumulative instruction count of a core.
func (m *Machine) Instructions(core int) uint64 { return m.instructions[core].value }

// GetMetric returns a nil interface for unknown components, names or cores.
func (m *Machine) GetMetric(component string, core int, name string) scheduler.Metric {
	if component != scheduler.MetricComponent || core < 0 || core >= len(m.domains) {
		return nil
	}
	switch name {
	case scheduler.MetricInstructionCount:
		return m.instructions[core]
	case scheduler.MetricElapsedTime:
		return m.elapsed[core]
	}
	return nil
}

func (m *Machine) GetCoreDomain(core int) scheduler.ClockDomain {
	if core < 0 || core >= len(m.domains) {
		return nil
	}
	return m.domains[core]
}

// tick advances every core's elapsed time by d.
func (m *Machine) tick(d time.Duration) {
	for _, c := range m.elapsed {
		c.value += uint64(d.Nanoseconds())
	}
}

func (m *Machine) retire(core int, instructions uint64) {
	m.instructions[core].value += instructions
}
