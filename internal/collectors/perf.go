package collectors

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"hetsched/internal/host"
	"hetsched/internal/logging"
	"hetsched/internal/scheduler"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// instructionCounter is a system-wide instructions event on one cpu. Reads are scaled for
// multiplexing and accumulated, so the exposed value stays monotonic.
type instructionCounter struct {
	event *perf.Event
	mutex sync.Mutex
	last  eventState
	total uint64
	// enabled is the latest cumulative enabled time, shared with the elapsed metric.
	enabled time.Duration
}

func (c *instructionCounter) read() {
	count, err := c.event.ReadCount()
	if err != nil {
		return
	}
	deltaValue := count.Value - c.last.value
	deltaEnabled := count.Enabled - c.last.enabled
	deltaRunning := count.Running - c.last.running

	scaled := deltaValue
	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		scaled = uint64(float64(deltaValue) * float64(deltaEnabled) / float64(deltaRunning))
	}
	c.total += scaled
	c.enabled = count.Enabled
	c.last = eventState{value: count.Value, enabled: count.Enabled, running: count.Running}
}

func (c *instructionCounter) RecordMetric() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.read()
	return c.total
}

// elapsedCounter reports the enabled time of the cpu's event in nanoseconds.
type elapsedCounter struct {
	counter *instructionCounter
}

func (e elapsedCounter) RecordMetric() uint64 {
	e.counter.mutex.Lock()
	defer e.counter.mutex.Unlock()
	e.counter.read()
	return uint64(e.counter.enabled.Nanoseconds())
}

// PerfTelemetry exposes host cpus to the scheduler's sampler. Application core i maps to
// cpus[i].
type PerfTelemetry struct {
	cpus     []int
	counters []*instructionCounter
	domains  []scheduler.ClockDomain
	logger   *logrus.Logger
}

func NewPerfTelemetry(hc *host.HostConfig) (*PerfTelemetry, error) {
	logger := logging.GetLogger()
	pt := &PerfTelemetry{
		cpus:   hc.CPUs,
		logger: logger,
	}

	for _, cpu := range hc.CPUs {
		attr := &perf.Attr{}
		perf.Instructions.Configure(attr)
		// Enable time tracking for multiplexing correction
		attr.CountFormat.Enabled = true
		attr.CountFormat.Running = true

		event, err := perf.Open(attr, perf.AllThreads, cpu, nil)
		if err != nil {
			pt.Close()
			logger.WithField("cpu", cpu).WithError(err).Error("Failed to open perf event")
			return nil, fmt.Errorf("open instructions counter on cpu %d: %w", cpu, err)
		}
		pt.counters = append(pt.counters, &instructionCounter{event: event})
		pt.domains = append(pt.domains, NewCPUFreqDomain(hc.CurrentFreqPath(cpu), hc.MaxFreqs[cpu]))
	}

	for i, c := range pt.counters {
		if err := c.event.Enable(); err != nil {
			pt.Close()
			return nil, fmt.Errorf("failed to enable perf event on cpu %d: %w", pt.cpus[i], err)
		}
	}

	logger.WithField("num_cpus", len(pt.cpus)).Info("Perf telemetry enabled")
	return pt, nil
}

func (pt *PerfTelemetry) GetMetric(component string, core int, name string) scheduler.Metric {
	if component != scheduler.MetricComponent || core < 0 || core >= len(pt.counters) {
		return nil
	}
	switch name {
	case scheduler.MetricInstructionCount:
		return pt.counters[core]
	case scheduler.MetricElapsedTime:
		return elapsedCounter{counter: pt.counters[core]}
	}
	return nil
}

func (pt *PerfTelemetry) GetCoreDomain(core int) scheduler.ClockDomain {
	if core < 0 || core >= len(pt.domains) || pt.domains[core] == nil {
		return nil
	}
	return pt.domains[core]
}

func (pt *PerfTelemetry) Close() {
	for _, c := range pt.counters {
		if c != nil && c.event != nil {
			c.event.Close()
		}
	}
	pt.counters = nil
}

// CPUFreqDomain converts time to cycles at the cpu's current cpufreq frequency, falling
// back to a fixed frequency when the file cannot be read.
type CPUFreqDomain struct {
	path        string
	fallbackMHz int
}

// NewCPUFreqDomain returns nil when neither a cpufreq file nor a fallback is available.
func NewCPUFreqDomain(path string, fallbackMHz int) scheduler.ClockDomain {
	if _, err := os.Stat(path); err != nil && fallbackMHz <= 0 {
		return nil
	}
	return &CPUFreqDomain{path: path, fallbackMHz: fallbackMHz}
}

func (d *CPUFreqDomain) FrequencyMHz() int {
	if data, err := os.ReadFile(d.path); err == nil {
		if khz, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && khz > 0 {
			return khz / 1000
		}
	}
	return d.fallbackMHz
}

func (d *CPUFreqDomain) Cycles(elapsed time.Duration) uint64 {
	mhz := d.FrequencyMHz()
	if elapsed <= 0 || mhz <= 0 {
		return 0
	}
	return (uint64(elapsed.Nanoseconds())*uint64(mhz) + 500) / 1000
}
