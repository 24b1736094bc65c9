package config

import (
	"sort"
	"time"
)

type SimulationConfig struct {
	Simulation SimulationInfo          `yaml:"simulation"`
	Threads    map[string]ThreadConfig `yaml:",inline"`
}

type SimulationInfo struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	MaxTUs      int             `yaml:"max_t_us"`
	StepUs      int             `yaml:"step_us"`
	LogLevel    string          `yaml:"log_level"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Cores       CoresConfig     `yaml:"cores"`
	Data        DataConfig      `yaml:"data"`
}

type SchedulerConfig struct {
	Implementation  string `yaml:"implementation"`
	QuantumUs       int    `yaml:"quantum_us"`
	PinnedQuantumUs int    `yaml:"pinned_quantum_us"`
	Debug           bool   `yaml:"debug"`
	Seed            *int64 `yaml:"seed,omitempty"`
}

type CoresConfig struct {
	Count int `yaml:"count"`
	// Big is a cpu list ("0-1", "0,2") naming the cores tagged big.
	Big               string `yaml:"big"`
	BigFrequencyMHz   int    `yaml:"big_frequency_mhz"`
	SmallFrequencyMHz int    `yaml:"small_frequency_mhz"`

	// Populated by the loader from Big.
	BigCores []int `yaml:"-"`
}

type DataConfig struct {
	SpoolDir string          `yaml:"spool_dir"`
	DB       *DatabaseConfig `yaml:"db,omitempty"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

type ThreadConfig struct {
	// KeyName is the YAML key of the thread entry.
	KeyName string `yaml:"-"`

	Index        int           `yaml:"index"`
	StartUs      int           `yaml:"start_us"`
	Instructions uint64        `yaml:"instructions"`
	IPCBig       float64       `yaml:"ipc_big"`
	IPCSmall     float64       `yaml:"ipc_small"`
	Phases       []PhaseConfig `yaml:"phases,omitempty"`
	Stalls       []StallConfig `yaml:"stalls,omitempty"`
}

// PhaseConfig describes a slice of a thread's instruction stream with its own IPC profile.
type PhaseConfig struct {
	Instructions uint64  `yaml:"instructions"`
	IPCBig       float64 `yaml:"ipc_big"`
	IPCSmall     float64 `yaml:"ipc_small"`
}

type StallConfig struct {
	AtUs   int    `yaml:"at_us"`
	ForUs  int    `yaml:"for_us"`
	Reason string `yaml:"reason"`
}

const (
	DefaultSeed            int64 = 42
	DefaultStepUs                = 100
	DefaultPinnedQuantumUs       = 4000
)

func (c *SimulationConfig) GetMaxDuration() time.Duration {
	return time.Duration(c.Simulation.MaxTUs) * time.Microsecond
}

func (c *SimulationConfig) GetStep() time.Duration {
	if c.Simulation.StepUs <= 0 {
		return DefaultStepUs * time.Microsecond
	}
	return time.Duration(c.Simulation.StepUs) * time.Microsecond
}

func (s *SchedulerConfig) GetQuantum() time.Duration {
	return time.Duration(s.QuantumUs) * time.Microsecond
}

func (s *SchedulerConfig) GetPinnedQuantum() time.Duration {
	if s.PinnedQuantumUs <= 0 {
		return DefaultPinnedQuantumUs * time.Microsecond
	}
	return time.Duration(s.PinnedQuantumUs) * time.Microsecond
}

// GetSeed returns the configured seed, falling back to DefaultSeed so runs stay reproducible.
func (s *SchedulerConfig) GetSeed() int64 {
	if s.Seed == nil {
		return DefaultSeed
	}
	return *s.Seed
}

func (t *ThreadConfig) GetStart() time.Duration {
	return time.Duration(t.StartUs) * time.Microsecond
}

// GetPhases returns the explicit phases, or a single phase built from the flat profile.
func (t *ThreadConfig) GetPhases() []PhaseConfig {
	if len(t.Phases) > 0 {
		return t.Phases
	}
	return []PhaseConfig{{Instructions: t.Instructions, IPCBig: t.IPCBig, IPCSmall: t.IPCSmall}}
}

func (t *ThreadConfig) GetTotalInstructions() uint64 {
	var total uint64
	for _, p := range t.GetPhases() {
		total += p.Instructions
	}
	return total
}

func (c *SimulationConfig) GetThreadsSorted() []ThreadConfig {
	threads := make([]ThreadConfig, 0, len(c.Threads))
	for _, thread := range c.Threads {
		threads = append(threads, thread)
	}
	sort.Slice(threads, func(i, j int) bool {
		if threads[i].Index != threads[j].Index {
			return threads[i].Index < threads[j].Index
		}
		return threads[i].KeyName < threads[j].KeyName
	})
	return threads
}
