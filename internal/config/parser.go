package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"hetsched/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*SimulationConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*SimulationConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)
	config, err := ParseConfig(originalContent)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}
	return config, originalContent, nil
}

// ParseConfig decodes and validates a configuration document after ${VAR} expansion.
func ParseConfig(content string) (*SimulationConfig, error) {
	expanded := expandEnvVars(content)

	var config SimulationConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, err
	}

	for keyName, thread := range config.Threads {
		thread.KeyName = keyName
		config.Threads[keyName] = thread
	}

	if spec := strings.TrimSpace(config.Simulation.Cores.Big); spec != "" {
		cpus, err := ParseCPUSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("cores.big: invalid CPU specification '%s': %w", spec, err)
		}
		config.Simulation.Cores.BigCores = cpus
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

// ParseCPUSpec parses CPU specification strings like "0", "0,2,4", or "0-3".
func ParseCPUSpec(spec string) ([]int, error) {
	var cpus []int
	seen := make(map[int]bool)

	parts := strings.Split(spec, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid CPU range: %s", part)
			}

			start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range start: %s", rangeParts[0])
			}

			end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid CPU range end: %s", rangeParts[1])
			}

			if start > end {
				return nil, fmt.Errorf("invalid CPU range: start > end (%d > %d)", start, end)
			}

			for i := start; i <= end; i++ {
				if !seen[i] {
					cpus = append(cpus, i)
					seen[i] = true
				}
			}
		} else {
			cpu, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid CPU number: %s", part)
			}

			if !seen[cpu] {
				cpus = append(cpus, cpu)
				seen[cpu] = true
			}
		}
	}

	if len(cpus) == 0 {
		return nil, fmt.Errorf("no CPUs specified")
	}

	return cpus, nil
}

// FormatCPUSpec renders cpus in canonical form, collapsing consecutive runs ("0-2,5").
func FormatCPUSpec(cpus []int) string {
	if len(cpus) == 0 {
		return ""
	}
	sorted := append([]int(nil), cpus...)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, cpu := range sorted[1:] {
		if cpu == prev {
			continue
		}
		if cpu == prev+1 {
			prev = cpu
			continue
		}
		flush()
		start, prev = cpu, cpu
	}
	flush()
	return strings.Join(parts, ",")
}

func validateConfig(config *SimulationConfig) error {
	sim := config.Simulation
	if sim.Name == "" {
		return fmt.Errorf("simulation name is required")
	}

	if sim.MaxTUs <= 0 {
		return fmt.Errorf("max_t_us must be greater than 0")
	}

	if sim.StepUs < 0 {
		return fmt.Errorf("step_us must not be negative")
	}

	if sim.Scheduler.QuantumUs <= 0 {
		return fmt.Errorf("scheduler quantum_us must be greater than 0")
	}

	cores := sim.Cores
	if cores.Count <= 0 {
		return fmt.Errorf("cores.count must be greater than 0")
	}
	for _, cpu := range cores.BigCores {
		if cpu < 0 || cpu >= cores.Count {
			return fmt.Errorf("cores.big: core %d out of range [0,%d)", cpu, cores.Count)
		}
	}
	if cores.BigFrequencyMHz <= 0 || cores.SmallFrequencyMHz <= 0 {
		return fmt.Errorf("core frequencies must be greater than 0")
	}

	if db := sim.Data.DB; db != nil {
		if db.Host == "" || db.Name == "" || db.Password == "" || db.Org == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	if len(config.Threads) == 0 {
		return fmt.Errorf("at least one thread must be defined")
	}

	indices := make(map[int]bool)
	for name, thread := range config.Threads {
		if thread.Index < 0 {
			return fmt.Errorf("thread %s: index must not be negative", name)
		}
		if thread.StartUs < 0 {
			return fmt.Errorf("thread %s: start_us must not be negative", name)
		}

		phases := thread.GetPhases()
		for i, phase := range phases {
			if phase.Instructions == 0 {
				return fmt.Errorf("thread %s: phase %d has no instructions", name, i)
			}
			if phase.IPCBig <= 0 || phase.IPCSmall <= 0 {
				return fmt.Errorf("thread %s: phase %d needs positive ipc_big and ipc_small", name, i)
			}
		}

		for i, stall := range thread.Stalls {
			if stall.AtUs < thread.StartUs || stall.ForUs <= 0 {
				return fmt.Errorf("thread %s: stall %d must start after the thread and last > 0", name, i)
			}
		}

		if indices[thread.Index] {
			return fmt.Errorf("thread %s: index %d is already used", name, thread.Index)
		}
		indices[thread.Index] = true
	}

	return nil
}
