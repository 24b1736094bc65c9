package host

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hetsched/internal/config"
	"hetsched/internal/logging"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// HostConfig contains host system configuration information
// This is initialized once at startup and used by the monitor
type HostConfig struct {
	// CPU Information
	CPUVendor  string
	CPUModel   string
	TotalCores int
	CPUs       []int

	// Hybrid Information
	Hybrid   bool
	BigCPUs  []int
	Source   string
	MaxFreqs map[int]int // cpu -> max frequency in MHz

	// System Information
	Hostname      string
	OSInfo        string
	KernelVersion string

	root   string
	logger *logrus.Logger
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
	hostConfigErr    error
)

// GetHostConfig returns the global host configuration
// It initializes the configuration on first call
func GetHostConfig() (*HostConfig, error) {
	hostConfigOnce.Do(func() {
		globalHostConfig, hostConfigErr = Discover("/")
	})
	return globalHostConfig, hostConfigErr
}

// Discover reads the CPU layout below root, which is "/" on a live system.
func Discover(root string) (*HostConfig, error) {
	logger := logging.GetLogger()
	logger.WithField("root", root).Debug("Discovering host configuration")

	hc := &HostConfig{
		root:     root,
		logger:   logger,
		MaxFreqs: make(map[int]int),
	}

	hc.initSystemInfo()

	if err := hc.initCPUInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize CPU info: %w", err)
	}

	hc.initFrequencyInfo()

	if err := hc.initHybridInfo(); err != nil {
		logger.WithError(err).Warn("Failed to detect hybrid cores, treating all cores as small")
		hc.BigCPUs = nil
		hc.Hybrid = false
	}

	logger.WithFields(logrus.Fields{
		"cpu_model":   hc.CPUModel,
		"total_cores": hc.TotalCores,
		"hybrid":      hc.Hybrid,
		"big_cpus":    config.FormatCPUSpec(hc.BigCPUs),
		"source":      hc.Source,
	}).Info("Host configuration initialized")

	return hc, nil
}

func (hc *HostConfig) path(parts ...string) string {
	return filepath.Join(append([]string{hc.root}, parts...)...)
}

func (hc *HostConfig) cpuPath(cpu int, parts ...string) string {
	return hc.path(append([]string{"sys", "devices", "system", "cpu", fmt.Sprintf("cpu%d", cpu)}, parts...)...)
}

func (hc *HostConfig) initSystemInfo() {
	if hostname, err := os.Hostname(); err == nil {
		hc.Hostname = hostname
	}

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	// Get kernel version from /proc/version
	if data, err := os.ReadFile(hc.path("proc", "version")); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}

	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
}

func (hc *HostConfig) initCPUInfo() error {
	if data, err := os.ReadFile(hc.path("sys", "devices", "system", "cpu", "online")); err == nil {
		cpus, err := config.ParseCPUSpec(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("invalid online cpu list: %w", err)
		}
		hc.CPUs = cpus
	} else {
		for i := 0; i < runtime.NumCPU(); i++ {
			hc.CPUs = append(hc.CPUs, i)
		}
	}
	sort.Ints(hc.CPUs)
	hc.TotalCores = len(hc.CPUs)

	file, err := os.Open(hc.path("proc", "cpuinfo"))
	if err != nil {
		hc.CPUVendor = "unknown"
		hc.CPUModel = "unknown"
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(parts[1])
		if strings.HasPrefix(line, "vendor_id") && hc.CPUVendor == "" {
			hc.CPUVendor = value
		} else if strings.HasPrefix(line, "model name") && hc.CPUModel == "" {
			hc.CPUModel = value
		}
	}

	if hc.CPUVendor == "" {
		hc.CPUVendor = "unknown"
	}
	if hc.CPUModel == "" {
		hc.CPUModel = "unknown"
	}
	return nil
}

func (hc *HostConfig) initFrequencyInfo() {
	for _, cpu := range hc.CPUs {
		khz, err := readInt(hc.cpuPath(cpu, "cpufreq", "cpuinfo_max_freq"))
		if err != nil {
			continue
		}
		hc.MaxFreqs[cpu] = khz / 1000
	}
}

// initHybridInfo tags big cores from the first source that distinguishes them: the
// kernel's cpu_core PMU list on Intel hybrid parts, then cpu_capacity on arm big.LITTLE,
// then cpufreq maximum frequencies.
func (hc *HostConfig) initHybridInfo() error {
	if data, err := os.ReadFile(hc.path("sys", "devices", "cpu_core", "cpus")); err == nil {
		cpus, err := config.ParseCPUSpec(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("invalid cpu_core list: %w", err)
		}
		hc.setBig(cpus, "cpu_core")
		return nil
	}

	capacities := make(map[int]int)
	for _, cpu := range hc.CPUs {
		if capacity, err := readInt(hc.cpuPath(cpu, "cpu_capacity")); err == nil {
			capacities[cpu] = capacity
		}
	}
	if big := highest(capacities); big != nil {
		hc.setBig(big, "cpu_capacity")
		return nil
	}

	if big := highest(hc.MaxFreqs); big != nil {
		hc.setBig(big, "cpufreq")
		return nil
	}

	hc.Source = "none"
	return nil
}

func (hc *HostConfig) setBig(cpus []int, source string) {
	sort.Ints(cpus)
	hc.BigCPUs = cpus
	hc.Hybrid = len(cpus) > 0 && len(cpus) < hc.TotalCores
	hc.Source = source
}

// highest returns the keys holding the maximum value, or nil when all values are equal.
func highest(values map[int]int) []int {
	if len(values) == 0 {
		return nil
	}
	hi, lo := 0, int(^uint(0)>>1)
	for _, v := range values {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if hi == lo {
		return nil
	}
	var keys []int
	for k, v := range values {
		if v == hi {
			keys = append(keys, k)
		}
	}
	sort.Ints(keys)
	return keys
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// IsBigCPU reports whether a host cpu number is tagged big.
func (hc *HostConfig) IsBigCPU(cpu int) bool {
	for _, c := range hc.BigCPUs {
		if c == cpu {
			return true
		}
	}
	return false
}

// HasTag implements topology.Tagger over application core ids, which index hc.CPUs.
func (hc *HostConfig) HasTag(kind string, id int, tag string) bool {
	if kind != "core" || tag != "big" || id < 0 || id >= len(hc.CPUs) {
		return false
	}
	return hc.IsBigCPU(hc.CPUs[id])
}

// Classification splits the online cpus into the big and small classes.
func (hc *HostConfig) Classification() *topology.Classification {
	return topology.Classify(hc.TotalCores, hc)
}

// CurrentFreqPath is the cpufreq file holding the current frequency of a cpu in kHz.
func (hc *HostConfig) CurrentFreqPath(cpu int) string {
	return hc.cpuPath(cpu, "cpufreq", "scaling_cur_freq")
}
