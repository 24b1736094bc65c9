package host

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"hetsched/internal/logging"
	"hetsched/internal/topology"
)

func init() {
	logging.SetOutput(io.Discard)
}

func writeFile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestDiscover_IntelHybrid(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/devices/system/cpu/online", "0-5\n")
	writeFile(t, root, "sys/devices/cpu_core/cpus", "0-1\n")
	writeFile(t, root, "proc/cpuinfo", "vendor_id\t: GenuineIntel\nmodel name\t: Test Core i7-1265U\n")
	writeFile(t, root, "proc/version", "Linux version 6.8.0-test (gcc)\n")

	hc, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if hc.TotalCores != 6 || !hc.Hybrid || hc.Source != "cpu_core" {
		t.Fatalf("unexpected discovery %+v", hc)
	}
	if hc.CPUModel != "Test Core i7-1265U" || hc.CPUVendor != "GenuineIntel" || hc.KernelVersion != "6.8.0-test" {
		t.Fatalf("unexpected cpu info %q %q %q", hc.CPUVendor, hc.CPUModel, hc.KernelVersion)
	}

	classes := hc.Classification()
	if classes.NumBig() != 2 || !classes.IsBig(0) || !classes.IsBig(1) || classes.IsBig(2) {
		t.Fatalf("unexpected classification: %v", classes.Cores(topology.Big))
	}
}

func TestDiscover_CapacityAndFrequency(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/devices/system/cpu/online", "0-3")
	for cpu, capacity := range []string{"446", "446", "1024", "1024"} {
		writeFile(t, root, fmt.Sprintf("sys/devices/system/cpu/cpu%d/cpu_capacity", cpu), capacity)
	}
	for cpu, freq := range []string{"1800000", "1800000", "2400000", "2400000"} {
		writeFile(t, root, fmt.Sprintf("sys/devices/system/cpu/cpu%d/cpufreq/cpuinfo_max_freq", cpu), freq)
	}

	hc, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if hc.Source != "cpu_capacity" || len(hc.BigCPUs) != 2 || hc.BigCPUs[0] != 2 || hc.BigCPUs[1] != 3 {
		t.Fatalf("expected cpus 2-3 big from cpu_capacity, got %v from %s", hc.BigCPUs, hc.Source)
	}
	if hc.MaxFreqs[0] != 1800 || hc.MaxFreqs[3] != 2400 {
		t.Fatalf("unexpected max frequencies %v", hc.MaxFreqs)
	}
	if !hc.HasTag("core", 2, "big") || hc.HasTag("core", 1, "big") || hc.HasTag("socket", 2, "big") {
		t.Fatalf("HasTag does not follow the big cpus")
	}
}

func TestDiscover_Homogeneous(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/devices/system/cpu/online", "0-1")
	writeFile(t, root, "sys/devices/system/cpu/cpu0/cpufreq/cpuinfo_max_freq", "3000000")
	writeFile(t, root, "sys/devices/system/cpu/cpu1/cpufreq/cpuinfo_max_freq", "3000000")

	hc, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if hc.Hybrid || len(hc.BigCPUs) != 0 || hc.Source != "none" {
		t.Fatalf("expected a homogeneous host, got %+v", hc)
	}
	if hc.CPUModel != "unknown" {
		t.Fatalf("expected unknown model without cpuinfo, got %q", hc.CPUModel)
	}
}

func TestDiscover_InvalidOnlineList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sys/devices/system/cpu/online", "3-1")
	if _, err := Discover(root); err == nil {
		t.Fatalf("expected an error for an invalid online list")
	}
}
