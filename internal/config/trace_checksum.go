package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type traceChecksumEntry struct {
	Key     string        `json:"key"`
	Index   int           `json:"index"`
	StartUs int           `json:"start_us"`
	Phases  []PhaseConfig `json:"phases"`
	Stalls  []StallConfig `json:"stalls,omitempty"`
}

type traceChecksumPayload struct {
	Cores   CoresConfig          `json:"cores"`
	Threads []traceChecksumEntry `json:"threads"`
}

// TraceChecksum returns a short, stable checksum that identifies the effective workload trace
// (machine shape plus thread schedule), independent of scheduler choice.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func TraceChecksum(cfg *SimulationConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	entries := make([]traceChecksumEntry, 0, len(cfg.Threads))
	for key, t := range cfg.Threads {
		entries = append(entries, traceChecksumEntry{
			Key:     key,
			Index:   t.Index,
			StartUs: t.StartUs,
			Phases:  t.GetPhases(),
			Stalls:  t.Stalls,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Index != entries[j].Index {
			return entries[i].Index < entries[j].Index
		}
		return entries[i].Key < entries[j].Key
	})

	cores := cfg.Simulation.Cores
	cores.Big = FormatCPUSpec(cores.BigCores)
	payload := traceChecksumPayload{Cores: cores, Threads: entries}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
