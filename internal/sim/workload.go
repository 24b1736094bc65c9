package sim

import (
	"math"
	"sort"
	"time"

	"hetsched/internal/config"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"
)

type stallWindow struct {
	at     time.Duration
	until  time.Duration
	reason pinned.StallReason
}

// thread is the runtime state of one trace entry.
type thread struct {
	id     pinned.ThreadID
	key    string
	start  time.Duration
	phases []config.PhaseConfig
	stalls []stallWindow

	created   bool
	finished  bool
	finish    time.Duration
	stalled   bool
	nextStall int

	phase     int
	remaining uint64
	carry     float64
	retired   uint64
	bigTime   time.Duration
	smallTime time.Duration
}

func newThread(cfg config.ThreadConfig) *thread {
	t := &thread{
		id:     pinned.ThreadID(cfg.Index),
		key:    cfg.KeyName,
		start:  cfg.GetStart(),
		phases: cfg.GetPhases(),
	}
	for _, s := range cfg.Stalls {
		at := time.Duration(s.AtUs) * time.Microsecond
		t.stalls = append(t.stalls, stallWindow{
			at:     at,
			until:  at + time.Duration(s.ForUs)*time.Microsecond,
			reason: pinned.StallReason(s.Reason),
		})
	}
	sort.Slice(t.stalls, func(i, j int) bool { return t.stalls[i].at < t.stalls[j].at })
	t.remaining = t.phases[0].Instructions
	return t
}

func (t *thread) ipc(class topology.Class) float64 {
	p := t.phases[t.phase]
	if class == topology.Big {
		return p.IPCBig
	}
	return p.IPCSmall
}

// run executes the thread for the given cycles on a core of the given class and returns the
// instructions retired. Fractional instructions carry over to the next step.
func (t *thread) run(class topology.Class, cycles uint64) uint64 {
	var retired uint64
	budget := float64(cycles)
	for budget > 0 && !t.finished {
		ipc := t.ipc(class)
		possible := budget*ipc + t.carry
		if possible < float64(t.remaining) {
			whole := math.Floor(possible)
			t.carry = possible - whole
			retired += uint64(whole)
			t.remaining -= uint64(whole)
			break
		}

		retired += t.remaining
		budget -= (float64(t.remaining) - t.carry) / ipc
		t.carry = 0
		t.phase++
		if t.phase == len(t.phases) {
			t.finished = true
			t.remaining = 0
			break
		}
		t.remaining = t.phases[t.phase].Instructions
	}
	t.retired += retired
	return retired
}

// stallDue reports the stall window that begins at or before now, if the thread is not
// already stalled.
func (t *thread) stallDue(now time.Duration) (stallWindow, bool) {
	if t.stalled || t.nextStall >= len(t.stalls) {
		return stallWindow{}, false
	}
	s := t.stalls[t.nextStall]
	if now < s.at {
		return stallWindow{}, false
	}
	return s, true
}

func (t *thread) resumeDue(now time.Duration) bool {
	return t.stalled && now >= t.stalls[t.nextStall].until
}
