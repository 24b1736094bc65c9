package scheduler

import (
	"math"
	"time"

	"hetsched/internal/dataframe"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// Search sentinels: no occupied big core can reach emptyBig, and a small core must beat
// emptySmall to count as a candidate.
const (
	emptyBig   = math.MaxInt
	emptySmall = 0
)

// OnPeriodicTick runs the rebalancing policy at most once per quantum and then lets the base
// time-slice. A missing telemetry source is returned as a fatal error.
func (bs *BigSmallScheduler) OnPeriodicTick(now time.Duration) error {
	acted := false
	if now > bs.lastReshuffle+bs.quantum {
		bs.tick++
		if err := bs.sampleCores(now); err != nil {
			return err
		}
		bs.rebalance(now)
		bs.lastReshuffle = now
		acted = true
	}

	bs.base.Periodic(now)

	if acted && bs.debug {
		bs.logState(now)
	}
	return nil
}

// sampleCores refreshes every core before any decision is taken. Every occupied core adds one
// sample to its statistics and data frame per gated tick.
func (bs *BigSmallScheduler) sampleCores(now time.Duration) error {
	for core := 0; core < bs.classes.NumCores(); core++ {
		running := bs.base.RunningOn(core)
		if running == pinned.InvalidThread {
			bs.sampler.Reset(core)
			continue
		}
		fresh, err := bs.sampler.Sample(now, core)
		if err != nil {
			return err
		}

		c := bs.sampler.Core(core)
		bs.schedulerLogger.WithFields(coreLogFields(c, running)).WithField("fresh", fresh).Debug("Sampled core IPC")
		if bs.dataframes != nil {
			bs.dataframes.AddCore(core).AddStep(bs.tick, &dataframe.SamplingStep{
				Time:        now,
				ThreadID:    int(running),
				Class:       c.Class.String(),
				IPC:         c.IPC,
				MeanIPC:     c.Stats.Mean(),
				VarianceIPC: c.Stats.Variance(),
				Samples:     c.Stats.Count,
			})
		}
	}
	return nil
}

// weakestBig returns the occupied big core with the lowest IPC, lowest id on ties.
func (bs *BigSmallScheduler) weakestBig() (int, bool) {
	minIPC := emptyBig
	found := pinned.InvalidCore
	for _, core := range bs.classes.Cores(topology.Big) {
		if bs.base.RunningOn(core) == pinned.InvalidThread {
			continue
		}
		if ipc := bs.sampler.Core(core).IPC; ipc < minIPC {
			minIPC = ipc
			found = core
		}
	}
	return found, found != pinned.InvalidCore
}

// strongestSmall returns the occupied small core with the highest IPC, lowest id on ties.
func (bs *BigSmallScheduler) strongestSmall() (int, bool) {
	maxIPC := emptySmall
	found := pinned.InvalidCore
	for _, core := range bs.classes.Cores(topology.Small) {
		if bs.base.RunningOn(core) == pinned.InvalidThread {
			continue
		}
		if ipc := bs.sampler.Core(core).IPC; ipc > maxIPC {
			maxIPC = ipc
			found = core
		}
	}
	return found, found != pinned.InvalidCore
}

func (bs *BigSmallScheduler) rebalance(now time.Duration) {
	bigCore, ok := bs.weakestBig()
	if !ok {
		return
	}
	big := bs.sampler.Core(bigCore)
	if float64(big.IPC) >= big.Stats.Mean() {
		return
	}
	victim := bs.base.RunningOn(bigCore)

	decision := dataframe.Decision{
		Time:      now,
		Kind:      dataframe.DecisionDemote,
		Demoted:   int(victim),
		Promoted:  int(pinned.InvalidThread),
		BigCore:   bigCore,
		SmallCore: pinned.InvalidCore,
		BigIPC:    big.IPC,
	}

	smallCore, ok := bs.strongestSmall()
	if ok {
		small := bs.sampler.Core(smallCore)
		decision.SmallCore = smallCore
		decision.SmallIPC = small.IPC
		if float64(small.IPC) > small.Stats.Mean() {
			candidate := bs.base.RunningOn(smallCore)
			decision.Kind = dataframe.DecisionSwap
			decision.Promoted = int(candidate)

			bs.schedulerLogger.WithFields(logrus.Fields{
				"big_thread":     victim,
				"small_thread":   candidate,
				"big_ipc":        big.IPC,
				"small_ipc":      small.IPC,
				"big_mean_ipc":   big.Stats.Mean(),
				"small_mean_ipc": small.Stats.Mean(),
			}).Info("Swapping threads between big and small cores")

			bs.moveTo(victim, topology.Small)
			bs.moveTo(candidate, topology.Big)
			bs.record(decision)
			return
		}
	}

	bs.moveTo(victim, topology.Small)
	bs.record(decision)
}
