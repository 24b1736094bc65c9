package scheduler

import (
	"time"

	"hetsched/internal/dataframe"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"
)

// pickBigThread promotes one running small thread, chosen uniformly from the eligible set in
// ascending thread id order. Without candidates, or when the live big threads already match the
// big cores, nothing is promoted.
func (bs *BigSmallScheduler) pickBigThread(now time.Duration) {
	if bs.bigThreads() >= bs.classes.NumBig() {
		bs.schedulerLogger.Debug("Every big core is already claimed, skipping promotion")
		return
	}

	var eligible []pinned.ThreadID
	for _, tid := range bs.sortedThreads() {
		if bs.threadClass[tid] == topology.Small && bs.base.IsRunning(tid) {
			eligible = append(eligible, tid)
		}
	}
	if len(eligible) == 0 {
		bs.schedulerLogger.Debug("No small thread eligible for promotion")
		return
	}

	tid := eligible[bs.rng.Intn(len(eligible))]
	bs.moveTo(tid, topology.Big)
	bs.record(dataframe.Decision{
		Time:      now,
		Kind:      dataframe.DecisionPromote,
		Demoted:   int(pinned.InvalidThread),
		Promoted:  int(tid),
		BigCore:   pinned.InvalidCore,
		SmallCore: pinned.InvalidCore,
	})

	if bs.debug {
		bs.schedulerLogger.WithField("thread_id", tid).Info("Thread promoted to big core")
	}
}
