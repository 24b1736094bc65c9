package scheduler

import (
	"time"

	"hetsched/internal/dataframe"
	"hetsched/internal/logging"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// PinnedScheduler only places threads round-robin and never migrates them between classes.
// It is the baseline the big/small policy is compared against.
type PinnedScheduler struct {
	name            string
	version         string
	schedulerLogger *logrus.Logger
	base            PinnedBase
	classes         *topology.Classification
	placement       roundRobin
}

func NewPinnedScheduler(base PinnedBase, classes *topology.Classification) *PinnedScheduler {
	return &PinnedScheduler{
		name:            ImplementationPinned,
		version:         "1.0.0",
		schedulerLogger: logging.GetSchedulerLogger(),
		base:            base,
		classes:         classes,
	}
}

func (ps *PinnedScheduler) Name() string { return ps.name }

func (ps *PinnedScheduler) GetVersion() string { return ps.version }

func (ps *PinnedScheduler) SetDataFrames(_ *dataframe.DataFrames) {}

func (ps *PinnedScheduler) OnThreadCreated(tid pinned.ThreadID, _ time.Duration) {
	core := ps.placement.assign(ps.base, ps.classes.NumCores())
	if core == pinned.InvalidCore {
		return
	}
	ps.base.SetAffinitySingle(tid, core)
	ps.schedulerLogger.WithFields(threadLogFields(tid, core, ps.classes.ClassOf(core))).Debug("Assigned initial core")
}

func (ps *PinnedScheduler) OnPeriodicTick(now time.Duration) error {
	ps.base.Periodic(now)
	return nil
}

func (ps *PinnedScheduler) OnThreadStalled(tid pinned.ThreadID, reason pinned.StallReason, now time.Duration) {
	ps.base.ThreadStall(tid, reason, now)
}

func (ps *PinnedScheduler) OnThreadResumed(tid pinned.ThreadID, now time.Duration) {
	ps.base.ThreadResume(tid, now)
}

func (ps *PinnedScheduler) OnThreadExited(tid pinned.ThreadID, now time.Duration) {
	ps.base.ThreadExit(tid, now)
}
