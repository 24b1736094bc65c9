package scheduler

import (
	"fmt"
	"time"

	"hetsched/internal/dataframe"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	idset "github.com/intel/goresctrl/pkg/utils"
)

// Scheduler is the set of hooks the simulation loop delivers, serially, to a policy.
type Scheduler interface {
	Name() string
	GetVersion() string
	OnThreadCreated(tid pinned.ThreadID, now time.Duration)
	OnPeriodicTick(now time.Duration) error
	OnThreadStalled(tid pinned.ThreadID, reason pinned.StallReason, now time.Duration)
	OnThreadResumed(tid pinned.ThreadID, now time.Duration)
	OnThreadExited(tid pinned.ThreadID, now time.Duration)
	SetDataFrames(dataframes *dataframe.DataFrames)
}

// PinnedBase is the pinning layer the policies delegate affinity and occupancy to.
// *pinned.Base implements it.
type PinnedBase interface {
	NumCores() int
	NumThreads() int
	RunningOn(core int) pinned.ThreadID
	CoreOf(tid pinned.ThreadID) int
	IsRunning(tid pinned.ThreadID) bool
	SetAffinitySingle(tid pinned.ThreadID, core int)
	SetAffinity(tid pinned.ThreadID, mask idset.IDSet)
	ThreadStall(tid pinned.ThreadID, reason pinned.StallReason, now time.Duration)
	ThreadResume(tid pinned.ThreadID, now time.Duration)
	ThreadExit(tid pinned.ThreadID, now time.Duration)
	Periodic(now time.Duration)
}

var _ PinnedBase = (*pinned.Base)(nil)

// Metric is a monotonic counter read from the performance model.
type Metric interface {
	RecordMetric() uint64
}

// ClockDomain converts elapsed time into cycles of a core's frequency domain, rounding to the
// nearest cycle.
type ClockDomain interface {
	Cycles(d time.Duration) uint64
}

// Telemetry resolves per-core counters. Implementations return a nil interface when the
// source does not exist.
type Telemetry interface {
	GetMetric(component string, core int, name string) Metric
	GetCoreDomain(core int) ClockDomain
}

const (
	ImplementationBigSmall = "big_small"
	ImplementationPinned   = "pinned"
)

// Implementations lists the policies NewScheduler can build.
var Implementations = []string{ImplementationBigSmall, ImplementationPinned}

type Options struct {
	// Quantum is the minimum simulated time between two rebalancing decisions.
	Quantum time.Duration
	Debug   bool
	Seed    int64
}

func NewScheduler(implementation string, base PinnedBase, classes *topology.Classification, telemetry Telemetry, opts Options) (Scheduler, error) {
	switch implementation {
	case ImplementationBigSmall:
		return NewBigSmallScheduler(base, classes, telemetry, opts), nil
	case ImplementationPinned:
		return NewPinnedScheduler(base, classes), nil
	default:
		return nil, fmt.Errorf("unknown scheduler implementation %q", implementation)
	}
}
