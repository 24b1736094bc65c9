package scheduler

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"hetsched/internal/dataframe"
	"hetsched/internal/logging"
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

// BigSmallScheduler pins new threads round-robin, then every quantum compares the weakest
// big core and the strongest small core against their own running mean IPC and moves
// threads between the two classes. When a big thread exits, a random running small thread
// is promoted in its place.
type BigSmallScheduler struct {
	name            string
	version         string
	schedulerLogger *logrus.Logger

	base    PinnedBase
	classes *topology.Classification
	sampler *Sampler

	quantum       time.Duration
	debug         bool
	rng           *rand.Rand
	placement     roundRobin
	lastReshuffle time.Duration
	tick          int

	threadClass map[pinned.ThreadID]topology.Class
	decisions   []dataframe.Decision
	dataframes  *dataframe.DataFrames
}

func NewBigSmallScheduler(base PinnedBase, classes *topology.Classification, telemetry Telemetry, opts Options) *BigSmallScheduler {
	bs := &BigSmallScheduler{
		name:            ImplementationBigSmall,
		version:         "1.0.0",
		schedulerLogger: logging.GetSchedulerLogger(),
		base:            base,
		classes:         classes,
		sampler:         NewSampler(telemetry, classes),
		quantum:         opts.Quantum,
		debug:           opts.Debug,
		rng:             rand.New(rand.NewSource(opts.Seed)),
		threadClass:     make(map[pinned.ThreadID]topology.Class),
	}
	bs.schedulerLogger.WithFields(logrus.Fields{
		"cores":     classes.NumCores(),
		"big_cores": classes.NumBig(),
		"quantum":   opts.Quantum,
		"seed":      opts.Seed,
	}).Info("Big/small scheduler initialized")
	return bs
}

func (bs *BigSmallScheduler) Name() string { return bs.name }

func (bs *BigSmallScheduler) GetVersion() string { return bs.version }

func (bs *BigSmallScheduler) SetDataFrames(dataframes *dataframe.DataFrames) {
	bs.dataframes = dataframes
}

// Decisions returns every class change made so far, in order.
func (bs *BigSmallScheduler) Decisions() []dataframe.Decision {
	return append([]dataframe.Decision(nil), bs.decisions...)
}

// ThreadClass reports the class flag of a thread; unknown threads are small.
func (bs *BigSmallScheduler) ThreadClass(tid pinned.ThreadID) topology.Class {
	return bs.threadClass[tid]
}

// CoreState exposes the state-table record of a core.
func (bs *BigSmallScheduler) CoreState(core int) *CoreState {
	return bs.sampler.Core(core)
}

// OnThreadCreated places the thread round-robin. A big core is only handed out while fewer
// threads hold big status than there are big cores; otherwise the thread queues on a small core.
func (bs *BigSmallScheduler) OnThreadCreated(tid pinned.ThreadID, now time.Duration) {
	core := bs.placement.assign(bs.base, bs.classes.NumCores())
	if core == pinned.InvalidCore {
		return
	}
	if bs.classes.IsBig(core) && bs.bigThreads() >= bs.classes.NumBig() {
		if small := bs.smallCoreFrom(core); small != pinned.InvalidCore {
			core = small
		}
	}
	class := bs.classes.ClassOf(core)
	bs.threadClass[tid] = class
	bs.base.SetAffinitySingle(tid, core)

	bs.schedulerLogger.WithFields(threadLogFields(tid, core, class)).Debug("Assigned initial core")
}

func (bs *BigSmallScheduler) OnThreadStalled(tid pinned.ThreadID, reason pinned.StallReason, now time.Duration) {
	logger := bs.schedulerLogger.WithField("thread_id", tid).WithField("reason", reason)
	if bs.debug {
		logger.Info("Thread stalled")
	} else {
		logger.Debug("Thread stalled")
	}

	bs.base.ThreadStall(tid, reason, now)

	if bs.debug {
		bs.logState(now)
	}
}

func (bs *BigSmallScheduler) OnThreadResumed(tid pinned.ThreadID, now time.Duration) {
	bs.base.ThreadResume(tid, now)
}

// OnThreadExited promotes a replacement for an exiting big thread. The exiting thread loses its
// class before the pick, so it can never be chosen.
func (bs *BigSmallScheduler) OnThreadExited(tid pinned.ThreadID, now time.Duration) {
	logger := bs.schedulerLogger.WithField("thread_id", tid)
	if bs.debug {
		logger.Info("Thread ended")
	} else {
		logger.Debug("Thread ended")
	}

	if core := bs.base.CoreOf(tid); core != pinned.InvalidCore {
		bs.sampler.Reset(core)
	}

	wasBig := bs.threadClass[tid] == topology.Big
	delete(bs.threadClass, tid)
	if wasBig {
		bs.pickBigThread(now)
	}

	bs.base.ThreadExit(tid, now)

	if bs.debug {
		bs.logState(now)
	}
}

// bigThreads counts the live threads holding big status, running or not.
func (bs *BigSmallScheduler) bigThreads() int {
	n := 0
	for _, class := range bs.threadClass {
		if class == topology.Big {
			n++
		}
	}
	return n
}

// smallCoreFrom returns the first small core at or after from, wrapping, preferring idle cores.
func (bs *BigSmallScheduler) smallCoreFrom(from int) int {
	small := bs.classes.Cores(topology.Small)
	if len(small) == 0 {
		return pinned.InvalidCore
	}
	start := 0
	for i, core := range small {
		if core >= from {
			start = i
			break
		}
	}
	for i := range small {
		core := small[(start+i)%len(small)]
		if bs.base.RunningOn(core) == pinned.InvalidThread {
			return core
		}
	}
	return small[start]
}

func (bs *BigSmallScheduler) moveTo(tid pinned.ThreadID, class topology.Class) {
	if tid == pinned.InvalidThread {
		return
	}
	bs.base.SetAffinity(tid, bs.classes.Mask(class))
	bs.threadClass[tid] = class

	bs.schedulerLogger.WithFields(logrus.Fields{
		"thread_id": tid,
		"from":      class.Opposite().String(),
		"to":        class.String(),
	}).Info("Moving thread between core classes")
}

func (bs *BigSmallScheduler) record(d dataframe.Decision) {
	bs.decisions = append(bs.decisions, d)
	if bs.dataframes != nil {
		bs.dataframes.AddDecision(d)
	}
}

func (bs *BigSmallScheduler) logState(now time.Duration) {
	occupancy := make([]string, bs.classes.NumCores())
	for core := range occupancy {
		running := bs.base.RunningOn(core)
		occupancy[core] = strconv.Itoa(int(running))
		bs.schedulerLogger.WithFields(coreLogFields(bs.sampler.Core(core), running)).Info("Core state")
	}

	threads := make([]string, 0, len(bs.threadClass))
	for _, tid := range bs.sortedThreads() {
		threads = append(threads, strconv.Itoa(int(tid))+":"+bs.threadClass[tid].String())
	}
	bs.schedulerLogger.WithFields(logrus.Fields{
		"sim_time":  now,
		"occupancy": strings.Join(occupancy, "_"),
		"threads":   strings.Join(threads, ","),
	}).Info("Scheduler state")
}

func (bs *BigSmallScheduler) sortedThreads() []pinned.ThreadID {
	ids := make([]pinned.ThreadID, 0, len(bs.threadClass))
	for tid := range bs.threadClass {
		ids = append(ids, tid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
