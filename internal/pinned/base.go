// Package pinned implements the base pinning layer the scheduling policies build on: every
// thread carries an affinity mask, each core runs at most one thread, and threads that cannot
// be placed wait for a core in their mask.
package pinned

import (
	"fmt"
	"sort"
	"time"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"
)

type ThreadID int

const (
	InvalidThread ThreadID = -1
	InvalidCore            = -1
)

type StallReason string

type threadInfo struct {
	id           ThreadID
	affinity     idset.IDSet
	core         int
	lastCore     int
	stalled      bool
	exited       bool
	waitSeq      uint64
	runningSince time.Duration
	migrations   int
}

func (t *threadInfo) waiting() bool {
	return !t.exited && !t.stalled && t.core == InvalidCore
}

// Base tracks thread affinity and per-core occupancy. It is not safe for concurrent use; the
// simulation delivers all events from one goroutine.
type Base struct {
	numCores     int
	quantum      time.Duration
	logger       logrus.FieldLogger
	threads      map[ThreadID]*threadInfo
	coreThread   []ThreadID
	seq          uint64
	now          time.Duration
	lastPeriodic time.Duration
}

// NewBase creates a base for numCores cores that time-slices oversubscribed cores every quantum.
func NewBase(numCores int, quantum time.Duration, logger logrus.FieldLogger) *Base {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Base{
		numCores:   numCores,
		quantum:    quantum,
		logger:     logger,
		threads:    make(map[ThreadID]*threadInfo),
		coreThread: make([]ThreadID, numCores),
	}
	for i := range b.coreThread {
		b.coreThread[i] = InvalidThread
	}
	return b
}

func (b *Base) NumCores() int { return b.numCores }

// NumThreads counts every thread seen so far, including exited ones.
func (b *Base) NumThreads() int { return len(b.threads) }

func (b *Base) RunningOn(core int) ThreadID {
	if core < 0 || core >= b.numCores {
		return InvalidThread
	}
	return b.coreThread[core]
}

func (b *Base) CoreOf(tid ThreadID) int {
	if t, ok := b.threads[tid]; ok {
		return t.core
	}
	return InvalidCore
}

func (b *Base) IsRunning(tid ThreadID) bool {
	t, ok := b.threads[tid]
	return ok && !t.exited && t.core != InvalidCore
}

// Affinity returns a copy of the thread's mask, or nil for unknown threads.
func (b *Base) Affinity(tid ThreadID) idset.IDSet {
	if t, ok := b.threads[tid]; ok {
		return t.affinity.Clone()
	}
	return nil
}

func (b *Base) Migrations(tid ThreadID) int {
	if t, ok := b.threads[tid]; ok {
		return t.migrations
	}
	return 0
}

// SetAffinitySingle pins a thread to one core. Unknown threads are registered.
func (b *Base) SetAffinitySingle(tid ThreadID, core int) {
	b.SetAffinity(tid, idset.NewIDSet(idset.ID(core)))
}

// SetAffinity replaces a thread's mask. A thread running outside the new mask gives up its
// core and waits for one inside it; the change is visible to RunningOn immediately.
func (b *Base) SetAffinity(tid ThreadID, mask idset.IDSet) {
	t := b.thread(tid)
	if t.exited {
		return
	}
	t.affinity = mask.Clone()
	if t.core != InvalidCore && !t.affinity.Has(idset.ID(t.core)) {
		b.release(t)
		b.enqueue(t)
	}
	b.reschedule()
}

func (b *Base) ThreadStall(tid ThreadID, reason StallReason, now time.Duration) {
	b.now = now
	t, ok := b.threads[tid]
	if !ok || t.exited {
		return
	}
	t.stalled = true
	b.release(t)
	b.logger.WithFields(logrus.Fields{
		"thread_id": tid,
		"reason":    reason,
	}).Debug("Thread stalled")
	b.reschedule()
}

func (b *Base) ThreadResume(tid ThreadID, now time.Duration) {
	b.now = now
	t, ok := b.threads[tid]
	if !ok || t.exited || !t.stalled {
		return
	}
	t.stalled = false
	b.enqueue(t)
	b.reschedule()
}

func (b *Base) ThreadExit(tid ThreadID, now time.Duration) {
	b.now = now
	t, ok := b.threads[tid]
	if !ok || t.exited {
		return
	}
	b.release(t)
	t.exited = true
	b.reschedule()
}

// Periodic rotates oversubscribed cores: a thread that held its core for a full quantum yields
// it to the longest-waiting thread whose mask contains that core.
func (b *Base) Periodic(now time.Duration) {
	b.now = now
	if now-b.lastPeriodic < b.quantum {
		return
	}
	b.lastPeriodic = now

	for core := 0; core < b.numCores; core++ {
		running := b.coreThread[core]
		if running == InvalidThread {
			continue
		}
		r := b.threads[running]
		if now-r.runningSince < b.quantum {
			continue
		}
		next := b.firstWaiting(core)
		if next == nil {
			continue
		}
		b.release(r)
		b.enqueue(r)
		b.assign(next, core)
	}
	b.reschedule()
}

// CheckInvariants reports inconsistencies between per-core and per-thread occupancy.
func (b *Base) CheckInvariants() error {
	seen := make(map[ThreadID]int)
	for core, tid := range b.coreThread {
		if tid == InvalidThread {
			continue
		}
		if prev, dup := seen[tid]; dup {
			return fmt.Errorf("thread %d runs on cores %d and %d", tid, prev, core)
		}
		seen[tid] = core
		t, ok := b.threads[tid]
		if !ok || t.core != core {
			return fmt.Errorf("core %d claims thread %d which is not placed there", core, tid)
		}
		if !t.affinity.Has(idset.ID(core)) {
			return fmt.Errorf("thread %d runs on core %d outside its affinity %s", tid, core, t.affinity.String())
		}
	}
	for tid, t := range b.threads {
		if t.core != InvalidCore && b.coreThread[t.core] != tid {
			return fmt.Errorf("thread %d believes it runs on core %d", tid, t.core)
		}
	}
	return nil
}

func (b *Base) thread(tid ThreadID) *threadInfo {
	t, ok := b.threads[tid]
	if !ok {
		t = &threadInfo{
			id:       tid,
			affinity: idset.NewIDSet(),
			core:     InvalidCore,
			lastCore: InvalidCore,
		}
		b.threads[tid] = t
		b.enqueue(t)
	}
	return t
}

func (b *Base) enqueue(t *threadInfo) {
	b.seq++
	t.waitSeq = b.seq
}

func (b *Base) assign(t *threadInfo, core int) {
	b.coreThread[core] = t.id
	t.core = core
	t.runningSince = b.now
	if t.lastCore != InvalidCore && t.lastCore != core {
		t.migrations++
	}
	t.lastCore = core
}

func (b *Base) release(t *threadInfo) {
	if t.core == InvalidCore {
		return
	}
	b.coreThread[t.core] = InvalidThread
	t.core = InvalidCore
}

func (b *Base) waitingThreads() []*threadInfo {
	var waiting []*threadInfo
	for _, t := range b.threads {
		if t.waiting() {
			waiting = append(waiting, t)
		}
	}
	sort.Slice(waiting, func(i, j int) bool { return waiting[i].waitSeq < waiting[j].waitSeq })
	return waiting
}

func (b *Base) firstWaiting(core int) *threadInfo {
	for _, t := range b.waitingThreads() {
		if t.affinity.Has(idset.ID(core)) {
			return t
		}
	}
	return nil
}

// reschedule places waiting threads, oldest first, on the lowest free core of their mask.
func (b *Base) reschedule() {
	for _, t := range b.waitingThreads() {
		for _, id := range t.affinity.SortedMembers() {
			core := int(id)
			if core < 0 || core >= b.numCores || b.coreThread[core] != InvalidThread {
				continue
			}
			b.assign(t, core)
			break
		}
	}
}
