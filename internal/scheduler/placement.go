package scheduler

import "hetsched/internal/pinned"

type occupancy interface {
	RunningOn(core int) pinned.ThreadID
}

// roundRobin hands out cores in increasing id order, skipping occupied ones.
type roundRobin struct {
	next int
}

// assign returns the first idle core at or after the cursor, wrapping modulo numCores. When
// every core is busy it falls back to the cursor's core and oversubscribes it.
func (rr *roundRobin) assign(occ occupancy, numCores int) int {
	if numCores <= 0 {
		return pinned.InvalidCore
	}
	start := rr.next % numCores
	core := start
	for occ.RunningOn(core) != pinned.InvalidThread {
		core = (core + 1) % numCores
		if core == start {
			break
		}
	}
	rr.next = (core + 1) % numCores
	return core
}
