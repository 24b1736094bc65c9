package scheduler

import (
	"hetsched/internal/pinned"
	"hetsched/internal/topology"

	"github.com/sirupsen/logrus"
)

func threadLogFields(tid pinned.ThreadID, core int, class topology.Class) logrus.Fields {
	fields := logrus.Fields{
		"thread_id": tid,
		"class":     class.String(),
	}
	if core != pinned.InvalidCore {
		fields["core_id"] = core
	}
	return fields
}

func coreLogFields(c *CoreState, running pinned.ThreadID) logrus.Fields {
	fields := logrus.Fields{
		"core_id":    c.ID,
		"core_class": c.Class.String(),
		"ipc":        c.IPC,
		"mean_ipc":   c.Stats.Mean(),
		"samples":    c.Stats.Count,
	}
	if running != pinned.InvalidThread {
		fields["thread_id"] = running
	}
	if c.Stats.Count > 0 {
		fields["variance_ipc"] = c.Stats.Variance()
	}
	return fields
}
