// Package topology partitions the application cores into the big and small classes.
package topology

import (
	"fmt"

	"hetsched/internal/logging"

	idset "github.com/intel/goresctrl/pkg/utils"
	"github.com/sirupsen/logrus"
)

type Class int

const (
	Small Class = iota
	Big
)

func (c Class) String() string {
	if c == Big {
		return "big"
	}
	return "small"
}

func (c Class) Opposite() Class {
	if c == Big {
		return Small
	}
	return Big
}

// Tagger answers whether an object of the given kind carries a tag, e.g. ("core", 3, "big").
type Tagger interface {
	HasTag(kind string, id int, tag string) bool
}

// Classification is the fixed split of the cores into two disjoint affinity masks.
type Classification struct {
	numCores  int
	classes   []Class
	bigMask   idset.IDSet
	smallMask idset.IDSet
}

// Classify queries the tagger once per core. An empty big or small set is accepted.
func Classify(numCores int, tagger Tagger) *Classification {
	c := &Classification{
		numCores:  numCores,
		classes:   make([]Class, numCores),
		bigMask:   idset.NewIDSet(),
		smallMask: idset.NewIDSet(),
	}
	for core := 0; core < numCores; core++ {
		if tagger != nil && tagger.HasTag("core", core, "big") {
			c.classes[core] = Big
			c.bigMask.Add(idset.ID(core))
		} else {
			c.classes[core] = Small
			c.smallMask.Add(idset.ID(core))
		}
	}

	logger := logging.GetLogger()
	fields := logrus.Fields{
		"cores":       numCores,
		"big_cores":   c.bigMask.String(),
		"small_cores": c.smallMask.String(),
	}
	if c.bigMask.Size() == 0 || c.smallMask.Size() == 0 {
		logger.WithFields(fields).Warn("Core classification has an empty class")
	} else {
		logger.WithFields(fields).Debug("Cores classified")
	}
	return c
}

func (c *Classification) NumCores() int { return c.numCores }

func (c *Classification) NumBig() int { return c.bigMask.Size() }

func (c *Classification) ClassOf(core int) Class {
	if core < 0 || core >= c.numCores {
		panic(fmt.Sprintf("topology: core %d out of range [0,%d)", core, c.numCores))
	}
	return c.classes[core]
}

func (c *Classification) IsBig(core int) bool { return c.ClassOf(core) == Big }

// Mask returns the affinity mask of a class. Callers must not modify it.
func (c *Classification) Mask(class Class) idset.IDSet {
	if class == Big {
		return c.bigMask
	}
	return c.smallMask
}

// Cores returns the ids of a class in ascending order.
func (c *Classification) Cores(class Class) []int {
	ids := c.Mask(class).SortedMembers()
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}
