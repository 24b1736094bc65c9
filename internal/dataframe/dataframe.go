package dataframe

import (
	"sort"
	"sync"
	"time"
)

// DataFrames holds everything observed during one run: per-core IPC samples keyed by the
// policy tick they were taken on, and the ordered list of class-change decisions.
type DataFrames struct {
	cores     map[int]*CoreDataFrame
	decisions []Decision
	mutex     sync.RWMutex
}

type CoreDataFrame struct {
	steps map[int]*SamplingStep
	mutex sync.RWMutex
}

type SamplingStep struct {
	Time     time.Duration `json:"time_ns"`
	ThreadID int           `json:"thread_id"`
	Class    string        `json:"class"`

	// IPC is scaled by 1000.
	IPC         int     `json:"ipc"`
	MeanIPC     float64 `json:"mean_ipc"`
	VarianceIPC float64 `json:"variance_ipc"`
	Samples     int     `json:"samples"`
}

type DecisionKind string

const (
	DecisionSwap    DecisionKind = "swap"
	DecisionDemote  DecisionKind = "demote"
	DecisionPromote DecisionKind = "promote"
)

// Decision is one class change made by a policy. Thread and core fields are -1 when unused.
type Decision struct {
	Time      time.Duration `json:"time_ns"`
	Kind      DecisionKind  `json:"kind"`
	Demoted   int           `json:"demoted_thread"`
	Promoted  int           `json:"promoted_thread"`
	BigCore   int           `json:"big_core"`
	SmallCore int           `json:"small_core"`
	BigIPC    int           `json:"big_ipc"`
	SmallIPC  int           `json:"small_ipc"`
}

func NewDataFrames() *DataFrames {
	return &DataFrames{
		cores: make(map[int]*CoreDataFrame),
	}
}

func (df *DataFrames) GetCore(core int) *CoreDataFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	return df.cores[core]
}

// AddCore returns the frame of a core, creating it on first use.
func (df *DataFrames) AddCore(core int) *CoreDataFrame {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	if cdf, ok := df.cores[core]; ok {
		return cdf
	}
	cdf := &CoreDataFrame{
		steps: make(map[int]*SamplingStep),
	}
	df.cores[core] = cdf
	return cdf
}

func (df *DataFrames) GetAllCores() map[int]*CoreDataFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()

	result := make(map[int]*CoreDataFrame)
	for k, v := range df.cores {
		result[k] = v
	}
	return result
}

func (df *DataFrames) AddDecision(d Decision) {
	df.mutex.Lock()
	defer df.mutex.Unlock()
	df.decisions = append(df.decisions, d)
}

func (df *DataFrames) GetDecisions() []Decision {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	return append([]Decision(nil), df.decisions...)
}

// TotalSteps counts samples over all cores.
func (df *DataFrames) TotalSteps() int {
	total := 0
	for _, cdf := range df.GetAllCores() {
		cdf.mutex.RLock()
		total += len(cdf.steps)
		cdf.mutex.RUnlock()
	}
	return total
}

func (cdf *CoreDataFrame) AddStep(stepNumber int, step *SamplingStep) {
	cdf.mutex.Lock()
	defer cdf.mutex.Unlock()
	cdf.steps[stepNumber] = step
}

func (cdf *CoreDataFrame) GetStep(stepNumber int) *SamplingStep {
	cdf.mutex.RLock()
	defer cdf.mutex.RUnlock()
	return cdf.steps[stepNumber]
}

func (cdf *CoreDataFrame) GetAllSteps() map[int]*SamplingStep {
	cdf.mutex.RLock()
	defer cdf.mutex.RUnlock()

	result := make(map[int]*SamplingStep)
	for k, v := range cdf.steps {
		result[k] = v
	}
	return result
}

// StepNumbers returns the recorded step numbers in ascending order.
func (cdf *CoreDataFrame) StepNumbers() []int {
	cdf.mutex.RLock()
	defer cdf.mutex.RUnlock()

	numbers := make([]int, 0, len(cdf.steps))
	for n := range cdf.steps {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}

func (cdf *CoreDataFrame) GetLatestStep() *SamplingStep {
	cdf.mutex.RLock()
	defer cdf.mutex.RUnlock()

	maxStep := -1
	var latest *SamplingStep
	for step, data := range cdf.steps {
		if step > maxStep {
			maxStep = step
			latest = data
		}
	}
	return latest
}
