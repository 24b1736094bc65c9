package scheduler

// RunningStats accumulates the IPC series of one core across ticks.
type RunningStats struct {
	Count    int
	Sum      int64
	SumSqDev int64
}

// Add absorbs one IPC sample. The deviation is taken against the mean including the sample,
// truncated to an integer.
func (r *RunningStats) Add(ipc int) {
	r.Count++
	r.Sum += int64(ipc)
	d := int64(ipc) - int64(r.Mean())
	r.SumSqDev += d * d
}

func (r *RunningStats) Mean() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.Sum) / float64(r.Count)
}

// Variance is reported in unscaled IPC units: the sum of squared deviations of the x1000
// series divided by 1000 per sample.
func (r *RunningStats) Variance() float64 {
	if r.Count == 0 {
		return 0
	}
	return float64(r.SumSqDev) / float64(1000*r.Count)
}
