package training

// RunningLoss accumulates per-batch losses over a fixed window of batches.
type RunningLoss struct {
	interval int
	sum      float64
	count    int
}

// NewRunningLoss creates a window of interval batches. Non-positive
// intervals never flush.
func NewRunningLoss(interval int) *RunningLoss {
	return &RunningLoss{interval: interval}
}

// Add records one batch loss. When the window is full it returns the window
// mean with flush set and starts a new window.
func (r *RunningLoss) Add(loss float64) (mean float64, flush bool) {
	r.sum += loss
	r.count++
	if r.interval <= 0 || r.count < r.interval {
		return 0, false
	}
	mean = r.sum / float64(r.count)
	r.Reset()
	return mean, true
}

// Reset drops any partial window.
func (r *RunningLoss) Reset() {
	r.sum = 0
	r.count = 0
}

// Pending returns the number of batches in the current partial window.
func (r *RunningLoss) Pending() int {
	return r.count
}
