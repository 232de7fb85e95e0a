package gossip

import (
	"sort"
	"sync"
	"time"
)

// FailureDetector identifies peers believed to have failed.
//
// Detection is kept orthogonal to the gossip graph: the membership state
// machine treats a detected failure like any other locally originated
// observation, as a candidate removal.
//
// Implementations must be safe for concurrent use.
type FailureDetector interface {
	// Report records a liveness signal received from the given node.
	Report(node NodeID)

	// PollFailures runs a detection pass, appending any newly suspected
	// nodes to the failure queue. An error means the pass could not run,
	// not that no failures occurred; callers must propagate it.
	PollFailures() error

	// DequeueFailures atomically drains and returns the nodes suspected
	// failed since the last drain. Calling it is the only way to clear the
	// queue.
	DequeueFailures() []NodeID

	// Remove discards detection state for the given node, such as when it
	// is removed from the group.
	Remove(node NodeID)
}

// arrivalIntervals tracks liveness signal intervals in a circular buffer.
type arrivalIntervals struct {
	intervals []int64
	// index points to the next entry to add an interval. Since intervals
	// is a circular buffer this wraps around.
	index  int
	isFull bool

	sum  int64
	mean float64
}

func newArrivalIntervals(sampleSize int) *arrivalIntervals {
	return &arrivalIntervals{
		intervals: make([]int64, sampleSize),
	}
}

func (i *arrivalIntervals) Mean() float64 {
	return i.mean
}

func (i *arrivalIntervals) Add(interval int64) {
	// If the index is at the end of the buffer wrap around.
	if i.index == len(i.intervals) {
		i.index = 0
		i.isFull = true
	}
	if i.isFull {
		i.sum = i.sum - i.intervals[i.index]
	}

	i.intervals[i.index] = interval
	i.index++
	i.sum += interval
	i.mean = float64(i.sum) / float64(i.size())
}

func (i *arrivalIntervals) size() int {
	if i.isFull {
		return len(i.intervals)
	}
	return i.index
}

type arrivalWindow struct {
	lastTimestamp     time.Time
	intervals         *arrivalIntervals
	bootstrapInterval time.Duration
}

func newArrivalWindow(
	bootstrapInterval time.Duration,
	sampleSize int,
) *arrivalWindow {
	return &arrivalWindow{
		intervals:         newArrivalIntervals(sampleSize),
		bootstrapInterval: bootstrapInterval,
	}
}

func (w *arrivalWindow) Phi(timestamp time.Time) float64 {
	if !(w.lastTimestamp.After(time.Time{}) && w.intervals.Mean() > 0.0) {
		panic("cannot sample phi before any samples arrived")
	}

	deltaSinceLast := timestamp.Sub(w.lastTimestamp).Nanoseconds()
	return float64(deltaSinceLast) / w.intervals.Mean()
}

func (w *arrivalWindow) Add(timestamp time.Time) {
	if w.lastTimestamp.After(time.Time{}) {
		w.intervals.Add(timestamp.Sub(w.lastTimestamp).Nanoseconds())
	} else {
		// If this is the first interval, use a high interval to avoid
		// false positives when we don't have many samples.
		w.intervals.Add(w.bootstrapInterval.Nanoseconds())
	}
	w.lastTimestamp = timestamp
}

// AccrualDetector implements FailureDetector using the "Phi Accrual
// Failure Detector".
//
// Each reported node has a window of recent signal arrival intervals. A
// detection pass computes 'phi' per node, the current silence relative to
// the node's mean interval, and suspects nodes whose phi exceeds the
// configured threshold.
type AccrualDetector struct {
	windows map[NodeID]*arrivalWindow

	// queue holds suspected nodes until they are drained.
	queue []NodeID

	// mu protects the above fields.
	mu sync.Mutex

	threshold         float64
	bootstrapInterval time.Duration
	sampleSize        int
}

// NewAccrualDetector creates a detector suspecting nodes whose phi exceeds
// threshold.
func NewAccrualDetector(
	threshold float64,
	bootstrapInterval time.Duration,
	sampleSize int,
) *AccrualDetector {
	return &AccrualDetector{
		windows:           make(map[NodeID]*arrivalWindow),
		threshold:         threshold,
		bootstrapInterval: bootstrapInterval,
		sampleSize:        sampleSize,
	}
}

// Report records a liveness signal received from the node with the given
// ID.
func (d *AccrualDetector) Report(node NodeID) {
	d.ReportWithTimestamp(node, time.Now())
}

// ReportWithTimestamp records a liveness signal received from the node
// with the given ID at the given time.
func (d *AccrualDetector) ReportWithTimestamp(node NodeID, timestamp time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	window, ok := d.windows[node]
	if !ok {
		window = newArrivalWindow(d.bootstrapInterval, d.sampleSize)
		d.windows[node] = window
	}
	window.Add(timestamp)
}

// PollFailures suspects any tracked node whose phi exceeds the threshold,
// appending it to the failure queue.
func (d *AccrualDetector) PollFailures() error {
	return d.pollFailuresAt(time.Now())
}

func (d *AccrualDetector) pollFailuresAt(timestamp time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var suspected []NodeID
	for node, window := range d.windows {
		if window.Phi(timestamp) > d.threshold {
			suspected = append(suspected, node)
		}
	}
	// Sort so the queue order doesn't depend on map iteration order.
	sort.Slice(suspected, func(i, j int) bool {
		return suspected[i] < suspected[j]
	})

	for _, node := range suspected {
		// Discard the window so the node is not suspected again unless it
		// reports after being suspected.
		delete(d.windows, node)
		d.queue = append(d.queue, node)
	}
	return nil
}

// DequeueFailures drains the queue of suspected nodes.
func (d *AccrualDetector) DequeueFailures() []NodeID {
	d.mu.Lock()
	defer d.mu.Unlock()

	drained := d.queue
	d.queue = nil
	return drained
}

// SuspicionLevel returns the phi value for the node with the given ID.
//
// The higher the suspicion level, the more likely the node is to be
// unreachable.
func (d *AccrualDetector) SuspicionLevel(node NodeID) float64 {
	return d.SuspicionLevelAt(node, time.Now())
}

// SuspicionLevelAt returns the phi value for the node with the given ID at
// the given time.
func (d *AccrualDetector) SuspicionLevelAt(node NodeID, timestamp time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	window, ok := d.windows[node]
	if !ok {
		// If we have never received any signal from the node, start by
		// assuming it is alive, though add an initial bootstrap interval
		// so it is eventually suspected if it stays silent.
		window = newArrivalWindow(d.bootstrapInterval, d.sampleSize)
		window.Add(timestamp)
		d.windows[node] = window
	}

	return window.Phi(timestamp)
}

// Remove discards detection state for the given node.
func (d *AccrualDetector) Remove(node NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.windows, node)
}

var _ FailureDetector = &AccrualDetector{}
