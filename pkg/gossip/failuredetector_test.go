package gossip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArrivalWindow(t *testing.T) {
	tests := []struct {
		Name        string
		ExpectedPhi float64
		Timestamps  []int64
		Now         int64
		SampleSize  int
	}{
		{
			Name:        "bootstrap phi",
			ExpectedPhi: 0.05,
			Timestamps:  []int64{100},
			Now:         200,
			SampleSize:  10,
		},
		{
			Name:        "low phi",
			ExpectedPhi: 1.0,
			Timestamps:  []int64{100, 200, 300, 400, 500, 600},
			Now:         700,
			SampleSize:  5,
		},
		{
			Name:        "high phi",
			ExpectedPhi: 14.0,
			Timestamps:  []int64{100, 200, 300, 400, 500, 600},
			Now:         2000,
			SampleSize:  5,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			window := newArrivalWindow(2000, test.SampleSize)
			for _, ts := range test.Timestamps {
				window.Add(time.Unix(0, ts))
			}

			assert.InEpsilon(
				t,
				test.ExpectedPhi,
				window.Phi(time.Unix(0, test.Now)),
				0.01,
			)
		})
	}
}

func TestAccrualDetector_SuspicionLevel(t *testing.T) {
	tests := []struct {
		Name                   string
		ExpectedSuspicionLevel float64
		Timestamps             []int64
		Now                    int64
		SampleSize             int
	}{
		{
			Name:                   "bootstrap status",
			ExpectedSuspicionLevel: 0.05,
			Timestamps:             []int64{100},
			Now:                    200,
			SampleSize:             10,
		},
		{
			Name:                   "low phi",
			ExpectedSuspicionLevel: 1.0,
			Timestamps:             []int64{100, 200, 300, 400, 500, 600},
			Now:                    700,
			SampleSize:             5,
		},
		{
			Name:                   "high phi",
			ExpectedSuspicionLevel: 14.0,
			Timestamps:             []int64{100, 200, 300, 400, 500, 600},
			Now:                    2000,
			SampleSize:             5,
		},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			detector := NewAccrualDetector(8, 2000, test.SampleSize)
			for _, ts := range test.Timestamps {
				detector.ReportWithTimestamp(
					"node-1", time.Unix(0, ts),
				)
			}

			assert.InEpsilon(
				t,
				test.ExpectedSuspicionLevel,
				detector.SuspicionLevelAt(
					"node-1", time.Unix(0, test.Now),
				),
				0.01,
			)
		})
	}
}

func TestAccrualDetector_FailureQueue(t *testing.T) {
	t.Run("suspects silent nodes", func(t *testing.T) {
		detector := NewAccrualDetector(8, 2000, 5)

		// node-1 and node-2 report at a steady interval, then node-2 goes
		// silent.
		for _, ts := range []int64{100, 200, 300, 400, 500} {
			detector.ReportWithTimestamp("node-1", time.Unix(0, ts))
			detector.ReportWithTimestamp("node-2", time.Unix(0, ts))
		}
		detector.ReportWithTimestamp("node-1", time.Unix(0, 5000))

		assert.NoError(t, detector.pollFailuresAt(time.Unix(0, 5100)))
		assert.Equal(t, []NodeID{"node-2"}, detector.DequeueFailures())
	})

	t.Run("dequeue drains", func(t *testing.T) {
		detector := NewAccrualDetector(8, 2000, 5)

		for _, ts := range []int64{100, 200, 300, 400, 500} {
			detector.ReportWithTimestamp("node-1", time.Unix(0, ts))
		}

		assert.NoError(t, detector.pollFailuresAt(time.Unix(0, 100000)))
		assert.Equal(t, []NodeID{"node-1"}, detector.DequeueFailures())

		// The node is only suspected once: repeated passes without new
		// reports find nothing.
		assert.NoError(t, detector.pollFailuresAt(time.Unix(0, 200000)))
		assert.Empty(t, detector.DequeueFailures())
	})

	t.Run("empty queue", func(t *testing.T) {
		detector := NewAccrualDetector(8, 2000, 5)
		assert.NoError(t, detector.PollFailures())
		assert.Empty(t, detector.DequeueFailures())
	})
}
