package gossip

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearsay-io/hearsay/pkg/log"
)

type fakeDetector struct {
	pollErr  error
	failures []NodeID

	reported []NodeID
	removed  []NodeID
}

func (d *fakeDetector) Report(node NodeID) {
	d.reported = append(d.reported, node)
}

func (d *fakeDetector) PollFailures() error {
	return d.pollErr
}

func (d *fakeDetector) DequeueFailures() []NodeID {
	failures := d.failures
	d.failures = nil
	return failures
}

func (d *fakeDetector) Remove(node NodeID) {
	d.removed = append(d.removed, node)
}

var _ FailureDetector = &fakeDetector{}

type fakeWatcher struct {
	joins  []NodeID
	leaves []NodeID
}

func (w *fakeWatcher) OnJoin(node NodeID) {
	w.joins = append(w.joins, node)
}

func (w *fakeWatcher) OnLeave(node NodeID) {
	w.leaves = append(w.leaves, node)
}

var _ Watcher = &fakeWatcher{}

func testMembership(localID NodeID, detector FailureDetector, watcher Watcher) *Membership {
	return NewMembership(localID, detector, watcher, log.NewNopLogger())
}

func TestMembership_Bootstrap(t *testing.T) {
	t.Run("genesis projection", func(t *testing.T) {
		watcher := &fakeWatcher{}
		m := testMembership("node-1", &fakeDetector{}, watcher)

		msgs, err := m.Bootstrap([]NodeID{"node-1", "node-2", "node-3"})
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))
		assert.Equal(t, MessageTypeEvent, msgs[0].Type)

		assert.Equal(
			t,
			[]NodeID{"node-1", "node-2", "node-3"},
			m.Group(),
		)
		assert.Equal(
			t,
			[]NodeID{"node-1", "node-2", "node-3"},
			watcher.joins,
		)
		assert.Equal(t, 1, m.NumEvents())
	})

	t.Run("empty before genesis", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		assert.Empty(t, m.Group())
	})

	t.Run("already bootstrapped", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)

		_, err := m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		_, err = m.Bootstrap([]NodeID{"node-1"})
		assert.Error(t, err)
	})
}

func TestMembership_Poll(t *testing.T) {
	t.Run("idempotent with no failures", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1", "node-2"})
		require.NoError(t, err)

		for i := 0; i != 2; i++ {
			msgs, err := m.Poll()
			require.NoError(t, err)
			assert.Empty(t, msgs)
		}
		assert.Equal(t, 1, m.NumEvents())
	})

	t.Run("detected failure", func(t *testing.T) {
		detector := &fakeDetector{}
		watcher := &fakeWatcher{}
		m := testMembership("node-1", detector, watcher)
		_, err := m.Bootstrap([]NodeID{"node-1", "node-2", "node-3"})
		require.NoError(t, err)

		detector.failures = []NodeID{"node-3"}
		msgs, err := m.Poll()
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))
		require.NotNil(t, msgs[0].Event)
		assert.Equal(t, ObservationRemove, msgs[0].Event.Observation.Type)
		assert.Equal(t, NodeID("node-3"), msgs[0].Event.Observation.Node)

		assert.Equal(t, []NodeID{"node-1", "node-2"}, m.Group())
		assert.Equal(t, []NodeID{"node-3"}, watcher.leaves)
		// Detector state for the removed node is released.
		assert.Equal(t, []NodeID{"node-3"}, detector.removed)
	})

	t.Run("administrative add and remove", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		require.NoError(t, m.AddNode("node-2"))
		msgs, err := m.Poll()
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))
		assert.Equal(t, []NodeID{"node-1", "node-2"}, m.Group())

		require.NoError(t, m.RemoveNode("node-2"))
		msgs, err = m.Poll()
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))
		assert.Equal(t, []NodeID{"node-1"}, m.Group())
	})

	t.Run("events chain by self parent", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		require.NoError(t, m.AddNode("node-2"))
		require.NoError(t, m.AddNode("node-3"))
		msgs, err := m.Poll()
		require.NoError(t, err)
		require.Equal(t, 2, len(msgs))

		genesisHash, ok := m.graph.HashByIndex(0)
		require.True(t, ok)
		firstHash, ok := m.graph.HashByIndex(1)
		require.True(t, ok)

		first := msgs[0].Event
		second := msgs[1].Event
		require.NotNil(t, first.SelfParent)
		assert.Equal(t, genesisHash, *first.SelfParent)
		require.NotNil(t, second.SelfParent)
		assert.Equal(t, firstHash, *second.SelfParent)
	})

	t.Run("rejects empty node id", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		assert.Error(t, m.AddNode(""))
		assert.Error(t, m.RemoveNode(""))

		msgs, err := m.Poll()
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Equal(t, 1, m.NumEvents())
	})

	t.Run("holds observations until genesis", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)

		require.NoError(t, m.AddNode("node-2"))

		// No genesis to anchor the event to yet, so the observation is
		// held rather than dropped.
		msgs, err := m.Poll()
		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Equal(t, 0, m.NumEvents())

		_, err = m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		msgs, err = m.Poll()
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))
		assert.Equal(t, []NodeID{"node-1", "node-2"}, m.Group())
	})

	t.Run("emits events created before a failure", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		// Queue a valid observation followed by one the graph rejects.
		m.pending = append(m.pending, Add("node-2"))
		m.pending = append(m.pending, Observation{Type: ObservationAdd})

		msgs, err := m.Poll()
		assert.Error(t, err)

		// The event created before the failure must still be emitted, not
		// stranded in the local graph.
		require.Equal(t, 1, len(msgs))
		require.NotNil(t, msgs[0].Event)
		assert.Equal(t, NodeID("node-2"), msgs[0].Event.Observation.Node)
		assert.Equal(t, 2, m.NumEvents())
		assert.Equal(t, []NodeID{"node-1", "node-2"}, m.Group())

		// The failed observation is dropped rather than retried.
		msgs, err = m.Poll()
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("detector error propagates", func(t *testing.T) {
		detector := &fakeDetector{pollErr: fmt.Errorf("probe timeout")}
		m := testMembership("node-1", detector, nil)

		_, err := m.Poll()
		assert.Error(t, err)
		assert.Equal(t, 0, m.NumEvents())
	})
}

func TestMembership_HandleMessage(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		m1 := testMembership("node-1", &fakeDetector{}, nil)
		msgs, err := m1.Bootstrap([]NodeID{"node-1", "node-2"})
		require.NoError(t, err)
		require.Equal(t, 1, len(msgs))

		b, err := EncodeMessage(msgs[0])
		require.NoError(t, err)
		decoded, err := DecodeMessage(b)
		require.NoError(t, err)

		m2 := testMembership("node-2", &fakeDetector{}, nil)
		replies, err := m2.HandleMessage(decoded)
		require.NoError(t, err)
		assert.Empty(t, replies)

		assert.Equal(t, []NodeID{"node-1", "node-2"}, m2.Group())

		// The stored event hashes identically on both nodes.
		h1, err := ComputeHash(msgs[0].Event)
		require.NoError(t, err)
		_, ok := m2.Event(h1)
		assert.True(t, ok)
	})

	t.Run("re-delivery is a no-op", func(t *testing.T) {
		m1 := testMembership("node-1", &fakeDetector{}, nil)
		msgs, err := m1.Bootstrap([]NodeID{"node-1", "node-2"})
		require.NoError(t, err)

		m2 := testMembership("node-2", &fakeDetector{}, nil)
		_, err = m2.HandleMessage(msgs[0])
		require.NoError(t, err)
		_, err = m2.HandleMessage(msgs[0])
		require.NoError(t, err)

		assert.Equal(t, 1, m2.NumEvents())
	})

	t.Run("reports creator to detector", func(t *testing.T) {
		m1 := testMembership("node-1", &fakeDetector{}, nil)
		msgs, err := m1.Bootstrap([]NodeID{"node-1", "node-2"})
		require.NoError(t, err)

		detector := &fakeDetector{}
		m2 := testMembership("node-2", detector, nil)
		_, err = m2.HandleMessage(msgs[0])
		require.NoError(t, err)

		assert.Equal(t, []NodeID{"node-1"}, detector.reported)
	})

	t.Run("heartbeat", func(t *testing.T) {
		detector := &fakeDetector{}
		m := testMembership("node-1", detector, nil)

		replies, err := m.HandleMessage(NewHeartbeatMessage("node-2"))
		require.NoError(t, err)
		assert.Empty(t, replies)
		assert.Equal(t, []NodeID{"node-2"}, detector.reported)
		assert.Equal(t, 0, m.NumEvents())
	})

	t.Run("heartbeat with no sender", func(t *testing.T) {
		detector := &fakeDetector{}
		m := testMembership("node-1", detector, nil)

		_, err := m.HandleMessage(Message{Type: MessageTypeHeartbeat})
		assert.Error(t, err)
		assert.Empty(t, detector.reported)
	})

	t.Run("concurrent remove does not revoke applied add", func(t *testing.T) {
		m := testMembership("node-5", &fakeDetector{}, nil)

		genesis := &Event{
			Creator:     "node-1",
			Observation: Genesis([]NodeID{"node-1", "node-2"}),
		}
		_, err := m.HandleMessage(NewEventMessage(genesis))
		require.NoError(t, err)

		genesisHash, err := ComputeHash(genesis)
		require.NoError(t, err)

		// node-2 admits node-3.
		_, err = m.HandleMessage(NewEventMessage(&Event{
			Creator:     "node-2",
			OtherParent: &genesisHash,
			Observation: Add("node-3"),
		}))
		require.NoError(t, err)
		require.Equal(t, []NodeID{"node-1", "node-2", "node-3"}, m.Group())

		// node-1 concurrently removes node-2. The remove sorts before
		// node-2's add, but the add had already taken effect: node-3's
		// membership must survive, since no remove for node-3 was ever
		// observed.
		_, err = m.HandleMessage(NewEventMessage(&Event{
			Creator:     "node-1",
			SelfParent:  &genesisHash,
			Observation: Remove("node-2"),
		}))
		require.NoError(t, err)

		assert.Equal(t, []NodeID{"node-1", "node-3"}, m.Group())
	})

	t.Run("rejects dangling parent", func(t *testing.T) {
		m := testMembership("node-1", &fakeDetector{}, nil)
		_, err := m.Bootstrap([]NodeID{"node-1", "node-2"})
		require.NoError(t, err)

		// Simulate a malicious peer: an event referencing an unknown
		// parent.
		unknown := Hash{1, 2, 3}
		_, err = m.HandleMessage(NewEventMessage(&Event{
			Creator:     "node-2",
			OtherParent: &unknown,
			Observation: Add("node-3"),
		}))
		assert.ErrorIs(t, err, ErrDanglingParent)

		// The rejected message must not corrupt the graph.
		assert.Equal(t, 1, m.NumEvents())
		assert.Equal(t, []NodeID{"node-1", "node-2"}, m.Group())
	})

	t.Run("ignores observations from non members", func(t *testing.T) {
		m1 := testMembership("node-1", &fakeDetector{}, nil)
		msgs, err := m1.Bootstrap([]NodeID{"node-1"})
		require.NoError(t, err)

		m2 := testMembership("node-2", &fakeDetector{}, nil)
		_, err = m2.HandleMessage(msgs[0])
		require.NoError(t, err)

		genesisHash, err := ComputeHash(msgs[0].Event)
		require.NoError(t, err)

		// node-9 is not a member, so its events are stored but have no
		// effect on the group view.
		_, err = m2.HandleMessage(NewEventMessage(&Event{
			Creator:     "node-9",
			OtherParent: &genesisHash,
			Observation: Add("node-9"),
		}))
		require.NoError(t, err)

		assert.Equal(t, 2, m2.NumEvents())
		assert.Equal(t, []NodeID{"node-1"}, m2.Group())
	})
}

func TestMembership_Convergence(t *testing.T) {
	// Two nodes each create local events, then exchange all messages.
	// Both must derive the same group view.
	m1 := testMembership("node-1", &fakeDetector{}, nil)
	m2 := testMembership("node-2", &fakeDetector{}, nil)

	genesis, err := m1.Bootstrap([]NodeID{"node-1", "node-2"})
	require.NoError(t, err)
	for _, msg := range genesis {
		_, err = m2.HandleMessage(msg)
		require.NoError(t, err)
	}

	require.NoError(t, m1.AddNode("node-3"))
	fromM1, err := m1.Poll()
	require.NoError(t, err)

	require.NoError(t, m2.AddNode("node-4"))
	fromM2, err := m2.Poll()
	require.NoError(t, err)

	for _, msg := range fromM1 {
		_, err = m2.HandleMessage(msg)
		require.NoError(t, err)
	}
	for _, msg := range fromM2 {
		_, err = m1.HandleMessage(msg)
		require.NoError(t, err)
	}

	assert.Equal(t, m1.Group(), m2.Group())
	assert.Equal(
		t,
		[]NodeID{"node-1", "node-2", "node-3", "node-4"},
		m1.Group(),
	)
}
