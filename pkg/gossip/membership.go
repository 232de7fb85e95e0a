package gossip

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hearsay-io/hearsay/pkg/log"
)

// Membership is the replicated group membership state machine local to one
// node.
//
// It is the sole owner and mutator of its gossip graph and failure
// detector. Poll turns local observations (detected failures and queued
// administrative requests) into new events and outputs gossip messages for
// the networking layer to send, HandleMessage consumes messages received
// from remote nodes, and Group derives the agreed membership view from the
// graph.
//
// Calls are serialized internally, so a network receive loop and a local
// administrative API may call in concurrently.
type Membership struct {
	localID NodeID

	// graph is the gossip graph local to this node.
	graph *Graph

	// detector is the failure detection subsystem.
	detector FailureDetector

	// lastSelf is the hash of the last locally created event, or nil if
	// none has been created yet.
	lastSelf *Hash

	// lastOther is the hash of the most recent event received from
	// another node, or nil if none has been received yet.
	lastOther *Hash

	// pending holds queued administrative observations, emitted as events
	// on the next poll.
	pending []Observation

	// mu protects the above fields.
	mu sync.Mutex

	watcher Watcher

	metrics *Metrics

	logger log.Logger
}

// NewMembership creates an empty membership state machine for the node
// with the given ID. The group is unknown until a genesis event is created
// with Bootstrap or received from a peer.
func NewMembership(
	localID NodeID,
	detector FailureDetector,
	watcher Watcher,
	logger log.Logger,
) *Membership {
	if watcher == nil {
		watcher = newNopWatcher()
	}
	return &Membership{
		localID:  localID,
		graph:    NewGraph(),
		detector: detector,
		watcher:  watcher,
		metrics:  newMetrics(),
		logger:   logger.WithSubsystem("gossip.membership"),
	}
}

// LocalID returns the ID of the local node.
func (m *Membership) LocalID() NodeID {
	return m.localID
}

// Bootstrap creates the genesis event declaring the founding members of a
// new group, and outputs it as gossip for the networking layer to send.
//
// Only valid on a node that has not yet created or received any event.
func (m *Membership) Bootstrap(members []NodeID) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.graph.NumEvents() != 0 {
		return nil, fmt.Errorf("graph is not empty")
	}

	before := m.groupLocked()
	msg, err := m.createEventLocked(Genesis(members))
	if err != nil {
		return nil, err
	}
	m.updateMetricsLocked()
	m.notifyLocked(before)

	return []Message{msg}, nil
}

// AddNode queues an administrative request to admit the given node to the
// group. The corresponding event is created and emitted on the next poll.
func (m *Membership) AddNode(node NodeID) error {
	if node == "" {
		return fmt.Errorf("missing node id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, Add(node))
	return nil
}

// RemoveNode queues an administrative request to remove the given node
// from the group. The corresponding event is created and emitted on the
// next poll.
func (m *Membership) RemoveNode(node NodeID) error {
	if node == "" {
		return fmt.Errorf("missing node id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, Remove(node))
	return nil
}

// Poll polls the failure detector for any new failures, records them and
// any queued administrative requests as new local events, and outputs
// gossip messages for the networking layer to send to remote nodes.
//
// Polling with no new failures and no queued requests outputs no messages
// and leaves the graph untouched. If recording an observation fails, the
// messages for events already recorded are still returned alongside the
// error so they are never stranded in the local graph.
func (m *Membership) Poll() ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.detector.PollFailures(); err != nil {
		return nil, fmt.Errorf("failure detector: %w", err)
	}

	observations := m.pending
	m.pending = nil
	for _, node := range m.detector.DequeueFailures() {
		m.logger.Info("node suspected failed", zap.String("node-id", string(node)))
		observations = append(observations, Remove(node))
	}

	if len(observations) == 0 {
		return nil, nil
	}

	if m.graph.NumEvents() == 0 {
		// Observations cannot be anchored before a genesis event has been
		// created or received, so hold them until one arrives.
		m.pending = observations
		return nil, nil
	}

	before := m.groupLocked()

	var msgs []Message
	for i, observation := range observations {
		msg, err := m.createEventLocked(observation)
		if err != nil {
			// Keep the messages for events already created so they are
			// still emitted, and requeue the observations not yet
			// processed. The failed observation is dropped so it cannot
			// poison the queue.
			remaining := make([]Observation, len(observations)-i-1)
			copy(remaining, observations[i+1:])
			m.pending = remaining

			m.updateMetricsLocked()
			m.notifyLocked(before)
			return msgs, err
		}
		msgs = append(msgs, msg)
	}

	m.updateMetricsLocked()
	m.notifyLocked(before)

	return msgs, nil
}

// HandleMessage handles a message received by the networking layer from a
// remote node, and outputs any gossip messages to send in response (which
// may be none).
//
// Re-delivery of an already known event is a no-op. A message carrying an
// event that references unknown parents, or whose hash collides with a
// stored event of different content, is rejected and leaves the graph
// unchanged.
func (m *Membership) HandleMessage(msg Message) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.MessagesInbound.With(typeLabel(msg.Type)).Inc()

	switch msg.Type {
	case MessageTypeHeartbeat:
		if msg.From == "" {
			// Never track a phantom node the detector could later
			// suspect.
			m.metrics.MessagesRejected.Inc()
			return nil, fmt.Errorf("heartbeat with no sender")
		}
		if msg.From != m.localID {
			m.detector.Report(msg.From)
		}
		return nil, nil
	case MessageTypeEvent:
		if msg.Event == nil {
			m.metrics.MessagesRejected.Inc()
			return nil, fmt.Errorf("event message with no event")
		}
		if err := m.handleEventLocked(msg.Event); err != nil {
			m.metrics.MessagesRejected.Inc()
			return nil, err
		}
		return nil, nil
	default:
		m.metrics.MessagesRejected.Inc()
		return nil, fmt.Errorf("unsupported message type: %d", msg.Type)
	}
}

func (m *Membership) handleEventLocked(event *Event) error {
	before := m.groupLocked()

	ref, err := m.graph.Insert(*event)
	if err != nil {
		return fmt.Errorf("graph: %w", err)
	}

	hash, _ := m.graph.HashByIndex(ref.Index)
	m.logger.Debug(
		"handled event",
		zap.String("hash", hash.String()),
		zap.String("creator", string(event.Creator)),
		zap.Stringer("observation", event.Observation.Type),
	)

	if event.Creator != m.localID {
		// Track the most recent remote event as the other parent candidate
		// for future local events.
		h := hash
		m.lastOther = &h

		// Receiving gossip from a node is itself a liveness signal.
		m.detector.Report(event.Creator)
	}

	m.updateMetricsLocked()
	m.notifyLocked(before)

	return nil
}

// createEventLocked records the observation as a new local event and
// returns it wrapped as an outgoing message.
func (m *Membership) createEventLocked(observation Observation) (Message, error) {
	event := Event{
		Creator:     m.localID,
		SelfParent:  m.lastSelf,
		OtherParent: m.lastOther,
		Observation: observation,
	}
	if observation.Type == ObservationGenesis {
		// Genesis events are roots.
		event.SelfParent = nil
		event.OtherParent = nil
	}

	ref, err := m.graph.Insert(event)
	if err != nil {
		return Message{}, fmt.Errorf("graph: %w", err)
	}

	hash, _ := m.graph.HashByIndex(ref.Index)
	h := hash
	m.lastSelf = &h

	m.logger.Debug(
		"created event",
		zap.String("hash", hash.String()),
		zap.Stringer("observation", observation.Type),
	)

	return NewEventMessage(ref.Event), nil
}

// Group returns the currently agreed group members, sorted.
//
// The view is a pure function of the graph's contents: any two nodes
// holding the same events derive the same view.
func (m *Membership) Group() []NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.groupLocked()
}

// groupLocked folds the graph's observations in causal order.
//
// The first genesis in causal order seeds the member set. An add or
// remove observation takes effect only if its creator is a member of the
// group derived from the observation's own ancestors. Judging the creator
// against the event's fixed causal past rather than the fold's running
// state means a concurrent event arriving later can never retroactively
// disable an observation that has already taken effect: applied decisions
// are only ever extended by new observations, never revoked by
// reordering.
func (m *Membership) groupLocked() []NodeID {
	order := m.graph.CausalOrder()

	// effective records, per graph index, whether the event's observation
	// takes effect. Ancestors always precede descendants in causal order,
	// so by the time an event is reached every ancestor's entry is
	// resolved.
	effective := make([]bool, m.graph.NumEvents())
	seeded := false
	for _, ref := range order {
		switch ref.Event.Observation.Type {
		case ObservationGenesis:
			// A group has exactly one genesis. Later genesis events are
			// ignored.
			if !seeded {
				effective[ref.Index] = true
				seeded = true
			}
		case ObservationAdd, ObservationRemove:
			effective[ref.Index] = m.creatorInAncestryLocked(ref, order, effective)
		}
	}

	members := make(map[NodeID]struct{})
	for _, ref := range order {
		if effective[ref.Index] {
			applyObservation(members, &ref.Event.Observation)
		}
	}

	group := make([]NodeID, 0, len(members))
	for member := range members {
		group = append(group, member)
	}
	sort.Slice(group, func(i, j int) bool {
		return group[i] < group[j]
	})
	return group
}

// creatorInAncestryLocked reports whether the event's creator is a member
// of the group derived from the event's ancestors alone.
func (m *Membership) creatorInAncestryLocked(
	ref EventRef,
	order []EventRef,
	effective []bool,
) bool {
	ancestors := make(map[int]struct{})
	it := m.graph.Ancestors(ref)
	for it.Next() {
		ancestors[it.Event().Index] = struct{}{}
	}
	if it.Err() != nil {
		// Insert validates parents, so the traversal cannot fail on a
		// well formed graph.
		return false
	}
	delete(ancestors, ref.Index)

	members := make(map[NodeID]struct{})
	for _, ancestor := range order {
		if !effective[ancestor.Index] {
			continue
		}
		if _, ok := ancestors[ancestor.Index]; !ok {
			continue
		}
		applyObservation(members, &ancestor.Event.Observation)
	}

	_, ok := members[ref.Event.Creator]
	return ok
}

func applyObservation(members map[NodeID]struct{}, observation *Observation) {
	switch observation.Type {
	case ObservationGenesis:
		for _, member := range observation.Members {
			members[member] = struct{}{}
		}
	case ObservationAdd:
		members[observation.Node] = struct{}{}
	case ObservationRemove:
		delete(members, observation.Node)
	}
}

// NumEvents returns the number of events in the local gossip graph.
func (m *Membership) NumEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.graph.NumEvents()
}

// EventEntry pairs a stored event with its hash.
type EventEntry struct {
	Hash  Hash  `json:"hash"`
	Event Event `json:"event"`
}

// Events returns a copy of the graph's events in causal order.
func (m *Membership) Events() []EventEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	order := m.graph.CausalOrder()
	entries := make([]EventEntry, 0, len(order))
	for _, ref := range order {
		hash, _ := m.graph.HashByIndex(ref.Index)
		entries = append(entries, EventEntry{
			Hash:  hash,
			Event: *ref.Event,
		})
	}
	return entries
}

// Event returns a copy of the event with the given hash.
func (m *Membership) Event(hash Hash) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.graph.ByHash(hash)
	if !ok {
		return Event{}, false
	}
	return *ref.Event, true
}

func (m *Membership) Metrics() *Metrics {
	return m.metrics
}

// notifyLocked notifies the watcher of the difference between the group
// view before a mutation and the current view, and releases detector state
// for departed members.
func (m *Membership) notifyLocked(before []NodeID) {
	after := m.groupLocked()

	beforeSet := make(map[NodeID]struct{}, len(before))
	for _, node := range before {
		beforeSet[node] = struct{}{}
	}
	afterSet := make(map[NodeID]struct{}, len(after))
	for _, node := range after {
		afterSet[node] = struct{}{}
	}

	for _, node := range after {
		if _, ok := beforeSet[node]; !ok {
			m.logger.Info("node joined group", zap.String("node-id", string(node)))
			m.watcher.OnJoin(node)
		}
	}
	for _, node := range before {
		if _, ok := afterSet[node]; !ok {
			m.logger.Info("node left group", zap.String("node-id", string(node)))
			m.watcher.OnLeave(node)
			m.detector.Remove(node)
		}
	}

	m.metrics.GroupSize.Set(float64(len(after)))
}

func (m *Membership) updateMetricsLocked() {
	m.metrics.Events.Set(float64(m.graph.NumEvents()))
}

func typeLabel(t MessageType) prometheus.Labels {
	return prometheus.Labels{"type": t.String()}
}
