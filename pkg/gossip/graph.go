package gossip

import (
	"errors"
	"fmt"
	"sort"
)

// NodeID uniquely identifies a peer node in the group.
type NodeID string

type ObservationType uint8

const (
	// ObservationGenesis declares the founding membership of the group.
	// Only valid on a root event.
	ObservationGenesis ObservationType = iota + 1
	// ObservationAdd proposes admitting a node to the group.
	ObservationAdd
	// ObservationRemove proposes removing a node from the group.
	ObservationRemove
)

func (t ObservationType) String() string {
	switch t {
	case ObservationGenesis:
		return "genesis"
	case ObservationAdd:
		return "add"
	case ObservationRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Observation is the semantic payload of an event: one node's contribution
// to the group's membership history.
type Observation struct {
	Type ObservationType `json:"type" codec:"type"`

	// Node is the subject of an add or remove observation.
	Node NodeID `json:"node,omitempty" codec:"node"`

	// Members is the founding membership of a genesis observation, sorted
	// and deduplicated.
	Members []NodeID `json:"members,omitempty" codec:"members"`
}

// Genesis creates an observation declaring the founding members of the
// group. The members are sorted and deduplicated so the observation's
// canonical encoding does not depend on the order given by the caller.
func Genesis(members []NodeID) Observation {
	sorted := make([]NodeID, 0, len(members))
	seen := make(map[NodeID]struct{}, len(members))
	for _, member := range members {
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		sorted = append(sorted, member)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	return Observation{
		Type:    ObservationGenesis,
		Members: sorted,
	}
}

// Add creates an observation proposing the given node joins the group.
func Add(node NodeID) Observation {
	return Observation{
		Type: ObservationAdd,
		Node: node,
	}
}

// Remove creates an observation proposing the given node is removed from
// the group.
func Remove(node NodeID) Observation {
	return Observation{
		Type: ObservationRemove,
		Node: node,
	}
}

func (o *Observation) equal(other *Observation) bool {
	if o.Type != other.Type || o.Node != other.Node {
		return false
	}
	if len(o.Members) != len(other.Members) {
		return false
	}
	for i, member := range o.Members {
		if other.Members[i] != member {
			return false
		}
	}
	return true
}

// Event is an immutable record of one node's causal contribution to the
// gossip graph, identified by the hash of its canonical encoding.
type Event struct {
	// Creator is the node that authored the event.
	Creator NodeID `json:"creator" codec:"creator"`

	// SelfParent is the hash of the creator's preceding event, or nil if
	// this is the creator's first event.
	SelfParent *Hash `json:"self_parent,omitempty" codec:"self_parent"`

	// OtherParent is the hash of the most recent event received from
	// another node when this event was created, or nil if none had been
	// received.
	OtherParent *Hash `json:"other_parent,omitempty" codec:"other_parent"`

	// Observation is the event's semantic payload.
	Observation Observation `json:"observation" codec:"observation"`
}

func (e *Event) equal(other *Event) bool {
	if e.Creator != other.Creator {
		return false
	}
	if !hashPtrEqual(e.SelfParent, other.SelfParent) {
		return false
	}
	if !hashPtrEqual(e.OtherParent, other.OtherParent) {
		return false
	}
	return e.Observation.equal(&other.Observation)
}

func hashPtrEqual(a, b *Hash) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EventRef pairs an event stored in a graph with its insertion index.
//
// A ref is a transient view: hold hashes or indices across calls rather
// than refs, and resolve them again when needed.
type EventRef struct {
	Event *Event
	Index int
}

var (
	// ErrDanglingParent indicates an event references a parent hash with
	// no corresponding event in the graph.
	ErrDanglingParent = errors.New("dangling parent")

	// ErrHashCollision indicates an event hashes identically to an
	// already stored event with different content. The stored event is
	// never silently aliased.
	ErrHashCollision = errors.New("hash collision")

	// ErrInvalidEvent indicates an event violates the graph's structural
	// rules, such as a genesis event with parents.
	ErrInvalidEvent = errors.New("invalid event")
)

// Graph is an append-only store of gossip events indexed by content hash
// and by insertion order.
//
// Parents must already be stored when an event is inserted, so the parent
// relation is acyclic by construction and every parent index is smaller
// than its child's. Insertion order is not causal order across creators;
// recover causal order with Ancestors or CausalOrder.
//
// Graph is not safe for concurrent use: the owning Membership serializes
// access.
type Graph struct {
	// events holds all events in insertion order.
	events []Event
	// hashes holds the content hash of each event, parallel to events.
	hashes []Hash
	// indices maps an event hash to its index in events.
	indices map[Hash]int
}

// NewGraph creates an empty gossip graph.
func NewGraph() *Graph {
	return &Graph{
		indices: make(map[Hash]int),
	}
}

// NumEvents returns the number of events stored.
func (g *Graph) NumEvents() int {
	return len(g.events)
}

// Index returns the insertion index of the event with the given hash.
func (g *Graph) Index(hash Hash) (int, bool) {
	index, ok := g.indices[hash]
	return index, ok
}

// Contains returns whether the graph stores an event with the given hash.
func (g *Graph) Contains(hash Hash) bool {
	_, ok := g.indices[hash]
	return ok
}

// ByIndex returns the event with the given insertion index.
func (g *Graph) ByIndex(index int) (EventRef, bool) {
	if index < 0 || index >= len(g.events) {
		return EventRef{}, false
	}
	return EventRef{
		Event: &g.events[index],
		Index: index,
	}, true
}

// ByHash returns the event with the given hash.
func (g *Graph) ByHash(hash Hash) (EventRef, bool) {
	index, ok := g.indices[hash]
	if !ok {
		return EventRef{}, false
	}
	return g.ByIndex(index)
}

// HashByIndex returns the content hash of the event with the given index.
func (g *Graph) HashByIndex(index int) (Hash, bool) {
	if index < 0 || index >= len(g.hashes) {
		return Hash{}, false
	}
	return g.hashes[index], true
}

// Insert adds the event to the graph and returns a ref to the stored
// event.
//
// Insert is idempotent: inserting an event whose content is already stored
// returns a ref to the existing event without appending a duplicate. An
// event whose hash matches a stored event with different content is
// rejected with ErrHashCollision. An event referencing a parent that is
// not stored is rejected with ErrDanglingParent. Genesis events must be
// roots and every other event must reference at least one parent, else
// the event is rejected with ErrInvalidEvent. A rejected insert leaves
// the graph unchanged.
func (g *Graph) Insert(event Event) (EventRef, error) {
	hash, err := ComputeHash(&event)
	if err != nil {
		return EventRef{}, fmt.Errorf("compute hash: %w", err)
	}

	if index, ok := g.indices[hash]; ok {
		stored := &g.events[index]
		if !stored.equal(&event) {
			return EventRef{}, fmt.Errorf("event %s: %w", hash, ErrHashCollision)
		}
		return EventRef{
			Event: stored,
			Index: index,
		}, nil
	}

	if err := g.validate(&event); err != nil {
		return EventRef{}, err
	}

	index := len(g.events)
	g.events = append(g.events, event)
	g.hashes = append(g.hashes, hash)
	g.indices[hash] = index

	return EventRef{
		Event: &g.events[index],
		Index: index,
	}, nil
}

func (g *Graph) validate(event *Event) error {
	switch event.Observation.Type {
	case ObservationGenesis:
		if event.SelfParent != nil || event.OtherParent != nil {
			return fmt.Errorf("genesis event must be a root: %w", ErrInvalidEvent)
		}
		if len(event.Observation.Members) == 0 {
			return fmt.Errorf("genesis event with no members: %w", ErrInvalidEvent)
		}
	case ObservationAdd, ObservationRemove:
		if event.Observation.Node == "" {
			return fmt.Errorf("%s event with no subject: %w", event.Observation.Type, ErrInvalidEvent)
		}
		// Only genesis events are roots. Anchoring every other event to a
		// parent bounds where it can sort in the causal order, so an event
		// cannot be crafted to sort beneath the group's settled history.
		if event.SelfParent == nil && event.OtherParent == nil {
			return fmt.Errorf("%s event without parents: %w", event.Observation.Type, ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("unknown observation type %d: %w", event.Observation.Type, ErrInvalidEvent)
	}

	if event.SelfParent != nil && !g.Contains(*event.SelfParent) {
		return fmt.Errorf("self parent %s: %w", event.SelfParent, ErrDanglingParent)
	}
	if event.OtherParent != nil && !g.Contains(*event.OtherParent) {
		return fmt.Errorf("other parent %s: %w", event.OtherParent, ErrDanglingParent)
	}
	return nil
}

// Ancestors returns an iterator over every event reachable from ref by
// following parent links, including ref itself, each exactly once.
//
// The traversal is breadth first, visiting the other-parent branch before
// the self-parent branch at each event, so it is deterministic for a given
// set of events. The iterator is single use.
func (g *Graph) Ancestors(ref EventRef) *AncestorIter {
	return &AncestorIter{
		graph: g,
		queue: []int{ref.Index},
		seen:  map[int]struct{}{ref.Index: {}},
	}
}

// AncestorIter lazily traverses the ancestors of an event.
//
//	it := graph.Ancestors(ref)
//	for it.Next() {
//		ancestor := it.Event()
//		...
//	}
//	if it.Err() != nil {
//		...
//	}
type AncestorIter struct {
	graph   *Graph
	queue   []int
	seen    map[int]struct{}
	current EventRef
	err     error
}

// Next advances to the next ancestor, returning false when the traversal
// is exhausted or fails.
func (it *AncestorIter) Next() bool {
	if it.err != nil || len(it.queue) == 0 {
		return false
	}

	index := it.queue[0]
	it.queue = it.queue[1:]

	ref, ok := it.graph.ByIndex(index)
	if !ok {
		it.err = fmt.Errorf("event index %d out of range", index)
		return false
	}

	// Other parent before self parent.
	for _, parent := range []*Hash{ref.Event.OtherParent, ref.Event.SelfParent} {
		if parent == nil {
			continue
		}
		parentIndex, ok := it.graph.Index(*parent)
		if !ok {
			// Insert validates parents so this means the graph has been
			// corrupted. Fail fast rather than silently truncating the
			// traversal.
			it.err = fmt.Errorf("event %d: parent %s: %w", index, parent, ErrDanglingParent)
			return false
		}
		if _, ok := it.seen[parentIndex]; ok {
			continue
		}
		it.seen[parentIndex] = struct{}{}
		it.queue = append(it.queue, parentIndex)
	}

	it.current = ref
	return true
}

// Event returns the ancestor the iterator is positioned on.
func (it *AncestorIter) Event() EventRef {
	return it.current
}

// Err returns the first error hit by the traversal, if any.
func (it *AncestorIter) Err() error {
	return it.err
}

// CausalOrder returns every event in the graph ordered so that ancestors
// precede descendants, with ties broken by depth, then creator, then
// hash.
//
// The order is a pure function of the graph's contents: two graphs holding
// the same events return the same order regardless of the order the events
// were inserted in.
func (g *Graph) CausalOrder() []EventRef {
	// Since parents are always inserted before children, a single
	// ascending pass resolves every event's depth.
	depths := make([]int, len(g.events))
	for i := range g.events {
		depth := 0
		for _, parent := range []*Hash{g.events[i].SelfParent, g.events[i].OtherParent} {
			if parent == nil {
				continue
			}
			parentIndex := g.indices[*parent]
			if depths[parentIndex]+1 > depth {
				depth = depths[parentIndex] + 1
			}
		}
		depths[i] = depth
	}

	indices := make([]int, len(g.events))
	for i := range indices {
		indices[i] = i
	}
	sort.Slice(indices, func(i, j int) bool {
		a, b := indices[i], indices[j]
		if depths[a] != depths[b] {
			return depths[a] < depths[b]
		}
		if g.events[a].Creator != g.events[b].Creator {
			return g.events[a].Creator < g.events[b].Creator
		}
		return g.hashes[a].Compare(g.hashes[b]) < 0
	})

	refs := make([]EventRef, len(indices))
	for i, index := range indices {
		refs[i] = EventRef{
			Event: &g.events[index],
			Index: index,
		}
	}
	return refs
}
