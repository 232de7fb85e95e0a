package gossip

// Watcher is used to receive notifications when the agreed membership view
// changes.
//
// The implementations of Watcher must not block. Watcher is called with
// the membership mutex held so must not call back into Membership.
type Watcher interface {
	// OnJoin notifies that a node joined the group.
	OnJoin(node NodeID)

	// OnLeave notifies that a node left the group, whether removed
	// administratively or suspected failed.
	OnLeave(node NodeID)
}

type nopWatcher struct {
}

func newNopWatcher() *nopWatcher {
	return &nopWatcher{}
}

func (w *nopWatcher) OnJoin(_ NodeID) {}

func (w *nopWatcher) OnLeave(_ NodeID) {}

var _ Watcher = &nopWatcher{}
