// Package gossip maintains the local node's view of group membership using
// a gossip graph.
//
// The gossip graph is a content addressed, hash linked DAG of events, where
// each event records an observation about the group (the founding members,
// a proposed addition or a proposed removal) along with the causal context
// it was made in. Nodes exchange events via gossip messages, so every node
// eventually holds the same graph and derives the same membership view
// from it.
package gossip
