package gossip

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hearsay-io/hearsay/pkg/log"
)

// Node runs a membership state machine over a packet connection.
//
// Inbound packets are decoded and fed to the membership, and the messages
// the membership outputs are broadcast to the configured peers. A
// periodic loop polls the failure detector and sends heartbeats so peers
// can track this node's liveness.
type Node struct {
	membership *Membership

	config *Config

	packetConn net.PacketConn

	metrics *Metrics

	logger log.Logger

	closed     *atomic.Bool
	shutdownCh chan struct{}
}

// NewNode creates a gossip node with the given local ID, listening for
// gossip traffic on the given packet connection.
func NewNode(
	nodeID NodeID,
	config *Config,
	packetLn net.PacketConn,
	watcher Watcher,
	logger log.Logger,
) *Node {
	logger = logger.WithSubsystem("gossip")

	logger.Info(
		"starting gossip node",
		zap.String("node-id", string(nodeID)),
		zap.String("bind-addr", config.BindAddr),
		zap.String("advertise-addr", config.AdvertiseAddr),
		zap.Strings("peers", config.Peers),
	)

	detector := NewAccrualDetector(
		config.SuspicionThreshold, config.Interval*2, config.SampleSize,
	)
	membership := NewMembership(nodeID, detector, watcher, logger)

	return &Node{
		membership: membership,
		config:     config,
		packetConn: packetLn,
		metrics:    membership.Metrics(),
		logger:     logger,
		closed:     atomic.NewBool(false),
		shutdownCh: make(chan struct{}),
	}
}

// Membership returns the membership state machine owned by this node.
func (n *Node) Membership() *Membership {
	return n.membership
}

func (n *Node) Metrics() *Metrics {
	return n.metrics
}

// Bootstrap creates a new group founded by the given members and gossips
// the genesis event to the configured peers.
func (n *Node) Bootstrap(members []NodeID) error {
	msgs, err := n.membership.Bootstrap(members)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	n.broadcast(msgs)
	return nil
}

// Run serves gossip traffic until Close is called.
func (n *Node) Run() error {
	var group errgroup.Group
	group.Go(func() error {
		return n.serve()
	})
	group.Go(func() error {
		n.schedule()
		return nil
	})
	return group.Wait()
}

// Close stops the node and closes the packet connection.
func (n *Node) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		// Already closed.
		return nil
	}

	close(n.shutdownCh)
	return n.packetConn.Close()
}

// serve reads and handles packets until the connection is closed.
func (n *Node) serve() error {
	buf := make([]byte, n.config.MaxPacketSize)
	for {
		read, addr, err := n.packetConn.ReadFrom(buf)
		if err != nil {
			if n.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read packet: %w", err)
		}

		n.metrics.PacketBytesInbound.Add(float64(read))

		msg, err := DecodeMessage(buf[:read])
		if err != nil {
			n.logger.Warn(
				"failed to decode packet",
				zap.String("addr", addr.String()),
				zap.Error(err),
			)
			n.metrics.MessagesRejected.Inc()
			continue
		}

		replies, err := n.membership.HandleMessage(msg)
		if err != nil {
			n.logger.Warn(
				"failed to handle message",
				zap.String("addr", addr.String()),
				zap.Stringer("type", msg.Type),
				zap.Error(err),
			)
			continue
		}
		n.broadcast(replies)
	}
}

// schedule polls at the configured rate until shutdown.
func (n *Node) schedule() {
	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Add 10% jitter to avoid nodes synchronising.
			jitterMs := (rand.Int63() % n.config.Interval.Milliseconds()) / 10
			select {
			case <-time.After(time.Duration(jitterMs) * time.Millisecond):
				n.round()
			case <-n.shutdownCh:
				return
			}

		case <-n.shutdownCh:
			return
		}
	}
}

// round runs one round of gossip: poll the membership for new local
// events, then send a heartbeat so peers can track our liveness.
func (n *Node) round() {
	msgs, err := n.membership.Poll()
	if err != nil {
		n.logger.Warn("poll failed", zap.Error(err))
	}
	n.broadcast(msgs)

	n.broadcast([]Message{NewHeartbeatMessage(n.membership.LocalID())})
}

// broadcast sends each message to every configured peer.
func (n *Node) broadcast(msgs []Message) {
	if len(msgs) == 0 {
		return
	}

	for _, msg := range msgs {
		b, err := EncodeMessage(msg)
		if err != nil {
			n.logger.Error(
				"failed to encode message",
				zap.Stringer("type", msg.Type),
				zap.Error(err),
			)
			continue
		}
		if len(b) > n.config.MaxPacketSize {
			n.logger.Error(
				"message exceeds max packet size",
				zap.Stringer("type", msg.Type),
				zap.Int("size", len(b)),
			)
			continue
		}

		for _, peer := range n.config.Peers {
			udpAddr, err := net.ResolveUDPAddr("udp", peer)
			if err != nil {
				n.logger.Warn(
					"failed to resolve peer",
					zap.String("addr", peer),
					zap.Error(err),
				)
				continue
			}
			written, err := n.packetConn.WriteTo(b, udpAddr)
			if err != nil {
				n.logger.Warn(
					"failed to write packet",
					zap.String("addr", peer),
					zap.Error(err),
				)
				continue
			}
			n.metrics.PacketBytesOutbound.Add(float64(written))
			n.metrics.MessagesOutbound.With(typeLabel(msg.Type)).Inc()
		}
	}
}
