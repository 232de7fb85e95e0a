package gossip

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	// BindAddr is the address to bind to listen for gossip traffic.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// AdvertiseAddr is the address to advertise to other nodes.
	AdvertiseAddr string `json:"advertise_addr" yaml:"advertise_addr"`

	// Peers contains the addresses of the other nodes to gossip with.
	Peers []string `json:"peers" yaml:"peers"`

	// Interval is the rate to poll for failures and send heartbeats.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// MaxPacketSize is the maximum size of any packet sent.
	MaxPacketSize int `json:"max_packet_size" yaml:"max_packet_size"`

	// SuspicionThreshold is the phi value above which a silent node is
	// suspected failed.
	SuspicionThreshold float64 `json:"suspicion_threshold" yaml:"suspicion_threshold"`

	// SampleSize is the number of liveness signal intervals tracked per
	// node for failure detection.
	SampleSize int `json:"sample_size" yaml:"sample_size"`
}

func (c *Config) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.Interval == 0 {
		return fmt.Errorf("missing interval")
	}
	// The scheduler jitters in milliseconds.
	if c.Interval < time.Millisecond {
		return fmt.Errorf("interval must be at least 1ms")
	}
	if c.MaxPacketSize == 0 {
		return fmt.Errorf("missing max packet size")
	}
	if c.SuspicionThreshold == 0 {
		return fmt.Errorf("missing suspicion threshold")
	}
	if c.SampleSize == 0 {
		return fmt.Errorf("missing sample size")
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"gossip.bind-addr",
		c.BindAddr,
		`
The host/port to listen for inter-node gossip traffic.

If the host is unspecified it defaults to all listeners, such as
a bind address ':8003' will listen on '0.0.0.0:8003'`,
	)

	fs.StringVar(
		&c.AdvertiseAddr,
		"gossip.advertise-addr",
		c.AdvertiseAddr,
		`
Gossip listen address to advertise to other nodes in the group. This is the
address other nodes will use to gossip with the node.

Such as if the listen address is ':8003', the advertised address may be
'10.26.104.45:8003' or 'node1.cluster:8003'.

By default, if the bind address includes an IP to bind to that will be used.
If the bind address does not include an IP (such as ':8003') the nodes
private IP will be used, such as a bind address of ':8003' may have an
advertise address of '10.26.104.14:8003'.`,
	)

	fs.StringSliceVar(
		&c.Peers,
		"gossip.peers",
		c.Peers,
		`
The addresses of the other nodes in the group to gossip with.`,
	)

	fs.DurationVar(
		&c.Interval,
		"gossip.interval",
		c.Interval,
		`
The interval to poll the failure detector and send heartbeats to peers.`,
	)

	fs.IntVar(
		&c.MaxPacketSize,
		"gossip.max-packet-size",
		c.MaxPacketSize,
		`
The maximum size of any packet sent.

Depending on your networks MTU you may be able to increase to include more
data in each packet.`,
	)

	fs.Float64Var(
		&c.SuspicionThreshold,
		"gossip.suspicion-threshold",
		c.SuspicionThreshold,
		`
The phi value above which a silent node is suspected failed and proposed
for removal from the group.`,
	)

	fs.IntVar(
		&c.SampleSize,
		"gossip.sample-size",
		c.SampleSize,
		`
The number of liveness signal intervals tracked per node for failure
detection.`,
	)
}
