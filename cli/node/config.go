package node

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/hearsay-io/hearsay/pkg/gossip"
	"github.com/hearsay-io/hearsay/pkg/log"
)

type ClusterConfig struct {
	// NodeID is a unique identifier for this node in the group.
	NodeID string `json:"node_id" yaml:"node_id"`

	// Bootstrap founds a new group instead of waiting for a genesis event
	// from a peer.
	Bootstrap bool `json:"bootstrap" yaml:"bootstrap"`

	// Members contains the founding member IDs when bootstrapping. The
	// local node ID is always included.
	Members []string `json:"members" yaml:"members"`
}

func (c *ClusterConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.NodeID,
		"cluster.node-id",
		c.NodeID,
		`
A unique identifier for the node in the group.

By default a random ID will be generated for the node.`,
	)

	fs.BoolVar(
		&c.Bootstrap,
		"cluster.bootstrap",
		c.Bootstrap,
		`
Whether to found a new group instead of waiting for a genesis event from a
peer.`,
	)

	fs.StringSliceVar(
		&c.Members,
		"cluster.members",
		c.Members,
		`
The IDs of the founding group members when bootstrapping. The local node ID
is always included.`,
	)
}

type AdminConfig struct {
	// BindAddr is the address to bind to listen for admin connections.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		c.BindAddr,
		`
The host/port to listen for admin connections, for metrics, health and
node status.`,
	)
}

type Config struct {
	Cluster ClusterConfig `json:"cluster" yaml:"cluster"`

	Gossip gossip.Config `json:"gossip" yaml:"gossip"`

	Admin AdminConfig `json:"admin" yaml:"admin"`

	Log log.Config `json:"log" yaml:"log"`

	// GracefulShutdownTimeout is the duration to wait for the admin server
	// to shut down gracefully.
	GracefulShutdownTimeout time.Duration `json:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout"`
}

func Default() *Config {
	return &Config{
		Gossip: gossip.Config{
			BindAddr:           ":8003",
			Interval:           time.Millisecond * 500,
			MaxPacketSize:      1400,
			SuspicionThreshold: 8,
			SampleSize:         50,
		},
		Admin: AdminConfig{
			BindAddr: ":8002",
		},
		Log: log.Config{
			Level: "info",
		},
		GracefulShutdownTimeout: time.Second * 15,
	}
}

func (c *Config) Validate() error {
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Cluster.RegisterFlags(fs)
	c.Gossip.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)

	fs.DurationVar(
		&c.GracefulShutdownTimeout,
		"graceful-shutdown-timeout",
		c.GracefulShutdownTimeout,
		`
The duration to wait for the admin server to shut down gracefully.`,
	)
}
