package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hearsay-io/hearsay/admin"
	"github.com/hearsay-io/hearsay/pkg/config"
	"github.com/hearsay-io/hearsay/pkg/gossip"
	"github.com/hearsay-io/hearsay/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a group member node",
		Long: `Start a group member node.

The node gossips membership events with the configured peers and maintains
the agreed view of which nodes belong to the group.

Examples:
  # Found a new three node group.
  hearsay node --cluster.bootstrap --cluster.node-id node-1 \
      --cluster.members node-1,node-2,node-3 \
      --gossip.peers 10.26.104.14:8003,10.26.104.75:8003

  # Join as an existing member, waiting for gossip from the peers.
  hearsay node --cluster.node-id node-2 \
      --gossip.peers 10.26.104.12:8003,10.26.104.75:8003
`,
	}

	conf := Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.

This will replace references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := config.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(conf.Log.Level)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}

		if conf.Cluster.NodeID == "" {
			conf.Cluster.NodeID = uuid.New().String()
		}

		if conf.Gossip.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Gossip.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Gossip.AdvertiseAddr = advertiseAddr
		}

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run node", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *Config, logger log.Logger) error {
	logger.Info("starting hearsay node", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	packetLn, err := net.ListenPacket("udp", conf.Gossip.BindAddr)
	if err != nil {
		return fmt.Errorf("gossip listen: %s: %w", conf.Gossip.BindAddr, err)
	}

	node := gossip.NewNode(
		gossip.NodeID(conf.Cluster.NodeID),
		&conf.Gossip,
		packetLn,
		nil,
		logger,
	)
	node.Metrics().Register(registry)

	adminServer := admin.NewServer(
		conf.Admin.BindAddr,
		registry,
		logger,
	)
	adminServer.AddStatus("/gossip", gossip.NewStatus(node))

	if conf.Cluster.Bootstrap {
		members := make([]gossip.NodeID, 0, len(conf.Cluster.Members)+1)
		members = append(members, gossip.NodeID(conf.Cluster.NodeID))
		for _, member := range conf.Cluster.Members {
			members = append(members, gossip.NodeID(member))
		}
		if err := node.Bootstrap(members); err != nil {
			return err
		}
		logger.Info(
			"bootstrapped group",
			zap.Strings("members", conf.Cluster.Members),
		)
	}

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)
			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Gossip node.
	group.Add(func() error {
		if err := node.Run(); err != nil {
			return fmt.Errorf("gossip node: %w", err)
		}
		return nil
	}, func(error) {
		if err := node.Close(); err != nil {
			logger.Warn("failed to close gossip node", zap.Error(err))
		}

		logger.Info("gossip node shut down")
	})

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracefulShutdownTimeout,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func advertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found to advertise")
		}
		return ip + ":" + port, nil
	}

	return bindAddr, nil
}
