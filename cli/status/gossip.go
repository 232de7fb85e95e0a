package status

import (
	"fmt"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/hearsay-io/hearsay/pkg/gossip"
	"github.com/hearsay-io/hearsay/status/client"
)

func newGossipCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gossip",
		Short: "inspect gossip state",
	}

	cmd.AddCommand(newGossipGroupCommand(c))
	cmd.AddCommand(newGossipEventsCommand(c))
	cmd.AddCommand(newGossipEventCommand(c))

	return cmd
}

func newGossipGroupCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "inspect the agreed group members",
		Long: `Inspect the agreed group members.

Queries the node for its current view of the group membership.

Examples:
  hearsay status gossip group
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipGroup(c)
	}

	return cmd
}

type gossipGroupOutput struct {
	Members []gossip.NodeID `json:"members"`
}

func showGossipGroup(c *client.Client) {
	group, err := c.Group()
	if err != nil {
		fmt.Printf("failed to get group: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipGroupOutput{
		Members: group,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newGossipEventsCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "inspect the gossip graph events",
		Long: `Inspect the gossip graph events.

Queries the node for the events in its gossip graph, in causal order.

Examples:
  hearsay status gossip events
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipEvents(c)
	}

	return cmd
}

type gossipEventsOutput struct {
	Events []gossip.EventEntry `json:"events"`
}

func showGossipEvents(c *client.Client) {
	events, err := c.GraphEvents()
	if err != nil {
		fmt.Printf("failed to get events: %s\n", err.Error())
		os.Exit(1)
	}

	output := gossipEventsOutput{
		Events: events,
	}
	b, _ := yaml.Marshal(output)
	fmt.Println(string(b))
}

func newGossipEventCommand(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a gossip graph event",
		Long: `Inspect a gossip graph event.

Queries the node for the event with the given hash.

Examples:
  hearsay status gossip event 397c1d3e...
`,
	}

	cmd.Run = func(cmd *cobra.Command, args []string) {
		showGossipEvent(args[0], c)
	}

	return cmd
}

func showGossipEvent(hash string, c *client.Client) {
	event, err := c.GraphEvent(hash)
	if err != nil {
		fmt.Printf("failed to get event: %s: %s\n", hash, err.Error())
		os.Exit(1)
	}

	b, _ := yaml.Marshal(event)
	fmt.Println(string(b))
}
