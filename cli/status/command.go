package status

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearsay-io/hearsay/status/client"
	"github.com/hearsay-io/hearsay/status/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect node status",
		Long: `Inspect node status.

Each node exposes a status API on its admin port to inspect the state of
the node, this can be used to answer questions such as:
* What group members does this node know?
* What events are in this node's gossip graph?

See 'status --help' for the available commands.

Examples:
  # Inspect the agreed group members.
  hearsay status gossip group

  # Inspect the status of node 10.26.104.56:8002.
  hearsay status gossip group --node.url http://10.26.104.56:8002
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.PersistentFlags())

	c := client.NewClient(nil)

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := conf.Validate(); err != nil {
			fmt.Printf("config: %s\n", err.Error())
			os.Exit(1)
		}

		url, _ := url.Parse(conf.Node.URL)
		c.SetURL(url)
	}

	cmd.AddCommand(newGossipCommand(c))

	return cmd
}
