package cli

import (
	"github.com/spf13/cobra"

	"github.com/hearsay-io/hearsay/cli/node"
	"github.com/hearsay-io/hearsay/cli/status"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "hearsay [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `Hearsay maintains an agreed view of group membership using a
gossip graph.

Each node records what it observes about the group (founding members,
additions, removals and detected failures) as hash linked events, gossips
those events to its peers, and derives the membership view every node
agrees on from the resulting causal history.

Start a node with:

  $ hearsay node

Bootstrap a new group with:

  $ hearsay node --cluster.bootstrap --cluster.node-id node-1 --cluster.members node-1,node-2,node-3
`,
	}

	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(status.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
