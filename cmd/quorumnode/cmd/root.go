package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quorumnode",
	Short: "A multi-decree Paxos consensus node",
	Long:  `quorumnode runs, or talks to, one participant of a fixed-membership Paxos cluster.`,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
