// Command quorumnode runs, or talks to, one participant of a
// multi-decree Paxos cluster.
package main

import "quorumnode/cmd/quorumnode/cmd"

func main() {
	cmd.Execute()
}
