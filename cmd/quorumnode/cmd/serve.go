package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quorumnode/internal/admin"
	"quorumnode/internal/config"
	"quorumnode/internal/dashboard"
	"quorumnode/internal/node"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one Paxos node until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}

		n, err := node.New(cfg)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		n.SetOnFatal(func(err error) {
			fmt.Println("fatal storage fault:", err)
			os.Exit(1)
		})

		var dash *dashboard.Dashboard
		if cfg.DashboardAddr != "" {
			dash = dashboard.New(cfg.DashboardAddr)
			if err := dash.Start(); err != nil {
				fmt.Println("Error starting dashboard:", err)
				os.Exit(1)
			}
			defer dash.Stop()

			n.SetOnDecided(func(csn int64, value string) {
				// The observer runs while the state machine holds its
				// lock, and buildSnapshot reads back through it, so the
				// snapshot is built off this call stack.
				go func() { dash.Publish(buildSnapshot(n)) }()
			})
		}

		var adm *admin.Server
		if cfg.ControlAddr != "" {
			adm = admin.New(cfg.ControlAddr, n)
			if err := adm.Start(); err != nil {
				fmt.Println("Error starting admin endpoint:", err)
				os.Exit(1)
			}
			defer adm.Stop()
		}

		if err := n.Start(); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}

		if dash != nil {
			// Seed the dashboard with a snapshot and keep refreshing its
			// liveness table on a slow tick, since peer liveness updates
			// on every inbound message, not only on a learned slot.
			go func() {
				dash.Publish(buildSnapshot(n))
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for range ticker.C {
					dash.Publish(buildSnapshot(n))
				}
			}()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		n.Stop()
	},
}

func buildSnapshot(n *node.Node) dashboard.Snapshot {
	peers := make(map[int]int64, len(n.Peers()))
	for num, t := range n.LastSeen() {
		peers[num] = t.UnixMilli()
	}
	leader, hasLeader := n.Leader()
	return dashboard.Snapshot{
		Decided:   n.GetDecidedValues(),
		Peers:     peers,
		Leader:    leader.Num,
		HasLeader: hasLeader,
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "cluster.yaml", "path to the cluster YAML config")
}
