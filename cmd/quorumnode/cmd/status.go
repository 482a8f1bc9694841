package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"quorumnode/internal/config"
)

var statusConfigPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the latest status snapshot from a running node's dashboard",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(statusConfigPath)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		if cfg.DashboardAddr == "" {
			fmt.Println("Error: cluster config has no dashboardAddr, nothing to dial")
			os.Exit(1)
		}

		u := url.URL{Scheme: "ws", Host: cfg.DashboardAddr, Path: "/ws"}
		conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		defer conn.Close()

		_, message, err := conn.ReadMessage()
		if err != nil {
			fmt.Println("Error reading snapshot:", err)
			os.Exit(1)
		}
		fmt.Println(string(message))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "cluster.yaml", "path to the cluster YAML config")
}
